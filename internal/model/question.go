package model

import "github.com/google/uuid"

// Choice is one selectable option of a question. IsCorrect is populated on
// the authoritative pool only; it must never be rendered before submission.
type Choice struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"image_url,omitempty"`
	IsCorrect bool      `json:"is_correct"`
}

// Question is a single prompt with its choices. The JSON field for choices is
// "answers" to match the exam service's wire format.
type Question struct {
	ID       uuid.UUID `json:"id"`
	Content  string    `json:"content"`
	ImageURL string    `json:"image_url,omitempty"`
	Choices  []Choice  `json:"answers"`
}

// CorrectChoice returns the id of the correct choice, if the pool carries one.
func (q *Question) CorrectChoice() (uuid.UUID, bool) {
	for _, c := range q.Choices {
		if c.IsCorrect {
			return c.ID, true
		}
	}
	return uuid.Nil, false
}
