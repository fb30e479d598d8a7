package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamDefinition is the immutable description of an exam as served by the
// exam service. It is fetched once at session start and never mutated.
type ExamDefinition struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	StartAt         time.Time  `json:"start_datetime"`
	EndAt           *time.Time `json:"end_datetime,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	MaxMarks        float64    `json:"max_marks"`
	MaxQuestions    int        `json:"max_questions"`
	CourseID        *uuid.UUID `json:"course_id,omitempty"`
	Status          string     `json:"status"`
}

// ExamWindow classifies a point in time against the exam schedule.
type ExamWindow int

const (
	WindowNotOpen ExamWindow = iota
	WindowOpen
	WindowClosed
)

// Window reports whether now falls before, inside, or after the exam's
// scheduled window. An exam with no end instant never closes.
func (e *ExamDefinition) Window(now time.Time) ExamWindow {
	if now.Before(e.StartAt) {
		return WindowNotOpen
	}
	if e.EndAt != nil && now.After(*e.EndAt) {
		return WindowClosed
	}
	return WindowOpen
}

// ExamResult is the server-computed aggregate for one completed attempt.
type ExamResult struct {
	AttemptID     uuid.UUID  `json:"attempt_id"`
	AttemptNumber int        `json:"attempt_number"`
	Score         float64    `json:"score"`
	MaxMarks      float64    `json:"max_marks"`
	Correct       int        `json:"correct_answers"`
	Wrong         int        `json:"wrong_answers"`
	Unanswered    int        `json:"unanswered"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
