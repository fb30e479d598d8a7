package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/evalhub/examsession/internal/model"
)

// Ledger holds the student's answers for the selected subset. One choice per
// question: setting an answer again overwrites the previous one. Correctness
// is evaluated locally against the fetched pool for summary display only —
// authoritative grading belongs to the exam service.
type Ledger struct {
	mu      sync.RWMutex
	answers map[uuid.UUID]model.AnswerRecord
	correct map[uuid.UUID]uuid.UUID
	choices map[uuid.UUID]map[uuid.UUID]bool
	total   int
}

// NewLedger indexes the selected subset for answer validation.
func NewLedger(questions []model.Question) *Ledger {
	l := &Ledger{
		answers: make(map[uuid.UUID]model.AnswerRecord, len(questions)),
		correct: make(map[uuid.UUID]uuid.UUID, len(questions)),
		choices: make(map[uuid.UUID]map[uuid.UUID]bool, len(questions)),
		total:   len(questions),
	}
	for _, q := range questions {
		valid := make(map[uuid.UUID]bool, len(q.Choices))
		for _, c := range q.Choices {
			valid[c.ID] = true
		}
		l.choices[q.ID] = valid
		if id, ok := q.CorrectChoice(); ok {
			l.correct[q.ID] = id
		}
	}
	return l
}

// Set upserts the answer for a question. Unknown questions or choices are
// rejected so stray input cannot corrupt the submission payload.
func (l *Ledger) Set(questionID, choiceID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid, ok := l.choices[questionID]
	if !ok {
		return fmt.Errorf("ledger: question %s is not part of this session", questionID)
	}
	if !valid[choiceID] {
		return fmt.Errorf("ledger: choice %s does not belong to question %s", choiceID, questionID)
	}

	l.answers[questionID] = model.AnswerRecord{
		QuestionID: questionID,
		ChoiceID:   choiceID,
		IsCorrect:  l.correct[questionID] == choiceID,
	}
	return nil
}

// IsAnswered reports whether the question has a recorded choice.
func (l *Ledger) IsAnswered(questionID uuid.UUID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.answers[questionID]
	return ok
}

// Progress returns how many of the session's questions are answered.
func (l *Ledger) Progress() (answered, total int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.answers), l.total
}

// Snapshot returns the recorded answers in a stable order for submission.
func (l *Ledger) Snapshot() []model.AnswerRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.AnswerRecord, 0, len(l.answers))
	for _, rec := range l.answers {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QuestionID.String() < out[j].QuestionID.String()
	})
	return out
}

// Answers returns a copy of the answer map for state snapshots.
func (l *Ledger) Answers() map[uuid.UUID]model.AnswerRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[uuid.UUID]model.AnswerRecord, len(l.answers))
	for k, v := range l.answers {
		out[k] = v
	}
	return out
}
