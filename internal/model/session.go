package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates attempt lifecycle states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "not_started"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
)

// Attempt is one student's attempt at one exam, as tracked by the exam service.
type Attempt struct {
	ID         uuid.UUID     `json:"id"`
	ExamID     uuid.UUID     `json:"exam_id"`
	StudentID  int           `json:"student_id"`
	Status     SessionStatus `json:"status"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// AnswerRecord maps a question to the student's chosen option. IsCorrect is
// evaluated locally against the fetched pool; authoritative grading stays with
// the exam service.
type AnswerRecord struct {
	QuestionID uuid.UUID `json:"question_id"`
	ChoiceID   uuid.UUID `json:"answer_id"`
	IsCorrect  bool      `json:"is_correct"`
}

// SessionState is the controller-owned snapshot rendered by the page shell.
type SessionState struct {
	AttemptID        uuid.UUID                   `json:"attempt_id"`
	ExamID           uuid.UUID                   `json:"exam_id"`
	StudentID        int                         `json:"student_id"`
	Status           SessionStatus               `json:"status"`
	RemainingSeconds int                         `json:"remaining_seconds"`
	ViolationCount   int                         `json:"violation_count"`
	CurrentIndex     int                         `json:"current_index"`
	Answers          map[uuid.UUID]AnswerRecord  `json:"answers"`
}

// AnswerOutcome is the per-question result of one submission pass.
type AnswerOutcome struct {
	QuestionID uuid.UUID
	Err        error
}

// SubmissionResult summarizes one submission pass: how many answer records
// reached the service, and whether the attempt was marked complete.
type SubmissionResult struct {
	AttemptID uuid.UUID
	Submitted int
	Failed    int
	Completed bool
	Outcomes  []AnswerOutcome
}
