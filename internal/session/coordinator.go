package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evalhub/examsession/internal/model"
	"github.com/evalhub/examsession/internal/store"
)

// ErrSubmissionInFlight is returned when Submit is called while an earlier
// submission is still running or has already completed the attempt. Callers
// treat it as a silent no-op, not a user-facing failure.
var ErrSubmissionInFlight = errors.New("session: submission already in progress or completed")

// AttemptAPI is the slice of the exam service the coordinator needs.
type AttemptAPI interface {
	SubmitAnswer(ctx context.Context, attemptID uuid.UUID, rec model.AnswerRecord) error
	CompleteAttempt(ctx context.Context, attemptID uuid.UUID) error
}

// Coordinator drives the submit sequence: push every recorded answer, and
// only after all of them have landed mark the attempt complete. Marking
// completion with answers still un-persisted would silently lose data on a
// degraded network, so "all answers persisted" is a hard precondition.
type Coordinator struct {
	api        AttemptAPI
	kv         store.KV
	markerKeys []string
	log        zerolog.Logger

	mu        sync.Mutex
	inFlight  bool
	completed bool
}

// NewCoordinator builds a coordinator that clears markerKeys from kv once the
// attempt is completed.
func NewCoordinator(api AttemptAPI, kv store.KV, markerKeys []string, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		api:        api,
		kv:         kv,
		markerKeys: markerKeys,
		log:        log.With().Str("component", "submission_coordinator").Logger(),
	}
}

// Submit runs one submission pass. Answer calls are dispatched concurrently
// and joined; any failure aborts before completion-marking and leaves local
// state intact so a retry loses nothing. Re-entrant calls while a pass is in
// flight — or after completion — return ErrSubmissionInFlight.
func (co *Coordinator) Submit(ctx context.Context, attemptID uuid.UUID, answers []model.AnswerRecord) (*model.SubmissionResult, error) {
	co.mu.Lock()
	if co.inFlight || co.completed {
		co.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	co.inFlight = true
	co.mu.Unlock()

	defer func() {
		co.mu.Lock()
		co.inFlight = false
		co.mu.Unlock()
	}()

	result := &model.SubmissionResult{
		AttemptID: attemptID,
		Outcomes:  make([]model.AnswerOutcome, len(answers)),
	}

	var wg sync.WaitGroup
	for i, rec := range answers {
		wg.Add(1)
		go func(i int, rec model.AnswerRecord) {
			defer wg.Done()
			err := co.api.SubmitAnswer(ctx, attemptID, rec)
			result.Outcomes[i] = model.AnswerOutcome{QuestionID: rec.QuestionID, Err: err}
		}(i, rec)
	}
	wg.Wait()

	var errs []error
	for _, o := range result.Outcomes {
		if o.Err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("question %s: %w", o.QuestionID, o.Err))
		} else {
			result.Submitted++
		}
	}

	if len(errs) > 0 {
		co.log.Error().
			Int("failed", result.Failed).
			Int("submitted", result.Submitted).
			Msg("Answer submission failed, attempt left open for retry")
		return result, fmt.Errorf("submit answers: %w", errors.Join(errs...))
	}

	if err := co.api.CompleteAttempt(ctx, attemptID); err != nil {
		return result, fmt.Errorf("complete attempt: %w", err)
	}
	result.Completed = true

	co.mu.Lock()
	co.completed = true
	co.mu.Unlock()

	if err := co.kv.Delete(ctx, co.markerKeys...); err != nil {
		// The attempt is complete server-side; stale markers only cost a
		// harmless lock until they are overwritten.
		co.log.Warn().Err(err).Msg("Failed to clear session markers")
	}

	co.log.Info().
		Int("submitted", result.Submitted).
		Str("attempt_id", attemptID.String()).
		Msg("Attempt completed")

	return result, nil
}

// Completed reports whether a submission pass has finished successfully.
func (co *Coordinator) Completed() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.completed
}
