package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evalhub/examsession/internal/config"
	"github.com/evalhub/examsession/internal/identity"
	"github.com/evalhub/examsession/internal/model"
	"github.com/evalhub/examsession/internal/store"
)

type fakeExamService struct {
	fakeAttemptAPI
	exam *model.ExamDefinition
	pool []model.Question

	mu       sync.Mutex
	attempts map[uuid.UUID]*model.Attempt
	existing *model.Attempt
}

func (f *fakeExamService) GetExam(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	if f.exam == nil || f.exam.ID != examID {
		return nil, errors.New("exam not found")
	}
	cp := *f.exam
	return &cp, nil
}

func (f *fakeExamService) GetQuestionPool(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	return append([]model.Question(nil), f.pool...), nil
}

func (f *fakeExamService) CreateAttempt(ctx context.Context, examID uuid.UUID) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existing != nil {
		cp := *f.existing
		return &cp, nil
	}
	a := &model.Attempt{ID: uuid.New(), ExamID: examID, Status: model.SessionStatusNotStarted}
	if f.attempts == nil {
		f.attempts = make(map[uuid.UUID]*model.Attempt)
	}
	f.attempts[a.ID] = a
	cp := *a
	return &cp, nil
}

func (f *fakeExamService) StartAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[attemptID]
	if !ok {
		return nil, errors.New("attempt not found")
	}
	now := time.Now()
	a.Status = model.SessionStatusInProgress
	a.StartedAt = &now
	cp := *a
	return &cp, nil
}

func testClaims() *identity.Claims {
	return &identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42"},
		TokenType:        identity.TokenTypeStudent,
		UserID:           42,
		Username:         "jdoe",
	}
}

func testPool(n int) []model.Question {
	ns := uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")
	pool := make([]model.Question, 0, n)
	for i := 0; i < n; i++ {
		q := model.Question{ID: uuid.NewSHA1(ns, []byte{'q', byte(i)}), Content: "q"}
		for c := 0; c < 4; c++ {
			q.Choices = append(q.Choices, model.Choice{
				ID:        uuid.NewSHA1(ns, []byte{'q', byte(i), 'c', byte(c)}),
				IsCorrect: c == 0,
			})
		}
		pool = append(pool, q)
	}
	return pool
}

func testService(now time.Time, poolSize, maxQuestions, durationMinutes int) *fakeExamService {
	return &fakeExamService{
		exam: &model.ExamDefinition{
			ID:              uuid.MustParse("0e6c8f40-17d8-4b3f-9b55-2f2c0a9a3f01"),
			Title:           "Midterm",
			StartAt:         now.Add(-time.Hour),
			DurationMinutes: durationMinutes,
			MaxQuestions:    maxQuestions,
			Status:          "ongoing",
		},
		pool: testPool(poolSize),
	}
}

func newTestController(t *testing.T, svc *fakeExamService, kv store.KV, now time.Time, hooks Hooks) *Controller {
	t.Helper()
	c, err := NewController(Options{
		API:            svc,
		Store:          kv,
		Claims:         testClaims(),
		ExamID:         svc.exam.ID,
		ViolationLimit: 3,
		Clock:          func() time.Time { return now },
		Hooks:          hooks,
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func TestControllerStartSelectsSubset(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	svc := testService(now, 10, 5, 30)
	kv := store.NewMemory()

	c := newTestController(t, svc, kv, now, Hooks{})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close(ctx)

	qs := c.Questions()
	if len(qs) != 5 {
		t.Fatalf("selected %d questions, want 5", len(qs))
	}

	// Same student, same exam, fresh controller over a fresh store: the
	// subset and its order must be identical.
	c2 := newTestController(t, svc, store.NewMemory(), now, Hooks{})
	if err := c2.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer c2.Close(ctx)

	qs2 := c2.Questions()
	for i := range qs {
		if qs[i].ID != qs2[i].ID {
			t.Fatalf("selection not deterministic at %d: %s vs %s", i, qs[i].ID, qs2[i].ID)
		}
	}

	st := c.State()
	if st.Status != model.SessionStatusInProgress {
		t.Fatalf("Status = %s, want in_progress", st.Status)
	}
	if st.RemainingSeconds != 30*60 {
		t.Fatalf("RemainingSeconds = %d, want 1800", st.RemainingSeconds)
	}
}

func TestControllerRejectsSecondTab(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	svc := testService(now, 4, 4, 30)
	kv := store.NewMemory()

	first := newTestController(t, svc, kv, now, Hooks{})
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Close(ctx)

	second := newTestController(t, svc, kv, now, Hooks{})
	if err := second.Start(ctx); !errors.Is(err, ErrSessionLocked) {
		t.Fatalf("second Start error = %v, want ErrSessionLocked", err)
	}

	// Closing the first controller releases the lock for a fresh one.
	first.Close(ctx)
	third := newTestController(t, svc, kv, now, Hooks{})
	if err := third.Start(ctx); err != nil {
		t.Fatalf("Start after Close: %v", err)
	}
	third.Close(ctx)
}

func TestControllerRejectsClosedOrUnopenedWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	svc := testService(now, 4, 4, 30)
	svc.exam.StartAt = now.Add(time.Hour)
	c := newTestController(t, svc, store.NewMemory(), now, Hooks{})
	if err := c.Start(ctx); !errors.Is(err, ErrExamNotOpen) {
		t.Fatalf("unopened exam error = %v, want ErrExamNotOpen", err)
	}

	svc = testService(now, 4, 4, 30)
	end := now.Add(-time.Minute)
	svc.exam.EndAt = &end
	c = newTestController(t, svc, store.NewMemory(), now, Hooks{})
	if err := c.Start(ctx); !errors.Is(err, ErrExamClosed) {
		t.Fatalf("closed exam error = %v, want ErrExamClosed", err)
	}
}

func TestControllerGraceForInProgressAttempt(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	svc := testService(now, 4, 4, 30)
	end := now.Add(-time.Minute)
	svc.exam.EndAt = &end
	started := now.Add(-20 * time.Minute)
	svc.existing = &model.Attempt{
		ID:        uuid.New(),
		ExamID:    svc.exam.ID,
		Status:    model.SessionStatusInProgress,
		StartedAt: &started,
	}

	c := newTestController(t, svc, store.NewMemory(), now, Hooks{})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("in-progress attempt past end must continue: %v", err)
	}
	c.Close(ctx)
}

func TestControllerNavigationAndAnswers(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	svc := testService(now, 6, 6, 30)

	var shown []int
	c := newTestController(t, svc, store.NewMemory(), now, Hooks{
		OnQuestionChanged: func(index int, q model.Question) { shown = append(shown, index) },
	})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close(ctx)

	c.Next()
	c.Next()
	c.Prev()
	if err := c.JumpTo(5); err != nil {
		t.Fatalf("JumpTo: %v", err)
	}
	if err := c.JumpTo(6); err == nil {
		t.Fatal("JumpTo past the end must fail")
	}
	c.Prev()

	want := []int{0, 1, 2, 1, 5, 4}
	if len(shown) != len(want) {
		t.Fatalf("shown = %v, want %v", shown, want)
	}
	for i := range want {
		if shown[i] != want[i] {
			t.Fatalf("shown = %v, want %v", shown, want)
		}
	}

	q, ok := c.CurrentQuestion()
	if !ok {
		t.Fatal("CurrentQuestion: no question")
	}
	if err := c.SetAnswer(q.ID, q.Choices[1].ID); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	answered, total := c.Progress()
	if answered != 1 || total != 6 {
		t.Fatalf("Progress = %d/%d, want 1/6", answered, total)
	}
}

func TestControllerSubmitCompletesAndClearsMarkers(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	svc := testService(now, 5, 5, 30)
	kv := store.NewMemory()

	var submitted *model.SubmissionResult
	c := newTestController(t, svc, kv, now, Hooks{
		OnSubmitted: func(r *model.SubmissionResult) { submitted = r },
	})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, q := range c.Questions() {
		if err := c.SetAnswer(q.ID, q.Choices[0].ID); err != nil {
			t.Fatalf("SetAnswer: %v", err)
		}
	}

	result, err := c.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !result.Completed || result.Submitted != 5 {
		t.Fatalf("result = %+v", result)
	}
	if submitted == nil {
		t.Fatal("OnSubmitted not fired")
	}
	if svc.completed != 1 {
		t.Fatalf("CompleteAttempt called %d times, want 1", svc.completed)
	}
	if got := c.State().Status; got != model.SessionStatusCompleted {
		t.Fatalf("Status = %s, want completed", got)
	}

	startKey := config.StorageKey.SessionStartKey(svc.exam.ID.String(), 42)
	if _, err := kv.Get(ctx, startKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("start marker survived completion: %v", err)
	}
	lockKey := config.StorageKey.SessionLockKey(svc.exam.ID.String(), 42)
	if _, err := kv.Get(ctx, lockKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("session lock survived completion: %v", err)
	}

	// A second submit after completion is a silent no-op for the caller.
	if _, err := c.Submit(ctx); !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("post-completion Submit error = %v, want ErrSubmissionInFlight", err)
	}
}

func TestControllerViolationLimitForcesSubmit(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	svc := testService(now, 10, 5, 30)

	var reasons []AutoSubmitReason
	var counts []int
	done := make(chan struct{}, 1)
	c := newTestController(t, svc, store.NewMemory(), now, Hooks{
		OnViolation:  func(count, limit int) { counts = append(counts, count) },
		OnAutoSubmit: func(reason AutoSubmitReason) { reasons = append(reasons, reason) },
		OnSubmitted: func(*model.SubmissionResult) {
			select {
			case done <- struct{}{}:
			default:
			}
		},
	})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close(ctx)

	qs := c.Questions()
	if len(qs) != 5 {
		t.Fatalf("selected %d questions, want 5", len(qs))
	}
	for _, q := range qs[:3] {
		if err := c.SetAnswer(q.ID, q.Choices[0].ID); err != nil {
			t.Fatalf("SetAnswer: %v", err)
		}
	}

	c.Report(EventHidden)
	c.Report(EventVisible)
	c.Report(EventHidden)
	c.Report(EventHidden)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("forced submission did not complete")
	}

	if len(reasons) != 1 || reasons[0] != AutoSubmitViolationLimit {
		t.Fatalf("auto-submit reasons = %v", reasons)
	}
	if len(counts) != 3 {
		t.Fatalf("violation callbacks = %v, want 3 entries", counts)
	}
	if svc.completed != 1 {
		t.Fatalf("CompleteAttempt called %d times, want 1", svc.completed)
	}
	if len(svc.submitted) != 3 {
		t.Fatalf("submitted %d answers, want the 3 recorded", len(svc.submitted))
	}

	// Violations past the limit never trigger a second pass.
	c.Report(EventHidden)
	if svc.completed != 1 {
		t.Fatalf("second forced pass ran, CompleteAttempt = %d", svc.completed)
	}
}

func TestControllerTimerExpiryForcesSubmit(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	svc := testService(now, 3, 3, 1)

	var reasons []AutoSubmitReason
	done := make(chan struct{}, 1)
	c, err := NewController(Options{
		API:          svc,
		Store:        store.NewMemory(),
		Claims:       testClaims(),
		ExamID:       svc.exam.ID,
		TickInterval: time.Millisecond,
		Clock:        func() time.Time { return now },
		Logger:       zerolog.Nop(),
		Hooks: Hooks{
			OnAutoSubmit: func(reason AutoSubmitReason) { reasons = append(reasons, reason) },
			OnSubmitted: func(*model.SubmissionResult) {
				select {
				case done <- struct{}{}:
				default:
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close(ctx)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timer expiry did not force a submission")
	}

	if len(reasons) != 1 || reasons[0] != AutoSubmitTimerExpired {
		t.Fatalf("auto-submit reasons = %v", reasons)
	}
	if svc.completed != 1 {
		t.Fatalf("CompleteAttempt called %d times, want 1", svc.completed)
	}
	if got := c.State().Status; got != model.SessionStatusCompleted {
		t.Fatalf("Status = %s, want completed", got)
	}
}

func TestControllerResumeRecomputesRemaining(t *testing.T) {
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)
	svc := testService(start, 5, 5, 30)
	kv := store.NewMemory()

	first := newTestController(t, svc, kv, start, Hooks{})
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	// Tab closes without submitting; the lock goes away, the markers stay.
	first.Close(ctx)

	resumed := time.Unix(1_700_000_000+600, 0)
	second := newTestController(t, svc, kv, resumed, Hooks{})
	if err := second.Start(ctx); err != nil {
		t.Fatalf("resume Start: %v", err)
	}
	defer second.Close(ctx)

	if got := second.State().RemainingSeconds; got != 30*60-600 {
		t.Fatalf("RemainingSeconds after resume = %d, want %d", got, 30*60-600)
	}
}
