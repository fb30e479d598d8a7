package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evalhub/examsession/internal/config"
	"github.com/evalhub/examsession/internal/identity"
	"github.com/evalhub/examsession/internal/model"
	"github.com/evalhub/examsession/internal/selector"
	"github.com/evalhub/examsession/internal/store"
)

// Setup failures. All of them block session creation; none of them create
// server-side state.
var (
	ErrIdentityRequired = errors.New("session: student identity required")
	ErrExamNotOpen      = errors.New("session: exam has not opened yet")
	ErrExamClosed       = errors.New("session: exam window has closed")
	ErrSessionLocked    = errors.New("session: exam is already open in another session")
	ErrNotStarted       = errors.New("session: controller not started")
)

// AutoSubmitReason tells the shell why a forced submission fired.
type AutoSubmitReason string

const (
	AutoSubmitTimerExpired   AutoSubmitReason = "timer_expired"
	AutoSubmitViolationLimit AutoSubmitReason = "violation_limit"
)

// ExamAPI is the full exam-service surface the controller consumes.
type ExamAPI interface {
	AttemptAPI
	GetExam(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
	GetQuestionPool(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	CreateAttempt(ctx context.Context, examID uuid.UUID) (*model.Attempt, error)
	StartAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error)
}

// Hooks are the controller's observable surface. The page shell renders from
// these; all hooks may be nil. Hooks are invoked from timer and monitor
// goroutines — shells that touch UI state must serialize themselves.
type Hooks struct {
	OnQuestionChanged func(index int, q model.Question)
	OnTick            func(remainingSeconds int)
	OnViolation       func(count, limit int)
	OnAutoSubmit      func(reason AutoSubmitReason)
	OnSubmitted       func(result *model.SubmissionResult)
	OnError           func(err error)
}

// Options wires a Controller. API, Store, Claims and ExamID are required.
type Options struct {
	API            ExamAPI
	Store          store.KV
	Claims         *identity.Claims
	ExamID         uuid.UUID
	ViolationLimit int
	TickInterval   time.Duration
	Clock          func() time.Time
	Hooks          Hooks
	Logger         zerolog.Logger
}

// Controller owns one student's attempt at one exam from start to
// submission. All mutable session state lives here, guarded by a single
// mutex; timer and monitor call in as independent observers.
type Controller struct {
	api    ExamAPI
	kv     store.KV
	claims *identity.Claims
	examID uuid.UUID
	hooks  Hooks
	clock  func() time.Time
	log    zerolog.Logger

	violationLimit int
	tickInterval   time.Duration

	mu        sync.Mutex
	started   bool
	exam      *model.ExamDefinition
	attempt   *model.Attempt
	questions []model.Question
	current   int
	status    model.SessionStatus

	ledger      *Ledger
	timer       *Timer
	monitor     *Monitor
	coordinator *Coordinator

	lockKey string
	cancel  context.CancelFunc
	runCtx  context.Context
}

// NewController validates options and builds an unstarted controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Claims == nil {
		return nil, ErrIdentityRequired
	}
	if opts.API == nil || opts.Store == nil {
		return nil, errors.New("session: API and Store are required")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}

	return &Controller{
		api:            opts.API,
		kv:             opts.Store,
		claims:         opts.Claims,
		examID:         opts.ExamID,
		hooks:          opts.Hooks,
		clock:          opts.Clock,
		violationLimit: opts.ViolationLimit,
		tickInterval:   opts.TickInterval,
		status:         model.SessionStatusNotStarted,
		log: opts.Logger.With().
			Str("component", "session_controller").
			Str("exam_id", opts.ExamID.String()).
			Int("student_id", opts.Claims.UserID).
			Logger(),
	}, nil
}

// Start fetches the exam and pool, creates/starts the remote attempt, selects
// the per-student subset, and reconciles the timer with persisted markers.
// The controller runs until ctx is cancelled, Close is called, or the attempt
// completes.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("session: already started")
	}
	c.started = true
	c.mu.Unlock()

	studentID := c.claims.UserID
	examKey := c.examID.String()
	c.lockKey = config.StorageKey.SessionLockKey(examKey, studentID)

	// Cross-tab guard: exactly one live controller per (student, exam).
	acquired, err := c.kv.SetNX(ctx, c.lockKey, strconv.FormatInt(c.clock().Unix(), 10))
	if err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	if !acquired {
		return ErrSessionLocked
	}

	exam, err := c.api.GetExam(ctx, c.examID)
	if err != nil {
		c.releaseLock(ctx)
		return fmt.Errorf("fetch exam: %w", err)
	}

	now := c.clock()
	if exam.Window(now) == model.WindowNotOpen {
		c.releaseLock(ctx)
		return ErrExamNotOpen
	}

	attempt, err := c.api.CreateAttempt(ctx, c.examID)
	if err != nil {
		c.releaseLock(ctx)
		return fmt.Errorf("create attempt: %w", err)
	}

	// Grace allowance: a session the server still reports in_progress may
	// continue past the scheduled end, tolerating client/server clock skew.
	if exam.Window(now) == model.WindowClosed && attempt.Status != model.SessionStatusInProgress {
		c.releaseLock(ctx)
		return ErrExamClosed
	}

	if attempt.Status != model.SessionStatusInProgress {
		attempt, err = c.api.StartAttempt(ctx, attempt.ID)
		if err != nil {
			c.releaseLock(ctx)
			return fmt.Errorf("start attempt: %w", err)
		}
	}

	pool, err := c.api.GetQuestionPool(ctx, c.examID)
	if err != nil {
		c.releaseLock(ctx)
		return fmt.Errorf("fetch question pool: %w", err)
	}

	seed := c.claims.ShuffleSeed(c.examID)
	questions := selector.Select(pool, exam.MaxQuestions, seed)
	if len(questions) == 0 {
		c.log.Warn().Msg("Question pool is empty — no questions available")
	}

	timer, err := NewTimer(TimerOptions{
		Store:           c.kv,
		StartKey:        config.StorageKey.SessionStartKey(examKey, studentID),
		RemainKey:       config.StorageKey.RemainingSecondsKey(examKey, studentID),
		DurationMinutes: exam.DurationMinutes,
		Clock:           c.clock,
		Interval:        c.tickInterval,
		OnTick:          c.hooks.OnTick,
		OnExpire:        func() { c.autoSubmit(AutoSubmitTimerExpired) },
		Logger:          c.log,
	})
	if err != nil {
		c.releaseLock(ctx)
		return err
	}

	monitor := NewMonitor(MonitorOptions{
		Limit:           c.violationLimit,
		OnViolation:     c.hooks.OnViolation,
		OnLimitExceeded: func() { c.autoSubmit(AutoSubmitViolationLimit) },
		Logger:          c.log,
	})

	markerKeys := []string{
		config.StorageKey.SessionStartKey(examKey, studentID),
		config.StorageKey.RemainingSecondsKey(examKey, studentID),
		c.lockKey,
	}
	coordinator := NewCoordinator(c.api, c.kv, markerKeys, c.log)

	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.exam = exam
	c.attempt = attempt
	c.questions = questions
	c.ledger = NewLedger(questions)
	c.timer = timer
	c.monitor = monitor
	c.coordinator = coordinator
	c.status = model.SessionStatusInProgress
	c.current = 0
	c.runCtx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	if err := timer.Start(ctx); err != nil {
		c.releaseLock(ctx)
		cancel()
		return err
	}
	go timer.Run(runCtx)

	c.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Int("questions", len(questions)).
		Int("remaining", timer.Remaining()).
		Msg("Session started")

	c.fireQuestionChanged()
	return nil
}

// Report feeds a visibility transition from the shell or proctor feed.
func (c *Controller) Report(ev VisibilityEvent) {
	c.mu.Lock()
	monitor := c.monitor
	c.mu.Unlock()
	if monitor != nil {
		monitor.Report(ev)
	}
}

// SetAnswer records the student's choice for a question.
func (c *Controller) SetAnswer(questionID, choiceID uuid.UUID) error {
	c.mu.Lock()
	ledger := c.ledger
	c.mu.Unlock()
	if ledger == nil {
		return ErrNotStarted
	}
	return ledger.Set(questionID, choiceID)
}

// Next moves to the following question, if any.
func (c *Controller) Next() { c.jump(+1) }

// Prev moves to the preceding question, if any.
func (c *Controller) Prev() { c.jump(-1) }

func (c *Controller) jump(delta int) {
	c.mu.Lock()
	idx := c.current + delta
	if idx < 0 || idx >= len(c.questions) {
		c.mu.Unlock()
		return
	}
	c.current = idx
	c.mu.Unlock()
	c.fireQuestionChanged()
}

// JumpTo selects a question by index in the selected subset.
func (c *Controller) JumpTo(index int) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.questions) {
		n := len(c.questions)
		c.mu.Unlock()
		return fmt.Errorf("session: question index %d out of range [0,%d)", index, n)
	}
	c.current = index
	c.mu.Unlock()
	c.fireQuestionChanged()
	return nil
}

// CurrentQuestion returns the question under the cursor.
func (c *Controller) CurrentQuestion() (model.Question, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.questions) == 0 {
		return model.Question{}, false
	}
	return c.questions[c.current], true
}

// Questions returns the selected subset in session order.
func (c *Controller) Questions() []model.Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Question, len(c.questions))
	copy(out, c.questions)
	return out
}

// Exam returns the fetched definition, nil before Start.
func (c *Controller) Exam() *model.ExamDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exam
}

// Progress reports answered/total for the selected subset.
func (c *Controller) Progress() (answered, total int) {
	c.mu.Lock()
	ledger := c.ledger
	c.mu.Unlock()
	if ledger == nil {
		return 0, 0
	}
	return ledger.Progress()
}

// State assembles a render-ready snapshot for the shell.
func (c *Controller) State() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := model.SessionState{
		ExamID:       c.examID,
		StudentID:    c.claims.UserID,
		Status:       c.status,
		CurrentIndex: c.current,
	}
	if c.attempt != nil {
		st.AttemptID = c.attempt.ID
	}
	if c.timer != nil {
		st.RemainingSeconds = c.timer.Remaining()
	}
	if c.monitor != nil {
		st.ViolationCount = c.monitor.Count()
	}
	if c.ledger != nil {
		st.Answers = c.ledger.Answers()
	}
	return st
}

// Submit flushes the ledger and marks the attempt complete. Safe to call from
// the shell, the timer, and the monitor concurrently: only the first call
// proceeds, the rest observe ErrSubmissionInFlight.
func (c *Controller) Submit(ctx context.Context) (*model.SubmissionResult, error) {
	c.mu.Lock()
	coordinator, ledger, attempt := c.coordinator, c.ledger, c.attempt
	c.mu.Unlock()
	if coordinator == nil || attempt == nil {
		return nil, ErrNotStarted
	}

	result, err := coordinator.Submit(ctx, attempt.ID, ledger.Snapshot())
	if err != nil {
		return result, err
	}

	c.mu.Lock()
	c.status = model.SessionStatusCompleted
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel() // Stop the timer; markers are already cleared.
	}

	if c.hooks.OnSubmitted != nil {
		c.hooks.OnSubmitted(result)
	}
	return result, nil
}

// autoSubmit is the forced-submission path shared by timer expiry and the
// violation limit.
func (c *Controller) autoSubmit(reason AutoSubmitReason) {
	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	c.log.Warn().Str("reason", string(reason)).Msg("Forced submission triggered")
	if c.hooks.OnAutoSubmit != nil {
		c.hooks.OnAutoSubmit(reason)
	}

	// The run context dies with the session; submission must outlive it.
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if _, err := c.Submit(submitCtx); err != nil && !errors.Is(err, ErrSubmissionInFlight) {
		c.reportError(fmt.Errorf("auto submit (%s): %w", reason, err))
	}
}

// Close tears the controller down without completing the attempt: the timer
// stops and the cross-tab lock is released, but start/countdown markers stay
// so a fresh controller resumes where this one left off.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	cancel := c.cancel
	completed := c.status == model.SessionStatusCompleted
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !completed {
		c.releaseLock(ctx)
	}
}

func (c *Controller) releaseLock(ctx context.Context) {
	if c.lockKey == "" {
		return
	}
	if err := c.kv.Delete(ctx, c.lockKey); err != nil {
		c.log.Warn().Err(err).Msg("Failed to release session lock")
	}
}

func (c *Controller) fireQuestionChanged() {
	if c.hooks.OnQuestionChanged == nil {
		return
	}
	c.mu.Lock()
	idx := c.current
	var q model.Question
	ok := len(c.questions) > 0
	if ok {
		q = c.questions[idx]
	}
	c.mu.Unlock()
	if ok {
		c.hooks.OnQuestionChanged(idx, q)
	}
}

func (c *Controller) reportError(err error) {
	c.log.Error().Err(err).Msg("Session error")
	if c.hooks.OnError != nil {
		c.hooks.OnError(err)
	}
}
