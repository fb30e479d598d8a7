package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/evalhub/examsession/internal/store"
)

// TimerState is the countdown lifecycle: Idle until Start, Running while
// ticking, Expired once the countdown hits zero. Expired is terminal.
type TimerState int

const (
	TimerIdle TimerState = iota
	TimerRunning
	TimerExpired
)

// Timer tracks the remaining time of one attempt. The start instant is
// persisted durably so a reload recomputes remaining time from wall-clock
// elapse rather than trusting the last countdown snapshot — closing the tab
// must not stop the clock.
type Timer struct {
	kv        store.KV
	startKey  string
	remainKey string
	duration  time.Duration
	interval  time.Duration
	now       func() time.Time
	onTick    func(remaining int)
	onExpire  func()
	log       zerolog.Logger

	mu         sync.Mutex
	state      TimerState
	remaining  int
	expireOnce sync.Once
}

// TimerOptions configures a Timer. Clock and Interval exist for tests;
// production uses time.Now and one-second ticks.
type TimerOptions struct {
	Store           store.KV
	StartKey        string
	RemainKey       string
	DurationMinutes int
	Clock           func() time.Time
	Interval        time.Duration
	OnTick          func(remaining int)
	OnExpire        func()
	Logger          zerolog.Logger
}

// NewTimer validates the duration and builds an idle timer.
func NewTimer(opts TimerOptions) (*Timer, error) {
	if opts.DurationMinutes <= 0 {
		return nil, fmt.Errorf("timer: duration must be a positive number of minutes, got %d", opts.DurationMinutes)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	return &Timer{
		kv:        opts.Store,
		startKey:  opts.StartKey,
		remainKey: opts.RemainKey,
		duration:  time.Duration(opts.DurationMinutes) * time.Minute,
		interval:  opts.Interval,
		now:       opts.Clock,
		onTick:    opts.OnTick,
		onExpire:  opts.OnExpire,
		log:       opts.Logger.With().Str("component", "timer").Logger(),
	}, nil
}

// Start transitions Idle to Running. If no persisted start marker exists for
// this attempt, the current instant is written; otherwise remaining time is
// recomputed as duration minus elapsed-since-start, clamped to zero.
func (t *Timer) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != TimerIdle {
		t.mu.Unlock()
		return errors.New("timer: already started")
	}

	raw, err := t.kv.Get(ctx, t.startKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		now := t.now()
		if err := t.kv.Set(ctx, t.startKey, strconv.FormatInt(now.Unix(), 10)); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("persist start marker: %w", err)
		}
		t.remaining = int(t.duration / time.Second)
		t.log.Info().Int("remaining", t.remaining).Msg("Countdown started")

	case err != nil:
		t.mu.Unlock()
		return fmt.Errorf("read start marker: %w", err)

	default:
		startUnix, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			t.mu.Unlock()
			return fmt.Errorf("invalid start marker %q: %w", raw, perr)
		}
		elapsed := t.now().Sub(time.Unix(startUnix, 0))
		left := t.duration - elapsed
		if left < 0 {
			left = 0
		}
		t.remaining = int(left / time.Second)
		t.log.Info().
			Int("remaining", t.remaining).
			Dur("elapsed", elapsed).
			Msg("Countdown resumed from persisted start")
	}

	t.state = TimerRunning
	expired := t.remaining == 0
	t.mu.Unlock()

	if expired {
		t.expire()
	}
	return nil
}

// Run ticks until the countdown expires or ctx is cancelled. Call in a
// goroutine after Start.
func (t *Timer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := t.tick(ctx); done {
				return
			}
		}
	}
}

// tick decrements and persists the countdown; returns true once expired.
func (t *Timer) tick(ctx context.Context) bool {
	t.mu.Lock()
	if t.state != TimerRunning {
		t.mu.Unlock()
		return true
	}

	t.remaining--
	if t.remaining <= 0 {
		t.remaining = 0
		t.state = TimerExpired
	}
	remaining := t.remaining
	expired := t.state == TimerExpired
	t.mu.Unlock()

	if err := t.kv.Set(ctx, t.remainKey, strconv.Itoa(remaining)); err != nil {
		t.log.Warn().Err(err).Msg("Failed to persist countdown snapshot")
	}
	if t.onTick != nil {
		t.onTick(remaining)
	}
	if expired {
		t.expire()
	}
	return expired
}

func (t *Timer) expire() {
	t.expireOnce.Do(func() {
		t.mu.Lock()
		t.state = TimerExpired
		t.remaining = 0
		t.mu.Unlock()

		t.log.Info().Msg("Countdown expired")
		if t.onExpire != nil {
			t.onExpire()
		}
	})
}

// Remaining returns the current countdown value in seconds.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// State returns the current lifecycle state.
func (t *Timer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Clear removes the persisted markers for this attempt. Called after the
// attempt is completed (normally or forced).
func (t *Timer) Clear(ctx context.Context) error {
	if err := t.kv.Delete(ctx, t.startKey, t.remainKey); err != nil {
		return fmt.Errorf("clear timer markers: %w", err)
	}
	return nil
}
