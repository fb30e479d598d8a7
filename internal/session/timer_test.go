package session

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/evalhub/examsession/internal/store"
)

func newTestTimer(t *testing.T, kv store.KV, minutes int, clock func() time.Time, onExpire func()) *Timer {
	t.Helper()
	tm, err := NewTimer(TimerOptions{
		Store:           kv,
		StartKey:        "test:session_start",
		RemainKey:       "test:remaining_seconds",
		DurationMinutes: minutes,
		Clock:           clock,
		Interval:        time.Millisecond,
		OnExpire:        onExpire,
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewTimer: %v", err)
	}
	return tm
}

func TestTimerFreshStartPersistsMarker(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	now := time.Unix(1_700_000_000, 0)

	tm := newTestTimer(t, kv, 2, func() time.Time { return now }, nil)
	if err := tm.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := tm.Remaining(); got != 120 {
		t.Fatalf("Remaining = %d, want 120", got)
	}
	raw, err := kv.Get(ctx, "test:session_start")
	if err != nil {
		t.Fatalf("start marker not persisted: %v", err)
	}
	if raw != strconv.FormatInt(now.Unix(), 10) {
		t.Fatalf("start marker = %q, want %d", raw, now.Unix())
	}
}

func TestTimerResumesFromPersistedStart(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	start := time.Unix(1_700_000_000, 0)
	now := start.Add(30 * time.Second)

	if err := kv.Set(ctx, "test:session_start", strconv.FormatInt(start.Unix(), 10)); err != nil {
		t.Fatalf("seed start marker: %v", err)
	}

	tm := newTestTimer(t, kv, 1, func() time.Time { return now }, nil)
	if err := tm.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := tm.Remaining(); got != 30 {
		t.Fatalf("Remaining = %d, want 30", got)
	}
}

func TestTimerExpiresImmediatelyWhenElapsed(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	start := time.Unix(1_700_000_000, 0)
	now := start.Add(2 * time.Hour)

	if err := kv.Set(ctx, "test:session_start", strconv.FormatInt(start.Unix(), 10)); err != nil {
		t.Fatalf("seed start marker: %v", err)
	}

	expired := 0
	tm := newTestTimer(t, kv, 1, func() time.Time { return now }, func() { expired++ })
	if err := tm.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if tm.State() != TimerExpired {
		t.Fatalf("State = %v, want TimerExpired", tm.State())
	}
	if tm.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", tm.Remaining())
	}
	if expired != 1 {
		t.Fatalf("onExpire fired %d times, want 1", expired)
	}
}

func TestTimerExpiresExactlyOnce(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	now := time.Unix(1_700_000_000, 0)

	expired := 0
	tm := newTestTimer(t, kv, 1, func() time.Time { return now }, func() { expired++ })
	if err := tm.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Drive past the full countdown; extra ticks after expiry must not
	// re-fire the callback.
	for i := 0; i < 65; i++ {
		tm.tick(ctx)
	}

	if expired != 1 {
		t.Fatalf("onExpire fired %d times, want 1", expired)
	}
	if tm.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", tm.Remaining())
	}

	raw, err := kv.Get(ctx, "test:remaining_seconds")
	if err != nil {
		t.Fatalf("countdown snapshot not persisted: %v", err)
	}
	if raw != "0" {
		t.Fatalf("persisted snapshot = %q, want \"0\"", raw)
	}
}

func TestTimerTickPersistsSnapshot(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	now := time.Unix(1_700_000_000, 0)

	var ticks []int
	tm, err := NewTimer(TimerOptions{
		Store:           kv,
		StartKey:        "test:session_start",
		RemainKey:       "test:remaining_seconds",
		DurationMinutes: 1,
		Clock:           func() time.Time { return now },
		OnTick:          func(remaining int) { ticks = append(ticks, remaining) },
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewTimer: %v", err)
	}
	if err := tm.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tm.tick(ctx)
	tm.tick(ctx)
	tm.tick(ctx)

	if len(ticks) != 3 || ticks[0] != 59 || ticks[2] != 57 {
		t.Fatalf("ticks = %v, want [59 58 57]", ticks)
	}
	raw, err := kv.Get(ctx, "test:remaining_seconds")
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if raw != "57" {
		t.Fatalf("snapshot = %q, want \"57\"", raw)
	}
}

func TestTimerRejectsNonPositiveDuration(t *testing.T) {
	_, err := NewTimer(TimerOptions{
		Store:           store.NewMemory(),
		StartKey:        "k1",
		RemainKey:       "k2",
		DurationMinutes: 0,
		Logger:          zerolog.Nop(),
	})
	if err == nil {
		t.Fatal("expected error for zero duration")
	}
}

func TestTimerClearRemovesMarkers(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	now := time.Unix(1_700_000_000, 0)

	tm := newTestTimer(t, kv, 1, func() time.Time { return now }, nil)
	if err := tm.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tm.tick(ctx)

	if err := tm.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := kv.Get(ctx, "test:session_start"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("start marker still present after Clear: %v", err)
	}
	if _, err := kv.Get(ctx, "test:remaining_seconds"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("countdown snapshot still present after Clear: %v", err)
	}
}
