package session

import (
	"sync"

	"github.com/rs/zerolog"
)

// VisibilityEvent is a page-visibility transition reported by the shell.
type VisibilityEvent string

const (
	EventHidden    VisibilityEvent = "visibility_hidden"
	EventVisible   VisibilityEvent = "visibility_visible"
	EventFocusLost VisibilityEvent = "focus_lost"
)

// DefaultViolationLimit forces auto-submission after this many violations
// when no explicit limit is configured.
const DefaultViolationLimit = 3

// Monitor counts integrity violations. Hidden and focus-loss transitions
// count; the transition back to visible never does. Reaching the limit fires
// OnLimitExceeded exactly once, no matter how many events follow.
type Monitor struct {
	limit           int
	onViolation     func(count, limit int)
	onLimitExceeded func()
	log             zerolog.Logger

	mu        sync.Mutex
	count     int
	limitOnce sync.Once
}

// MonitorOptions configures a Monitor. A non-positive Limit falls back to
// DefaultViolationLimit.
type MonitorOptions struct {
	Limit           int
	OnViolation     func(count, limit int)
	OnLimitExceeded func()
	Logger          zerolog.Logger
}

func NewMonitor(opts MonitorOptions) *Monitor {
	if opts.Limit <= 0 {
		opts.Limit = DefaultViolationLimit
	}
	return &Monitor{
		limit:           opts.Limit,
		onViolation:     opts.OnViolation,
		onLimitExceeded: opts.OnLimitExceeded,
		log:             opts.Logger.With().Str("component", "integrity_monitor").Logger(),
	}
}

// Report feeds one visibility transition into the monitor.
func (m *Monitor) Report(ev VisibilityEvent) {
	if ev == EventVisible {
		return
	}

	m.mu.Lock()
	m.count++
	count := m.count
	m.mu.Unlock()

	m.log.Warn().
		Str("event", string(ev)).
		Int("count", count).
		Int("limit", m.limit).
		Msg("Integrity violation recorded")

	if m.onViolation != nil {
		m.onViolation(count, m.limit)
	}
	if count >= m.limit {
		m.limitOnce.Do(func() {
			if m.onLimitExceeded != nil {
				m.onLimitExceeded()
			}
		})
	}
}

// Count returns the violations recorded so far.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Limit returns the configured violation limit.
func (m *Monitor) Limit() int { return m.limit }
