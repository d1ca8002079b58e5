package poll

import (
	"time"

	"golang.org/x/time/rate"
)

// ID identifies a registered poll. IDs are never reused by a Manager.
type ID uint32

// entry is the registry record of one poll. Every field is guarded by the
// Manager's registry lock.
type entry[T any] struct {
	id       ID
	enabled  bool
	running  bool
	interval time.Duration
	remove   bool

	callback   Sink[T]
	respondent Source[T]

	// restore* are set when the loop checks a callable out and cleared when a
	// caller supplies a fresh one, so the loop knows whether to put its copy back.
	restoreCallback   bool
	restoreRespondent bool

	iterations uint64
	failures   uint64
	lastRun    time.Time

	// failLog throttles panic logging for fast-failing polls.
	failLog *rate.Limiter
}

func newEntry[T any](id ID, cfg Config[T]) *entry[T] {
	e := &entry[T]{
		id:                id,
		enabled:           true,
		interval:          DefaultInterval,
		restoreCallback:   true,
		restoreRespondent: true,
		failLog:           rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
	e.update(cfg)
	return e
}

func (e *entry[T]) update(cfg Config[T]) {
	if cfg.Enabled != nil {
		e.enabled = *cfg.Enabled
	}
	if cfg.Interval != nil {
		e.interval = clampInterval(*cfg.Interval)
	}
	if cfg.Callback != nil {
		e.setCallback(cfg.Callback)
	}
	if cfg.Respondent != nil {
		e.setRespondent(cfg.Respondent)
	}
}

func (e *entry[T]) replace(cfg Config[T]) {
	e.enabled = true
	if cfg.Enabled != nil {
		e.enabled = *cfg.Enabled
	}
	e.interval = DefaultInterval
	if cfg.Interval != nil {
		e.interval = clampInterval(*cfg.Interval)
	}
	e.setCallback(cfg.Callback)
	e.setRespondent(cfg.Respondent)
}

func (e *entry[T]) setCallback(cb Sink[T]) {
	e.callback = cb
	e.restoreCallback = false
}

func (e *entry[T]) setRespondent(r Source[T]) {
	e.respondent = r
	e.restoreRespondent = false
}

func (e *entry[T]) info() Info {
	return Info{
		ID:             e.id,
		Enabled:        e.enabled,
		Running:        e.running,
		Interval:       e.interval,
		PendingRemoval: e.remove,
		HasCallback:    e.callback != nil || (e.running && e.restoreCallback),
		HasRespondent:  e.respondent != nil || (e.running && e.restoreRespondent),
		Iterations:     e.iterations,
		Failures:       e.failures,
		LastRun:        e.lastRun,
	}
}

func clampInterval(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
