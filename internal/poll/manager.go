package poll

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"pollkit/internal/eventbus"
	"pollkit/internal/pool"
	logx "pollkit/pkg/logx"
)

// Manager owns a registry of polls and the pool their loops run on.
//
// A *Manager is safe for concurrent use and is meant to be shared: respondents
// and callbacks may capture it and call any method, including StopPolling and
// AddPoll, without deadlocking.
type Manager[T any] struct {
	log logx.Logger
	bus eventbus.Bus

	pool     *pool.Pool
	ownsPool bool

	mu    sync.Mutex
	polls map[ID]*entry[T]

	polling atomic.Bool
	closed  atomic.Bool
	nextID  atomic.Uint32

	done      chan struct{}
	closeOnce sync.Once
}

// Info is a point-in-time view of one poll. It never exposes the callables.
type Info struct {
	ID             ID            `json:"id"`
	Enabled        bool          `json:"enabled"`
	Running        bool          `json:"running"`
	Interval       time.Duration `json:"interval"`
	PendingRemoval bool          `json:"pending_removal"`
	HasCallback    bool          `json:"has_callback"`
	HasRespondent  bool          `json:"has_respondent"`
	Iterations     uint64        `json:"iterations"`
	Failures       uint64        `json:"failures"`
	LastRun        time.Time     `json:"last_run"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Polling bool          `json:"polling"`
	Polls   []Info        `json:"polls"`
	Pool    pool.Snapshot `json:"pool"`
}

// New creates a Manager with an empty registry. Unless WithPool is given, it
// owns a pool sized to the number of available CPUs.
func New[T any](opts ...Option) *Manager[T] {
	o := options{name: "poll"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.bus == nil {
		o.bus = eventbus.Nop()
	}
	m := &Manager[T]{
		log:   o.log,
		bus:   o.bus,
		pool:  o.pool,
		polls: make(map[ID]*entry[T]),
		done:  make(chan struct{}),
	}
	if m.pool == nil {
		m.pool = pool.New(pool.Config{Name: o.name, Workers: o.workers}, o.log, o.bus)
		m.ownsPool = true
	}
	return m
}

// StartPolling enables every registered poll and schedules its loop. Only the
// caller that flips the manager from stopped to polling does any work. It is
// a no-op after Close.
func (m *Manager[T]) StartPolling() {
	if m.closed.Load() {
		m.log.Warn("start polling ignored: manager closed")
		return
	}
	if !m.polling.CompareAndSwap(false, true) {
		return
	}

	var ids, dropped []ID
	m.mu.Lock()
	for id, e := range m.polls {
		if e.remove {
			// An idle entry awaiting removal has no loop left to delete it.
			if !e.running {
				delete(m.polls, id)
				dropped = append(dropped, id)
			}
			continue
		}
		e.enabled = true
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	m.log.Info("polling started", logx.Int("polls", len(ids)))
	for _, id := range dropped {
		m.publish(eventbus.PollRemoved, Event{ID: id})
	}
	for _, id := range ids {
		m.submitLoop(id)
	}
}

// StopPolling disables every poll. It does not wait: each loop exits after
// its current iteration.
func (m *Manager[T]) StopPolling() {
	m.polling.Store(false)
	m.mu.Lock()
	for _, e := range m.polls {
		e.enabled = false
	}
	n := len(m.polls)
	m.mu.Unlock()
	m.log.Info("polling stopped", logx.Int("polls", n))
}

// Polling reports whether StartPolling is in effect.
func (m *Manager[T]) Polling() bool { return m.polling.Load() }

// AddPoll registers a poll built from defaults plus cfg and returns its ID.
// If the manager is polling and the poll is enabled, its loop starts right away.
func (m *Manager[T]) AddPoll(cfg Config[T]) ID {
	id := ID(m.nextID.Add(1) - 1)
	e := newEntry(id, cfg)

	m.mu.Lock()
	m.polls[id] = e
	n := len(m.polls)
	start := m.polling.Load() && e.enabled && !m.closed.Load()
	m.mu.Unlock()

	// Keep workers >= polls so a sleeping loop never starves another poll.
	m.pool.Grow(n)
	m.log.Debug("poll added", logx.Uint32("poll_id", uint32(id)), logx.Duration("interval", e.interval), logx.Int("polls", n))
	m.publish(eventbus.PollAdded, Event{ID: id})
	if start {
		m.submitLoop(id)
	}
	return id
}

// UpdatePoll copies the present fields of cfg onto the poll. Unknown ids are ignored.
func (m *Manager[T]) UpdatePoll(id ID, cfg Config[T]) {
	m.mutate(id, func(e *entry[T]) { e.update(cfg) })
}

// ReplacePollConfig resets the poll to cfg, using defaults for absent fields.
// Callables not supplied in cfg are dropped. Unknown ids are ignored.
func (m *Manager[T]) ReplacePollConfig(id ID, cfg Config[T]) {
	m.mutate(id, func(e *entry[T]) { e.replace(cfg) })
}

// SetPollCallback installs cb (nil clears it). An iteration in flight will
// not overwrite it when it finishes.
func (m *Manager[T]) SetPollCallback(id ID, cb Sink[T]) {
	m.mutate(id, func(e *entry[T]) { e.setCallback(cb) })
}

// SetPollRespondent installs r (nil clears it). An iteration in flight will
// not overwrite it when it finishes.
func (m *Manager[T]) SetPollRespondent(id ID, r Source[T]) {
	m.mutate(id, func(e *entry[T]) { e.setRespondent(r) })
}

// mutate applies fn under the registry lock. A poll left enabled with no
// loop is rescheduled while the manager is polling.
func (m *Manager[T]) mutate(id ID, fn func(e *entry[T])) {
	m.mu.Lock()
	e := m.polls[id]
	if e == nil {
		m.mu.Unlock()
		return
	}
	fn(e)
	resubmit := m.polling.Load() && !m.closed.Load() && e.enabled && !e.running && !e.remove
	m.mu.Unlock()

	if resubmit {
		m.submitLoop(id)
	}
}

// RemovePoll disables the poll and marks it for removal. An idle poll is
// deleted at once; otherwise its loop deletes it after the current iteration.
func (m *Manager[T]) RemovePoll(id ID) {
	m.mu.Lock()
	e := m.polls[id]
	if e == nil {
		m.mu.Unlock()
		return
	}
	e.enabled = false
	e.remove = true
	deleted := !e.running
	if deleted {
		delete(m.polls, id)
	}
	m.mu.Unlock()

	if deleted {
		m.log.Debug("poll removed", logx.Uint32("poll_id", uint32(id)))
		m.publish(eventbus.PollRemoved, Event{ID: id})
	}
}

// ClearPoll deletes the poll immediately, whatever its state. A loop still
// running for it exits at its next registry check.
func (m *Manager[T]) ClearPoll(id ID) {
	m.mu.Lock()
	_, ok := m.polls[id]
	delete(m.polls, id)
	m.mu.Unlock()

	if ok {
		m.log.Debug("poll cleared", logx.Uint32("poll_id", uint32(id)))
		m.publish(eventbus.PollRemoved, Event{ID: id})
	}
}

// ExecuteJob runs job on the manager's pool.
func (m *Manager[T]) ExecuteJob(job func()) error {
	if err := m.pool.Submit(job); err != nil {
		m.log.Error("job not scheduled", logx.Err(err))
		return err
	}
	return nil
}

// Pool exposes the shared pool (for RunAll and diagnostics).
func (m *Manager[T]) Pool() *pool.Pool { return m.pool }

// Len returns the number of registered polls.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.polls)
}

// Info returns the state of one poll.
func (m *Manager[T]) Info(id ID) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.polls[id]
	if e == nil {
		return Info{}, false
	}
	return e.info(), true
}

func (m *Manager[T]) Snapshot() Snapshot {
	m.mu.Lock()
	infos := make([]Info, 0, len(m.polls))
	for _, e := range m.polls {
		infos = append(infos, e.info())
	}
	m.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	return Snapshot{
		Polling: m.polling.Load(),
		Polls:   infos,
		Pool:    m.pool.Snapshot(),
	}
}

// Close stops polling for good, wakes sleeping loops so they exit, and closes
// the pool if the manager owns it. In-flight respondents and callbacks are not
// interrupted; ctx bounds the wait for them.
func (m *Manager[T]) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.StopPolling()
		close(m.done)
		if m.ownsPool {
			err = m.pool.Close(ctx)
		}
	})
	return err
}

func (m *Manager[T]) submitLoop(id ID) {
	if err := m.pool.Submit(func() { m.runLoop(id) }); err != nil {
		m.log.Error("poll loop not scheduled", logx.Uint32("poll_id", uint32(id)), logx.Err(err))
	}
}

func (m *Manager[T]) publish(typ string, ev Event) {
	m.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
