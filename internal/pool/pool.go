package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pollkit/internal/eventbus"
	"pollkit/internal/runtime/supervisor"
	logx "pollkit/pkg/logx"
)

var (
	ErrClosed = errors.New("pool closed")
	ErrNilJob = errors.New("pool: job is nil")
)

// Config controls the worker pool.
type Config struct {
	// Name prefixes worker goroutine names ("<name>.worker.<n>").
	Name string
	// Workers is the initial worker count. <= 0 means runtime.NumCPU().
	Workers int
}

// Job is a unit of work. Jobs may block for a long time (poll loops do);
// the pool never preempts them.
type Job func()

// JobEvent is published on the bus when a job panics.
type JobEvent struct {
	ID    string `json:"id"`
	Pool  string `json:"pool"`
	Panic string `json:"panic"`
}

// ResizeEvent is published on the bus when the worker target changes.
type ResizeEvent struct {
	Pool string `json:"pool"`
	From int    `json:"from"`
	To   int    `json:"to"`
}

type queuedJob struct {
	id         string
	job        Job
	enqueuedAt time.Time
}

// Pool executes submitted jobs on a resizable set of worker goroutines.
//
// The queue is unbounded: Submit never blocks and never drops. Workers are
// hosted by a supervisor for naming and counters; job panics are recovered
// per job so a worker survives any user code.
type Pool struct {
	name string
	log  logx.Logger
	bus  eventbus.Bus
	sup  *supervisor.Supervisor

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []queuedJob
	target  int
	workers int
	spawned int
	closed  bool

	active    atomic.Int32
	completed atomic.Uint64
	panicked  atomic.Uint64
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Name       string              `json:"name"`
	Target     int                 `json:"target"`
	Workers    int                 `json:"workers"`
	Active     int                 `json:"active"`
	Queued     int                 `json:"queued"`
	Completed  uint64              `json:"completed"`
	Panicked   uint64              `json:"panicked"`
	Closed     bool                `json:"closed"`
	Supervisor supervisor.Counters `json:"supervisor"`
}

// DefaultWorkers is the number of available processing units.
func DefaultWorkers() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Pool {
	if cfg.Name == "" {
		cfg.Name = "pool"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	p := &Pool{
		name: cfg.Name,
		log:  log,
		bus:  bus,
		sup:  supervisor.New(context.Background(), supervisor.WithLogger(log)),
	}
	p.cond = sync.NewCond(&p.mu)

	p.mu.Lock()
	p.target = cfg.Workers
	p.spawnLocked()
	p.mu.Unlock()

	p.log.Debug("pool started", logx.String("pool", p.name), logx.Int("workers", cfg.Workers))
	return p
}

// Submit queues job for execution.
func (p *Pool) Submit(job Job) error {
	if job == nil {
		return ErrNilJob
	}
	qj := queuedJob{id: uuid.NewString(), job: job, enqueuedAt: time.Now()}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queue = append(p.queue, qj)
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Resize sets the worker count. Growing spawns workers immediately; shrinking
// retires idle workers as they finish their current job.
func (p *Pool) Resize(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	if p.closed || n == p.target {
		p.mu.Unlock()
		return
	}
	from := p.target
	p.target = n
	p.spawnLocked()
	p.mu.Unlock()
	p.cond.Broadcast()

	p.log.Debug("pool resized", logx.String("pool", p.name), logx.Int("from", from), logx.Int("to", n),
		logx.Int("active", p.ActiveCount()), logx.Int("queued", p.QueuedCount()))
	p.bus.Publish(eventbus.Event{Type: eventbus.PoolResized, Data: ResizeEvent{Pool: p.name, From: from, To: n}})
}

// Grow resizes only upward. It reports whether the pool grew.
func (p *Pool) Grow(n int) bool {
	p.mu.Lock()
	grow := !p.closed && n > p.target
	p.mu.Unlock()
	if grow {
		p.Resize(n)
	}
	return grow
}

// Size returns the configured worker count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// ActiveCount returns the number of jobs currently executing.
func (p *Pool) ActiveCount() int { return int(p.active.Load()) }

// QueuedCount returns the number of jobs waiting for a worker.
func (p *Pool) QueuedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	snap := Snapshot{
		Name:    p.name,
		Target:  p.target,
		Workers: p.workers,
		Queued:  len(p.queue),
		Closed:  p.closed,
	}
	p.mu.Unlock()
	snap.Active = p.ActiveCount()
	snap.Completed = p.completed.Load()
	snap.Panicked = p.panicked.Load()
	snap.Supervisor = p.sup.Counters()
	return snap
}

// Close stops accepting jobs, drops anything still queued and waits (bounded
// by ctx) for workers to finish their current job.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	dropped := len(p.queue)
	p.queue = nil
	p.mu.Unlock()
	p.cond.Broadcast()

	if dropped > 0 {
		p.log.Warn("pool closed with queued jobs", logx.String("pool", p.name), logx.Int("dropped", dropped))
	}
	if err := p.sup.Stop(ctx); err != nil {
		return fmt.Errorf("pool %s: %w", p.name, err)
	}
	p.log.Debug("pool stopped", logx.String("pool", p.name))
	return nil
}

// spawnLocked starts workers until workers == target. Caller holds p.mu.
func (p *Pool) spawnLocked() {
	for p.workers < p.target {
		p.workers++
		p.spawned++
		idx := p.spawned
		p.sup.Go0(fmt.Sprintf("%s.worker.%d", p.name, idx), func(context.Context) {
			p.worker()
		})
	}
}

func (p *Pool) worker() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed && p.workers <= p.target {
			p.cond.Wait()
		}
		if p.closed || p.workers > p.target {
			p.workers--
			pending := len(p.queue) > 0
			p.mu.Unlock()
			// Hand a wakeup meant for this worker to one that stays.
			if pending {
				p.cond.Signal()
			}
			return
		}
		qj := p.queue[0]
		p.queue[0] = queuedJob{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.exec(qj)
	}
}

func (p *Pool) exec(qj queuedJob) {
	p.active.Add(1)
	defer p.active.Add(-1)
	// A panicking job must not kill the worker.
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.log.Error("pool.job.panic", logx.String("pool", p.name), logx.String("job", qj.id),
				logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			p.bus.Publish(eventbus.Event{Type: eventbus.JobPanicked, Data: JobEvent{ID: qj.id, Pool: p.name, Panic: fmt.Sprint(r)}})
		}
	}()

	if p.log.Enabled(logx.LevelTrace) {
		p.log.Trace("pool.job.started", logx.String("job", qj.id), logx.Duration("queue_delay", time.Since(qj.enqueuedAt)))
	}
	qj.job()
	p.completed.Add(1)
}

// RunAll executes jobs on p and waits for all of them, returning results in
// job order. A job that panics leaves the zero value in its slot.
//
// Calling RunAll from inside a job of the same pool can deadlock when every
// worker is busy.
func RunAll[R any](p *Pool, jobs ...func() R) ([]R, error) {
	results := make([]R, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		err := p.Submit(func() {
			defer wg.Done()
			results[i] = job()
		})
		if err != nil {
			return nil, err
		}
	}
	wg.Wait()
	return results, nil
}
