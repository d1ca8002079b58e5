package poll

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"pollkit/internal/eventbus"
	logx "pollkit/pkg/logx"
)

// Event is the payload of poll events published on the bus.
type Event struct {
	ID       ID            `json:"id"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      string        `json:"err,omitempty"`
}

// PanicError wraps a panic raised by a respondent or callback.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("poll panicked: %v", e.Value) }

// checkout holds what one iteration took out of the registry.
type checkout[T any] struct {
	callback   Sink[T]
	respondent Source[T]
	interval   time.Duration
	failLog    *rate.Limiter

	started time.Time
	err     error
}

func (c *checkout[T]) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	if c.respondent == nil {
		return nil
	}
	v := c.respondent()
	if c.callback != nil {
		c.callback(v)
	}
	return nil
}

// runLoop is the body of the pool job scheduled for one poll.
func (m *Manager[T]) runLoop(id ID) {
	var prev *checkout[T]
	for {
		it, ok := m.advance(id, prev)
		if !ok {
			return
		}
		if prev == nil {
			m.log.Debug("poll loop started", logx.Uint32("poll_id", uint32(id)))
			m.publish(eventbus.PollStarted, Event{ID: id})
		}

		it.started = time.Now()
		it.err = it.run()
		dur := time.Since(it.started)
		m.report(id, it, dur)

		m.sleep(it.interval)
		prev = &it
	}
}

// advance performs one registry step for the loop of id, under the lock.
//
// On the first call (prev == nil) it claims the poll: the poll must exist, be
// enabled and have no other loop. Later calls put back the callables of prev
// unless a caller replaced them meanwhile. If the poll is now disabled the
// loop terminates, deleting the poll when removal is pending. Otherwise the
// callables are checked out for the next iteration.
func (m *Manager[T]) advance(id ID, prev *checkout[T]) (checkout[T], bool) {
	m.mu.Lock()
	e := m.polls[id]
	if e == nil {
		m.mu.Unlock()
		return checkout[T]{}, false
	}

	if prev == nil {
		if !e.enabled || e.running {
			m.mu.Unlock()
			return checkout[T]{}, false
		}
		e.running = true
	} else {
		if e.restoreCallback {
			e.callback = prev.callback
		}
		if e.restoreRespondent {
			e.respondent = prev.respondent
		}
	}

	// A closed manager no longer sleeps between iterations.
	if m.closed.Load() {
		e.enabled = false
	}
	if !e.enabled {
		e.running = false
		removed := e.remove
		if removed {
			delete(m.polls, id)
		}
		m.mu.Unlock()

		m.log.Debug("poll loop stopped", logx.Uint32("poll_id", uint32(id)), logx.Bool("removed", removed))
		m.publish(eventbus.PollStopped, Event{ID: id})
		if removed {
			m.publish(eventbus.PollRemoved, Event{ID: id})
		}
		return checkout[T]{}, false
	}

	it := checkout[T]{
		callback:   e.callback,
		respondent: e.respondent,
		interval:   e.interval,
		failLog:    e.failLog,
	}
	e.callback = nil
	e.respondent = nil
	e.restoreCallback = true
	e.restoreRespondent = true
	m.mu.Unlock()
	return it, true
}

func (m *Manager[T]) report(id ID, it checkout[T], dur time.Duration) {
	m.mu.Lock()
	if e := m.polls[id]; e != nil {
		e.iterations++
		e.lastRun = it.started
		if it.err != nil {
			e.failures++
		}
	}
	m.mu.Unlock()

	if it.err == nil {
		m.publish(eventbus.PollIteration, Event{ID: id, Duration: dur})
		return
	}
	m.publish(eventbus.PollFailed, Event{ID: id, Duration: dur, Err: it.err.Error()})
	if it.failLog != nil && !it.failLog.Allow() {
		return
	}
	fields := []logx.Field{logx.Uint32("poll_id", uint32(id)), logx.Err(it.err)}
	var pe *PanicError
	if errors.As(it.err, &pe) {
		fields = append(fields, logx.Stack(string(pe.Stack)))
	}
	m.log.Warn("poll iteration failed", fields...)
}

// sleep waits d without holding any lock. Only Close cuts it short.
func (m *Manager[T]) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-m.done:
	}
}
