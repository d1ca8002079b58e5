package poll

import "time"

// DefaultInterval is the delay between iterations when none is configured.
const DefaultInterval = 5000 * time.Millisecond

// Sink consumes the value produced by a poll iteration.
type Sink[T any] func(T)

// Source produces the value of a poll iteration.
type Source[T any] func() T

// Config is a sparse write descriptor for a poll. Nil fields are absent.
//
// UpdatePoll copies only present fields. ReplacePollConfig resets absent
// fields to their defaults: enabled, DefaultInterval, no callback, no
// respondent.
type Config[T any] struct {
	Enabled    *bool
	Interval   *time.Duration
	Callback   Sink[T]
	Respondent Source[T]
}

// Ptr returns a pointer to v, for filling Config fields inline.
func Ptr[V any](v V) *V { return &v }

// Every is shorthand for Config{Interval: &d}.
func Every[T any](d time.Duration) Config[T] {
	return Config[T]{Interval: &d}
}
