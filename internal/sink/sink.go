// Package sink provides poll callbacks: logging, storing the latest value,
// publishing to NATS, and fanning out to several of them.
package sink

import (
	"context"
	"time"

	"pollkit/internal/poll"
	"pollkit/internal/probe"
	"pollkit/internal/storage"
	logx "pollkit/pkg/logx"
)

// Fanout calls every non-nil sink in order. A nil result means no sinks.
func Fanout[T any](sinks ...poll.Sink[T]) poll.Sink[T] {
	live := make([]poll.Sink[T], 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return func(v T) {
		for _, s := range live {
			s(v)
		}
	}
}

// Log logs each probe result: failures at warn, the rest at debug.
func Log(log logx.Logger) poll.Sink[probe.Result] {
	return func(r probe.Result) {
		fields := []logx.Field{
			logx.String("poll", r.Poll),
			logx.String("url", r.URL),
			logx.Uint64("seq", r.Seq),
			logx.Int("status", r.Status),
			logx.Duration("latency", r.Latency),
		}
		if r.Err != "" || !r.OK {
			if r.Err != "" {
				fields = append(fields, logx.String("err", r.Err))
			}
			log.Warn("probe failed", fields...)
			return
		}
		log.Debug("probe ok", fields...)
	}
}

// Store keeps the latest value per key in b. Write errors are logged;
// a sink has no caller to return them to.
func Store[T any](b *storage.Typed[T], key func(T) string, log logx.Logger) poll.Sink[T] {
	return func(v T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		k := key(v)
		if _, _, err := b.Insert(ctx, k, v); err != nil {
			log.Warn("store result failed", logx.String("bucket", b.Name()), logx.String("key", k), logx.Err(err))
		}
	}
}
