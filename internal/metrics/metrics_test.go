package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"pollkit/internal/eventbus"
	"pollkit/internal/poll"
	"pollkit/internal/probe"
	logx "pollkit/pkg/logx"
)

func names(m map[poll.ID]string) Namer {
	return func(id poll.ID) (string, bool) {
		n, ok := m[id]
		return n, ok
	}
}

func TestObservePollEvents(t *testing.T) {
	m := New(nil, names(map[poll.ID]string{1: "api"}), logx.Nop())

	m.Observe(eventbus.Event{Type: eventbus.PollIteration, Data: poll.Event{ID: 1, Duration: 5 * time.Millisecond}})
	m.Observe(eventbus.Event{Type: eventbus.PollFailed, Data: poll.Event{ID: 1, Err: "boom"}})
	m.Observe(eventbus.Event{Type: eventbus.PollIteration, Data: poll.Event{ID: 7}})
	m.Observe(eventbus.Event{Type: eventbus.PollAdded, Data: poll.Event{ID: 7}})
	m.Observe(eventbus.Event{Type: eventbus.JobPanicked})
	// Foreign payloads are ignored.
	m.Observe(eventbus.Event{Type: eventbus.PollIteration, Data: "junk"})

	if got := testutil.ToFloat64(m.iterations.WithLabelValues("api")); got != 2 {
		t.Fatalf("api iterations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("api")); got != 1 {
		t.Fatalf("api failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.iterations.WithLabelValues("7")); got != 1 {
		t.Fatalf("unnamed poll iterations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.lifecycle.WithLabelValues(eventbus.PollAdded)); got != 1 {
		t.Fatalf("added events = %v", got)
	}
	if got := testutil.ToFloat64(m.panics); got != 1 {
		t.Fatalf("panics = %v", got)
	}
}

func TestObserveProbe(t *testing.T) {
	m := New(nil, nil, logx.Nop())
	m.ObserveProbe(probe.Result{Poll: "api", OK: true, Status: 200, Latency: 10 * time.Millisecond})
	if got := testutil.ToFloat64(m.probeUp.WithLabelValues("api")); got != 1 {
		t.Fatalf("up = %v", got)
	}
	m.ObserveProbe(probe.Result{Poll: "api", Err: "refused"})
	if got := testutil.ToFloat64(m.probeUp.WithLabelValues("api")); got != 0 {
		t.Fatalf("up after failure = %v", got)
	}
	if got := testutil.ToFloat64(m.probeStatus.WithLabelValues("api", "error")); got != 1 {
		t.Fatalf("error responses = %v", got)
	}
	if got := testutil.CollectAndCount(m.probeLatency); got != 1 {
		t.Fatalf("latency series = %d", got)
	}

	m.Forget("api")
	if got := testutil.CollectAndCount(m.probeStatus); got != 0 {
		t.Fatalf("series after Forget = %d", got)
	}
}

func TestSnapshotCollector(t *testing.T) {
	mgr := poll.New[int](poll.WithLogger(logx.Nop()), poll.WithWorkers(3))
	defer mgr.Close(context.Background())
	mgr.AddPoll(poll.Config[int]{})
	mgr.AddPoll(poll.Config[int]{})

	m := New(mgr.Snapshot, nil, logx.Nop())
	expected := `
# HELP pollkit_polling 1 while the manager is polling.
# TYPE pollkit_polling gauge
pollkit_polling 0
# HELP pollkit_polls Registered polls.
# TYPE pollkit_polls gauge
pollkit_polls 2
# HELP pollkit_pool_workers_target Configured pool size.
# TYPE pollkit_pool_workers_target gauge
pollkit_pool_workers_target 3
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"pollkit_polling", "pollkit_polls", "pollkit_pool_workers_target"); err != nil {
		t.Fatal(err)
	}
}

func TestRunConsumesBus(t *testing.T) {
	bus := eventbus.New()
	m := New(nil, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, bus) }()

	deadline := time.Now().Add(time.Second)
	for testutil.ToFloat64(m.panics) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event not observed")
		}
		// Publish repeatedly: the subscription may not exist yet.
		bus.Publish(eventbus.Event{Type: eventbus.JobPanicked})
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
