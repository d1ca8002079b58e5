// Package metrics exposes poll manager state to Prometheus.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pollkit/internal/eventbus"
	"pollkit/internal/poll"
	"pollkit/internal/probe"
	logx "pollkit/pkg/logx"
)

const namespace = "pollkit"

// Namer maps a poll id to its label value. Unknown ids fall back to the
// decimal id.
type Namer func(id poll.ID) (string, bool)

type Metrics struct {
	reg   *prometheus.Registry
	namer Namer
	log   logx.Logger

	iterations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	lifecycle  *prometheus.CounterVec
	panics     prometheus.Counter

	probeUp      *prometheus.GaugeVec
	probeLatency *prometheus.HistogramVec
	probeStatus  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry. snapshot is read on
// every scrape.
func New(snapshot func() poll.Snapshot, namer Namer, log logx.Logger) *Metrics {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Metrics{
		reg:   prometheus.NewRegistry(),
		namer: namer,
		log:   log,

		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_iterations_total",
			Help: "Completed poll iterations.",
		}, []string{"poll"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_failures_total",
			Help: "Poll iterations whose respondent or callback panicked.",
		}, []string{"poll"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "poll_iteration_seconds",
			Help:    "Time spent in respondent plus callback.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"poll"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_events_total",
			Help: "Poll lifecycle events by type.",
		}, []string{"event"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_job_panics_observed_total",
			Help: "Pool job panics seen on the event bus.",
		}),

		probeUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "probe_up",
			Help: "1 if the last probe of the poll succeeded.",
		}, []string{"poll"}),
		probeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "probe_latency_seconds",
			Help:    "HTTP probe latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"poll"}),
		probeStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "probe_responses_total",
			Help: "HTTP probe responses by status code (\"error\" when no response).",
		}, []string{"poll", "code"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newSnapshotCollector(snapshot),
		m.iterations, m.failures, m.duration, m.lifecycle, m.panics,
		m.probeUp, m.probeLatency, m.probeStatus,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) label(id poll.ID) string {
	if m.namer != nil {
		if name, ok := m.namer(id); ok {
			return name
		}
	}
	return strconv.FormatUint(uint64(id), 10)
}

// Observe records one bus event.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.JobPanicked:
		m.panics.Inc()
		return
	case eventbus.PollIteration, eventbus.PollFailed:
		pe, ok := ev.Data.(poll.Event)
		if !ok {
			return
		}
		name := m.label(pe.ID)
		m.iterations.WithLabelValues(name).Inc()
		m.duration.WithLabelValues(name).Observe(pe.Duration.Seconds())
		if ev.Type == eventbus.PollFailed {
			m.failures.WithLabelValues(name).Inc()
		}
	case eventbus.PollAdded, eventbus.PollRemoved, eventbus.PollStarted, eventbus.PollStopped, eventbus.PoolResized:
		m.lifecycle.WithLabelValues(ev.Type).Inc()
	}
}

// Run feeds bus events into the collectors until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(1024)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

// ObserveProbe is a poll sink recording probe outcomes.
func (m *Metrics) ObserveProbe(r probe.Result) {
	up := 0.0
	if r.OK {
		up = 1
	}
	m.probeUp.WithLabelValues(r.Poll).Set(up)
	code := "error"
	if r.Status != 0 {
		code = strconv.Itoa(r.Status)
	}
	m.probeStatus.WithLabelValues(r.Poll, code).Inc()
	if r.Err == "" {
		m.probeLatency.WithLabelValues(r.Poll).Observe(r.Latency.Seconds())
	}
}

// Forget drops per-poll series, e.g. after the poll is removed.
func (m *Metrics) Forget(name string) {
	labels := prometheus.Labels{"poll": name}
	m.iterations.DeletePartialMatch(labels)
	m.failures.DeletePartialMatch(labels)
	m.duration.DeletePartialMatch(labels)
	m.probeUp.DeletePartialMatch(labels)
	m.probeLatency.DeletePartialMatch(labels)
	m.probeStatus.DeletePartialMatch(labels)
}
