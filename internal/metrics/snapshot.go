package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"pollkit/internal/poll"
)

// snapshotCollector reads one manager snapshot per scrape.
type snapshotCollector struct {
	snapshot func() poll.Snapshot

	polling, polls, running, pending        *prometheus.Desc
	workers, target, active, queued         *prometheus.Desc
	completed, panicked, supervisorRoutines *prometheus.Desc
}

func newSnapshotCollector(snapshot func() poll.Snapshot) *snapshotCollector {
	d := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &snapshotCollector{
		snapshot:           snapshot,
		polling:            d("polling", "1 while the manager is polling."),
		polls:              d("polls", "Registered polls."),
		running:            d("polls_running", "Polls with a live loop."),
		pending:            d("polls_pending_removal", "Polls marked for removal whose loop has not exited."),
		workers:            d("pool_workers", "Live pool workers."),
		target:             d("pool_workers_target", "Configured pool size."),
		active:             d("pool_active_jobs", "Jobs executing."),
		queued:             d("pool_queued_jobs", "Jobs waiting for a worker."),
		completed:          d("pool_jobs_completed_total", "Jobs that returned normally."),
		panicked:           d("pool_jobs_panicked_total", "Jobs that panicked."),
		supervisorRoutines: d("pool_supervised_goroutines", "Worker goroutines alive under the pool supervisor."),
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.polling, c.polls, c.running, c.pending,
		c.workers, c.target, c.active, c.queued,
		c.completed, c.panicked, c.supervisorRoutines,
	} {
		ch <- d
	}
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	if c.snapshot == nil {
		return
	}
	s := c.snapshot()
	var running, pending int
	for _, p := range s.Polls {
		if p.Running {
			running++
		}
		if p.PendingRemoval {
			pending++
		}
	}
	polling := 0.0
	if s.Polling {
		polling = 1
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	gauge(c.polling, polling)
	gauge(c.polls, float64(len(s.Polls)))
	gauge(c.running, float64(running))
	gauge(c.pending, float64(pending))
	gauge(c.workers, float64(s.Pool.Workers))
	gauge(c.target, float64(s.Pool.Target))
	gauge(c.active, float64(s.Pool.Active))
	gauge(c.queued, float64(s.Pool.Queued))
	gauge(c.supervisorRoutines, float64(s.Pool.Supervisor.Active))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(s.Pool.Completed))
	ch <- prometheus.MustNewConstMetric(c.panicked, prometheus.CounterValue, float64(s.Pool.Panicked))
}
