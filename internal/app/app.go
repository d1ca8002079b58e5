package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"pollkit/internal/config"
	"pollkit/internal/eventbus"
	"pollkit/internal/httpapi"
	"pollkit/internal/metrics"
	"pollkit/internal/poll"
	"pollkit/internal/probe"
	"pollkit/internal/runtime/supervisor"
	"pollkit/internal/sink"
	"pollkit/internal/storage"
	logx "pollkit/pkg/logx"
)

// App runs the polls named in a config file and keeps them in sync with it.
type App struct {
	cfgPath    string
	instanceID string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	pollLog logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus

	db      *storage.DB
	results *storage.Typed[probe.Result]

	nc         *nats.Conn
	natsPrefix string

	client  *probe.Client
	mgr     *poll.Manager[probe.Result]
	metrics *metrics.Metrics
	http    *httpapi.Server

	// initial is applied by Start; later changes arrive via config reload.
	initial *config.Config

	mu    sync.RWMutex
	polls map[string]*namedPoll
	names map[poll.ID]string
}

type namedPoll struct {
	id poll.ID
	rp resolvedPoll
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	instanceID := uuid.NewString()
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	a := &App{
		cfgPath:    cfgPath,
		instanceID: instanceID,
		cfgm:       cfgm,
		log:        log,
		pollLog:    logSvc.Logger().With(logx.String("comp", "probe")),
		logs:       logSvc,
		bus:        bus,
		client:     probe.NewClient(),
		initial:    cfg,
		polls:      make(map[string]*namedPoll),
		names:      make(map[poll.ID]string),
	}

	// Storage (optional)
	if sc, bucket, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		db, err := storage.Open(sc, logSvc.Logger().With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		results, err := storage.OpenTyped[probe.Result](db, bucket)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.db, a.results = db, results
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("bucket", bucket))
	}

	// NATS (optional)
	if cfg.NATS != nil && strings.TrimSpace(cfg.NATS.URL) != "" {
		nc, err := sink.ConnectNATS(cfg.NATS.URL, "pollkitd-"+instanceID, logSvc.Logger().With(logx.String("comp", "nats")))
		if err != nil {
			a.closeResources()
			return nil, err
		}
		a.nc = nc
		a.natsPrefix = cfg.NATS.SubjectPrefix
		log.Info("nats connected", logx.String("url", nc.ConnectedUrlRedacted()))
	}

	a.mgr = poll.New[probe.Result](
		poll.WithLogger(logSvc.Logger().With(logx.String("comp", "poll"))),
		poll.WithBus(bus),
		poll.WithWorkers(poolTarget(cfg, len(cfg.Polls))),
		poll.WithName("polls"),
	)
	a.metrics = metrics.New(a.mgr.Snapshot, a.nameOf, logSvc.Logger().With(logx.String("comp", "metrics")))

	if cfg.HTTP.Enabled {
		var opts []httpapi.RouterOption
		if cfg.HTTP.Pprof {
			opts = append(opts, httpapi.WithProfiler())
		}
		router := httpapi.NewRouter(a, a.metrics.Registry(), logSvc.Logger().With(logx.String("comp", "http")), opts...)
		a.http = httpapi.NewServer(cfg.HTTP.Addr, router, logSvc.Logger().With(logx.String("comp", "http")))
	}

	return a, nil
}

// Manager exposes the poll manager, e.g. for ad hoc jobs via ExecuteJob.
func (a *App) Manager() *poll.Manager[probe.Result] { return a.mgr }

func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		for _, p := range cfg.Polls {
			if _, err := resolvePoll(p); err != nil {
				return err
			}
		}
		return nil
	})

	events, unsubEvents := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsubEvents()
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", ev.Type), logx.Time("time", ev.Time))
			}
		}
	})
	a.sup.Go("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})

	if err := a.applyPolls(a.initial.Polls); err != nil {
		return err
	}
	a.mgr.StartPolling()

	if a.http != nil {
		a.sup.Go("http", a.http.Run)
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.initial
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("instance", a.instanceID),
		logx.Int("polls", a.mgr.Len()),
		logx.Int("workers", a.mgr.Pool().Size()),
	)
	return nil
}

// applyConfig applies a reloaded config. Storage, NATS and HTTP settings are
// read once at startup.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "storage", "nats", "http":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if err := a.applyPolls(newCfg.Polls); err != nil {
		a.log.Warn("poll config partially applied", logx.Err(err))
	}
	a.mgr.Pool().Resize(poolTarget(newCfg, a.mgr.Len()))

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so in-flight probes fail fast and loops unwind.
	a.sup.Cancel()

	// step runs one shutdown step bounded by max and by ctx.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("polls", 5*time.Second, func(c context.Context) error {
		a.mgr.StopPolling()
		return a.mgr.Close(c)
	})
	step("nats", 2*time.Second, func(c context.Context) error {
		if a.nc == nil {
			return nil
		}
		return drainNATS(c, a.nc)
	})
	step("storage", time.Second, func(c context.Context) error {
		if a.db == nil {
			return nil
		}
		return a.db.Close()
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// drainNATS flushes pending publishes, falling back to Close when ctx ends first.
func drainNATS(ctx context.Context, nc *nats.Conn) error {
	closed := make(chan struct{})
	nc.SetClosedHandler(func(*nats.Conn) { close(closed) })
	if err := nc.Drain(); err != nil {
		nc.Close()
		return err
	}
	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		nc.Close()
		return ctx.Err()
	}
}

// closeResources releases what NewApp opened when Start never ran.
func (a *App) closeResources() {
	if a.mgr != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.mgr.Close(ctx)
		cancel()
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
