package poll

import (
	"pollkit/internal/eventbus"
	"pollkit/internal/pool"
	logx "pollkit/pkg/logx"
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	name    string
	log     logx.Logger
	bus     eventbus.Bus
	workers int
	pool    *pool.Pool
}

// WithLogger sets the manager's logger.
func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

// WithBus publishes poll lifecycle events to bus.
func WithBus(bus eventbus.Bus) Option { return func(o *options) { o.bus = bus } }

// WithWorkers sizes the owned pool. <= 0 means one worker per CPU.
func WithWorkers(n int) Option { return func(o *options) { o.workers = n } }

// WithName names the owned pool (worker goroutines are "<name>.worker.<n>").
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithPool shares an existing pool. The manager will grow it but never close it.
func WithPool(p *pool.Pool) Option { return func(o *options) { o.pool = p } }
