package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	logx "pollkit/pkg/logx"
)

// DB is an opened store. A nil *DB behaves as disabled storage.
type DB struct {
	driver string
	eng    engine
	log    logx.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (*DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		eng engine
		err error
	)
	switch driver {
	case "memory", "mem":
		eng = newMemory()
	case "file":
		eng, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		eng, err = openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", driver, err)
	}
	log.Debug("storage opened", logx.String("driver", driver), logx.String("path", cfg.Path))
	return &DB{driver: driver, eng: eng, log: log}, nil
}

// Driver returns the normalized driver name.
func (db *DB) Driver() string {
	if db == nil {
		return "none"
	}
	return db.driver
}

// Bucket returns a handle to the named bucket.
func (db *DB) Bucket(name string) (Bucket, error) {
	if db == nil {
		return nil, ErrDisabled
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNoBucket
	}
	if db.closed.Load() {
		return nil, ErrClosed
	}
	return &bucket{db: db, name: name}, nil
}

func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	db.closeOnce.Do(func() {
		db.closed.Store(true)
		db.closeErr = db.eng.close()
	})
	return db.closeErr
}

func (db *DB) check() error {
	if db == nil {
		return ErrDisabled
	}
	if db.closed.Load() {
		return ErrClosed
	}
	return nil
}

type bucket struct {
	db   *DB
	name string
}

func (b *bucket) Name() string { return b.name }

func (b *bucket) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := b.db.check(); err != nil {
		return nil, false, err
	}
	return b.db.eng.get(ctx, b.name, key)
}

func (b *bucket) Insert(ctx context.Context, key, value []byte) ([]byte, bool, error) {
	if err := b.db.check(); err != nil {
		return nil, false, err
	}
	if value == nil {
		value = []byte{}
	}
	return b.db.eng.insert(ctx, b.name, key, value)
}

func (b *bucket) Remove(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := b.db.check(); err != nil {
		return nil, false, err
	}
	return b.db.eng.remove(ctx, b.name, key)
}

// Iterate calls fn for each pair of a point-in-time copy of the bucket, so fn
// may modify the bucket. A non-nil error from fn stops the iteration.
func (b *bucket) Iterate(ctx context.Context, fn func(key, value []byte) error) error {
	if err := b.db.check(); err != nil {
		return err
	}
	pairs, err := b.db.eng.pairs(ctx, b.name)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p.Key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

func (b *bucket) Clear(ctx context.Context) error {
	if err := b.db.check(); err != nil {
		return err
	}
	return b.db.eng.clear(ctx, b.name)
}
