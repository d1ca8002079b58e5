package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
	ErrNoBucket = errors.New("storage: bucket name is required")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Bucket is a keyspace inside a DB. Iteration is in ascending key order.
//
// Returned slices are owned by the caller.
type Bucket interface {
	Name() string
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	// Insert stores value under key and returns the previous value, if any.
	Insert(ctx context.Context, key, value []byte) ([]byte, bool, error)
	// Remove deletes key and returns the removed value, if any.
	Remove(ctx context.Context, key []byte) ([]byte, bool, error)
	Iterate(ctx context.Context, fn func(key, value []byte) error) error
	Clear(ctx context.Context) error
}

// engine is implemented by each driver. Buckets are implicit: a bucket
// exists once it holds a key.
type engine interface {
	get(ctx context.Context, bucket string, key []byte) ([]byte, bool, error)
	insert(ctx context.Context, bucket string, key, value []byte) ([]byte, bool, error)
	remove(ctx context.Context, bucket string, key []byte) ([]byte, bool, error)
	pairs(ctx context.Context, bucket string) ([]pair, error)
	clear(ctx context.Context, bucket string) error
	close() error
}

type pair struct {
	Key   []byte `json:"k"`
	Value []byte `json:"v"`
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
