package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Typed stores JSON-encoded values of type V under string keys.
type Typed[V any] struct {
	b Bucket
}

func NewTyped[V any](b Bucket) *Typed[V] { return &Typed[V]{b: b} }

// OpenTyped opens bucket name of db as a Typed bucket.
func OpenTyped[V any](db *DB, name string) (*Typed[V], error) {
	b, err := db.Bucket(name)
	if err != nil {
		return nil, err
	}
	return NewTyped[V](b), nil
}

func (t *Typed[V]) Name() string { return t.b.Name() }

func (t *Typed[V]) Get(ctx context.Context, key string) (V, bool, error) {
	raw, ok, err := t.b.Get(ctx, []byte(key))
	if err != nil || !ok {
		var zero V
		return zero, false, err
	}
	v, err := t.decode(key, raw)
	return v, err == nil, err
}

// Insert stores v and returns the value it replaced, if any.
func (t *Typed[V]) Insert(ctx context.Context, key string, v V) (V, bool, error) {
	var zero V
	raw, err := json.Marshal(v)
	if err != nil {
		return zero, false, fmt.Errorf("storage: encode %s/%s: %w", t.b.Name(), key, err)
	}
	prev, ok, err := t.b.Insert(ctx, []byte(key), raw)
	if err != nil || !ok {
		return zero, false, err
	}
	old, err := t.decode(key, prev)
	return old, err == nil, err
}

func (t *Typed[V]) Remove(ctx context.Context, key string) (V, bool, error) {
	var zero V
	prev, ok, err := t.b.Remove(ctx, []byte(key))
	if err != nil || !ok {
		return zero, false, err
	}
	old, err := t.decode(key, prev)
	return old, err == nil, err
}

func (t *Typed[V]) Iterate(ctx context.Context, fn func(key string, v V) error) error {
	return t.b.Iterate(ctx, func(k, raw []byte) error {
		v, err := t.decode(string(k), raw)
		if err != nil {
			return err
		}
		return fn(string(k), v)
	})
}

func (t *Typed[V]) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := t.b.Iterate(ctx, func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	return keys, err
}

func (t *Typed[V]) Values(ctx context.Context) ([]V, error) {
	var vals []V
	err := t.Iterate(ctx, func(_ string, v V) error {
		vals = append(vals, v)
		return nil
	})
	return vals, err
}

func (t *Typed[V]) Clear(ctx context.Context) error { return t.b.Clear(ctx) }

func (t *Typed[V]) decode(key string, raw []byte) (V, error) {
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("storage: decode %s/%s: %w", t.b.Name(), key, err)
	}
	return v, nil
}
