package storage

import (
	"context"
	"sort"
	"sync"
)

// kvState is the in-memory image shared by the memory and file engines.
// It is not safe for concurrent use.
type kvState map[string]map[string][]byte

func (s kvState) get(bucket string, key []byte) ([]byte, bool) {
	v, ok := s[bucket][string(key)]
	return clone(v), ok
}

func (s kvState) put(bucket string, key, value []byte) ([]byte, bool) {
	m := s[bucket]
	if m == nil {
		m = map[string][]byte{}
		s[bucket] = m
	}
	prev, ok := m[string(key)]
	m[string(key)] = clone(value)
	return prev, ok
}

func (s kvState) del(bucket string, key []byte) ([]byte, bool) {
	m := s[bucket]
	prev, ok := m[string(key)]
	if !ok {
		return nil, false
	}
	delete(m, string(key))
	if len(m) == 0 {
		delete(s, bucket)
	}
	return prev, true
}

func (s kvState) pairs(bucket string) []pair {
	m := s[bucket]
	out := make([]pair, 0, len(m))
	for k, v := range m {
		out = append(out, pair{Key: []byte(k), Value: clone(v)})
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out
}

type memEngine struct {
	mu sync.Mutex
	st kvState
}

func newMemory() *memEngine { return &memEngine{st: kvState{}} }

func (m *memEngine) get(_ context.Context, bucket string, key []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.st.get(bucket, key)
	return v, ok, nil
}

func (m *memEngine) insert(_ context.Context, bucket string, key, value []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.st.put(bucket, key, value)
	return prev, ok, nil
}

func (m *memEngine) remove(_ context.Context, bucket string, key []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.st.del(bucket, key)
	return prev, ok, nil
}

func (m *memEngine) pairs(_ context.Context, bucket string) ([]pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.pairs(bucket), nil
}

func (m *memEngine) clear(_ context.Context, bucket string) error {
	m.mu.Lock()
	delete(m.st, bucket)
	m.mu.Unlock()
	return nil
}

func (m *memEngine) close() error { return nil }
