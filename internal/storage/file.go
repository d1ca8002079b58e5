package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "pollkit/pkg/logx"
)

// fileEngine is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.kv.snapshot.json (periodic snapshot, bucket -> pairs)
//   - <prefix>.kv.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on close.
type fileEngine struct {
	log logx.Logger

	mu sync.Mutex
	st kvState

	snapshotPath string
	journal      *os.File

	writes       int
	compactEvery int
}

type journalRecord struct {
	Op     string `json:"op"` // put | del | clear
	Bucket string `json:"b"`
	Key    []byte `json:"k,omitempty"`
	Value  []byte `json:"v"`
}

func openFile(cfg Config, log logx.Logger) (*fileEngine, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".kv.snapshot.json"
	journalPath := prefix + ".kv.journal.jsonl"

	st := kvState{}
	if err := loadSnapshot(snapPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileEngine{
		log:          log,
		st:           st,
		snapshotPath: snapPath,
		journal:      jf,
		compactEvery: 1000,
	}, nil
}

func (f *fileEngine) get(_ context.Context, bucket string, key []byte) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.st.get(bucket, key)
	return v, ok, nil
}

func (f *fileEngine) insert(_ context.Context, bucket string, key, value []byte) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.appendLocked(journalRecord{Op: "put", Bucket: bucket, Key: key, Value: value}); err != nil {
		return nil, false, err
	}
	prev, ok := f.st.put(bucket, key, value)
	return prev, ok, nil
}

func (f *fileEngine) remove(_ context.Context, bucket string, key []byte) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.st[bucket][string(key)]; !ok {
		return nil, false, nil
	}
	if err := f.appendLocked(journalRecord{Op: "del", Bucket: bucket, Key: key}); err != nil {
		return nil, false, err
	}
	prev, ok := f.st.del(bucket, key)
	return prev, ok, nil
}

func (f *fileEngine) pairs(_ context.Context, bucket string) ([]pair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.pairs(bucket), nil
}

func (f *fileEngine) clear(_ context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.st[bucket]; !ok {
		return nil
	}
	if err := f.appendLocked(journalRecord{Op: "clear", Bucket: bucket}); err != nil {
		return err
	}
	delete(f.st, bucket)
	return nil
}

func (f *fileEngine) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.journal == nil {
		return nil
	}
	err1 := f.compactLocked()
	err2 := f.journal.Close()
	f.journal = nil
	if err1 != nil {
		return err1
	}
	return err2
}

func (f *fileEngine) appendLocked(r journalRecord) error {
	if f.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(f.journal).Encode(r); err != nil {
		return err
	}
	f.writes++
	if f.writes%f.compactEvery == 0 {
		// Best-effort compact.
		if err := f.compactLocked(); err != nil {
			f.log.Debug("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

func (f *fileEngine) compactLocked() error {
	snap := make(map[string][]pair, len(f.st))
	for b := range f.st {
		snap[b] = f.st.pairs(b)
	}

	tmp := f.snapshotPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(out).Encode(snap); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := f.journal.Truncate(0); err != nil {
		return err
	}
	_, err = f.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out kvState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap map[string][]pair
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for b, pairs := range snap {
		for _, p := range pairs {
			out.put(b, p.Key, p.Value)
		}
	}
	return nil
}

func replayJournal(path string, out kvState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 16<<20)
	for s.Scan() {
		var r journalRecord
		// A torn final line from a crash is skipped.
		if err := json.Unmarshal(s.Bytes(), &r); err != nil || r.Bucket == "" {
			continue
		}
		switch r.Op {
		case "put":
			out.put(r.Bucket, r.Key, r.Value)
		case "del":
			out.del(r.Bucket, r.Key)
		case "clear":
			delete(out, r.Bucket)
		}
	}
	return s.Err()
}
