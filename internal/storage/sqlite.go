package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "pollkit/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteEngine struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteEngine, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteEngine{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteEngine) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteEngine) close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteEngine) get(ctx context.Context, bucket string, key []byte) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE bucket = ? AND key = ?`, bucket, nonNil(key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return nonNil(v), true, nil
}

func (s *sqliteEngine) insert(ctx context.Context, bucket string, key, value []byte) (prev []byte, ok bool, err error) {
	err = s.tx(ctx, func(tx *sql.Tx) error {
		var e error
		prev, ok, e = getTx(ctx, tx, bucket, key)
		if e != nil {
			return e
		}
		_, e = tx.ExecContext(ctx,
			`INSERT INTO kv(bucket, key, value, updated_at) VALUES(?,?,?,?)
			 ON CONFLICT(bucket, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
			bucket, nonNil(key), value, time.Now().UnixMilli(),
		)
		return e
	})
	if err != nil {
		return nil, false, err
	}
	return prev, ok, nil
}

func (s *sqliteEngine) remove(ctx context.Context, bucket string, key []byte) (prev []byte, ok bool, err error) {
	err = s.tx(ctx, func(tx *sql.Tx) error {
		var e error
		prev, ok, e = getTx(ctx, tx, bucket, key)
		if e != nil || !ok {
			return e
		}
		_, e = tx.ExecContext(ctx, `DELETE FROM kv WHERE bucket = ? AND key = ?`, bucket, nonNil(key))
		return e
	})
	if err != nil {
		return nil, false, err
	}
	return prev, ok, nil
}

// pairs reads the whole bucket before returning so the single connection is
// free again when callers act on the rows.
func (s *sqliteEngine) pairs(ctx context.Context, bucket string) ([]pair, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE bucket = ? ORDER BY key`, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, err
		}
		p.Value = nonNil(p.Value)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteEngine) clear(ctx context.Context, bucket string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE bucket = ?`, bucket)
	return err
}

func (s *sqliteEngine) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func getTx(ctx context.Context, tx *sql.Tx, bucket string, key []byte) ([]byte, bool, error) {
	var v []byte
	err := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE bucket = ? AND key = ?`, bucket, nonNil(key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return nonNil(v), true, nil
}

// nonNil maps nil to an empty slice; SQLite would store nil as NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
