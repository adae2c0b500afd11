package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// SQLite is a file- or memory-backed [TagStore] built on modernc.org/sqlite
// (no cgo). It survives process restarts when given a file path, making it
// a durable tier for single-host deployments without a cache server.
// Values are msgpack-encoded. A background janitor removes expired rows.
type SQLite struct {
	db     *sql.DB
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var _ TagStore = (*SQLite)(nil)

// NewSQLite opens (or creates) the store at dbPath. An empty path or
// ":memory:" yields an in-memory database. expiryCheck controls how often
// expired rows are cleaned up; values ≤ 0 default to one minute.
func NewSQLite(ctx context.Context, dbPath string, expiryCheck time.Duration) (*SQLite, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise open its own empty
		// database; pin the pool to the one holding the data.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache_tags (
		tag TEXT NOT NULL,
		key TEXT NOT NULL,
		PRIMARY KEY (tag, key)
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at)`); err != nil {
		db.Close()
		return nil, err
	}

	if expiryCheck <= 0 {
		expiryCheck = time.Minute
	}
	childCtx, cancel := context.WithCancel(ctx)
	s := &SQLite{db: db, ctx: childCtx, cancel: cancel}
	s.wg.Add(1)
	go s.janitor(expiryCheck)
	return s, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (any, bool, error) {
	var data []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache WHERE key = ?`, key,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}
	if expiresAt != 0 && expiresAt < time.Now().UnixNano() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
		return nil, false, nil
	}
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("store: decode %q: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLite) Put(ctx context.Context, key string, val any, ttl time.Duration) error {
	return s.PutTagged(ctx, key, val, ttl, nil)
}

func (s *SQLite) PutTagged(ctx context.Context, key string, val any, ttl time.Duration, tags []string) error {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return fmt.Errorf("store: encode %q: %w", key, err)
	}
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, data, expiresAt,
	); err != nil {
		return unavailable(err)
	}
	// Re-putting a key replaces its tag membership entirely.
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_tags WHERE key = ?`, key); err != nil {
		return unavailable(err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO cache_tags (tag, key) VALUES (?, ?)`, tag, key,
		); err != nil {
			return unavailable(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *SQLite) Forget(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
	if err != nil {
		return false, unavailable(err)
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_tags WHERE key = ?`, key)
	rows, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return rows > 0, nil
}

func (s *SQLite) Flush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache`); err != nil {
		return unavailable(err)
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_tags`)
	return nil
}

func (s *SQLite) FlushTags(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
	args := make([]any, len(tags))
	for i, t := range tags {
		args[i] = t
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache WHERE key IN (SELECT key FROM cache_tags WHERE tag IN (`+placeholders+`))`,
		args...,
	); err != nil {
		return unavailable(err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_tags WHERE tag IN (`+placeholders+`)`, args...,
	); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *SQLite) Close() error {
	var dbErr error
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		dbErr = s.db.Close()
	})
	return dbErr
}

func (s *SQLite) janitor(every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			_, _ = s.db.Exec(`DELETE FROM cache WHERE expires_at != 0 AND expires_at < ?`, now)
		}
	}
}
