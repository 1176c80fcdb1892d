package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mcpconnect/pkg/logging"

	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a SQLite file. Instances on the same host (or
// a shared volume) see the same keys. Expiry is evaluated at read time and
// expired rows are swept periodically.
type SQLite struct {
	db  *sql.DB
	now func() time.Time

	stopCleanup chan struct{}
}

// NewSQLite opens (creating if needed) a SQLite store at path.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes writers; PRAGMAs below are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv(expires_at);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &SQLite{db: db, now: time.Now, stopCleanup: make(chan struct{})}
	go s.cleanupLoop()

	logging.Info("KVStore", "SQLite store initialized at %s", path)
	return s, nil
}

// expiresAt encodes a TTL as unix milliseconds, 0 meaning no expiry.
func (s *SQLite) expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixMilli()
}

func (s *SQLite) live(expires int64) bool {
	return expires == 0 || s.now().UnixMilli() < expires
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expires int64
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	if !s.live(expires) {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.expiresAt(ttl))
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Take relies on DELETE ... RETURNING so only one connection can claim the row.
func (s *SQLite) Take(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expires int64
	err := s.db.QueryRowContext(ctx, `DELETE FROM kv WHERE key = ? RETURNING value, expires_at`, key).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taking %s: %w", key, err)
	}
	if !s.live(expires) {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLite) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE key >= ? AND key < ? AND (expires_at = 0 OR expires_at > ?)`,
		prefix, prefixUpperBound(prefix), s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("listing %s*: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// prefixUpperBound returns the smallest string greater than every string with prefix.
func prefixUpperBound(prefix string) string {
	if prefix == "" {
		return "\U0010FFFF"
	}
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return prefix + "\xff"
}

func (s *SQLite) Close() error {
	close(s.stopCleanup)
	return s.db.Close()
}

func (s *SQLite) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.db.Exec(`DELETE FROM kv WHERE expires_at != 0 AND expires_at <= ?`, s.now().UnixMilli())
			if err != nil {
				logging.Warn("KVStore", "SQLite sweep failed: %v", err)
				continue
			}
			if n, _ := res.RowsAffected(); n > 0 {
				logging.Debug("KVStore", "Swept %d expired keys", n)
			}
		case <-s.stopCleanup:
			return
		}
	}
}
