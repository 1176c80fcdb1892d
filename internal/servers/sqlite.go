package servers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mcpconnect/pkg/logging"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps server records in a SQLite table. Token expiry is stored
// as unix milliseconds; NULL means unknown.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the records database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS servers (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			url TEXT NOT NULL,
			name TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			auth_status TEXT NOT NULL DEFAULT 'unauthenticated',
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			token_expires_at INTEGER,
			client_id TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_servers_user_id ON servers(user_id);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logging.Info("Servers", "SQLite server store initialized at %s", path)
	return &SQLiteStore{db: db}, nil
}

const selectColumns = `id, user_id, url, name, enabled, auth_status, access_token, refresh_token, token_expires_at, client_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r       Record
		enabled int
		status  string
		expires sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.URL, &r.Name, &enabled, &status,
		&r.AccessToken, &r.RefreshToken, &expires, &r.ClientID); err != nil {
		return nil, err
	}
	r.Enabled = enabled != 0
	r.AuthStatus = AuthStatus(status)
	if expires.Valid {
		t := time.UnixMilli(expires.Int64).UTC()
		r.TokenExpiresAt = &t
	}
	return &r, nil
}

func recordArgs(r *Record) []any {
	var expires sql.NullInt64
	if r.TokenExpiresAt != nil {
		expires = sql.NullInt64{Int64: r.TokenExpiresAt.UnixMilli(), Valid: true}
	}
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	status := r.AuthStatus
	if status == "" {
		status = AuthStatusUnauthenticated
	}
	return []any{r.UserID, r.URL, r.Name, enabled, string(status), r.AccessToken, r.RefreshToken, expires, r.ClientID, r.ID}
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM servers WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading server %s: %w", id, err)
	}
	return r, nil
}

// ListByUser returns the user's servers ordered by id. An empty userID lists all.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]*Record, error) {
	query := `SELECT ` + selectColumns + ` FROM servers`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Create(ctx context.Context, r *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO servers (user_id, url, name, enabled, auth_status, access_token, refresh_token, token_expires_at, client_id, id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, recordArgs(r)...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, r.ID)
		}
		return fmt.Errorf("creating server %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, r *Record) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE servers SET user_id = ?, url = ?, name = ?, enabled = ?, auth_status = ?,
		 access_token = ?, refresh_token = ?, token_expires_at = ?, client_id = ? WHERE id = ?`, recordArgs(r)...)
	if err != nil {
		return fmt.Errorf("updating server %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting server %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
