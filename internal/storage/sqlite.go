package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// timeLayout is RFC 3339 in UTC with second precision. The fixed width keeps
// lexicographic comparison equivalent to chronological comparison, which the
// sweep relies on.
const timeLayout = "2006-01-02T15:04:05Z"

// SQLiteStore is the durable file-backed engine: one database file, one
// records table, keys prefixed by the caller.
type SQLiteStore struct {
	db       *sql.DB
	initOnce sync.Once
	initErr  error
}

// NewSQLiteStore opens (or creates) the database file at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// modernc sqlite serializes writes within a connection; a single
	// connection avoids SQLITE_BUSY between concurrent handlers.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	s.initOnce.Do(func() {
		_, s.initErr = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS records (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				created_at TEXT NOT NULL,
				expires_at TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_records_expires
				ON records(expires_at)
				WHERE expires_at IS NOT NULL;
		`)
		if s.initErr != nil {
			s.initErr = fmt.Errorf("initializing sqlite schema: %w", s.initErr)
		}
	})
	return s.initErr
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := s.init(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", key, err)
	}

	now := time.Now().UTC()
	var expiresAt sql.NullString
	if ttl > 0 {
		expiresAt = sql.NullString{String: now.Add(ttl).Format(timeLayout), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (key, value, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		key, string(payload), now.Format(timeLayout), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("storing record %s: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	if err := s.init(ctx); err != nil {
		return false, err
	}

	var payload string
	var expiresAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM records WHERE key = ?`, key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading record %s: %w", key, err)
	}

	if expiresAt.Valid {
		exp, parseErr := time.Parse(timeLayout, expiresAt.String)
		if parseErr != nil || time.Now().UTC().After(exp) {
			_ = s.Delete(ctx, key)
			return false, nil
		}
	}

	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		return false, fmt.Errorf("decoding record %s: %w", key, err)
	}
	return true, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := s.init(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting record %s: %w", key, err)
	}
	return nil
}

// Exists implements Store.
func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var raw json.RawMessage
	return s.Get(ctx, key, &raw)
}

// Sweep implements Store.
func (s *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	if err := s.init(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE expires_at IS NOT NULL AND expires_at < ?`,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired records: %w", err)
	}
	return res.RowsAffected()
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
