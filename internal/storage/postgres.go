package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
)

// PostgresStore backs the record table with Postgres for deployments that
// already run one.
type PostgresStore struct {
	db       *sql.DB
	initOnce sync.Once
	initErr  error
}

// NewPostgresStore connects to Postgres using the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	s.initOnce.Do(func() {
		_, s.initErr = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS records (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_records_expires
				ON records(expires_at)
				WHERE expires_at IS NOT NULL;
		`)
		if s.initErr != nil {
			s.initErr = fmt.Errorf("initializing postgres schema: %w", s.initErr)
		}
	})
	return s.initErr
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := s.init(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", key, err)
	}

	now := time.Now().UTC()
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: now.Add(ttl), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (key, value, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		key, string(payload), now, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("storing record %s: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	if err := s.init(ctx); err != nil {
		return false, err
	}

	var payload string
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM records WHERE key = $1`, key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading record %s: %w", key, err)
	}

	if expiresAt.Valid && time.Now().UTC().After(expiresAt.Time) {
		_ = s.Delete(ctx, key)
		return false, nil
	}

	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		return false, fmt.Errorf("decoding record %s: %w", key, err)
	}
	return true, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if err := s.init(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("deleting record %s: %w", key, err)
	}
	return nil
}

// Exists implements Store.
func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	var raw json.RawMessage
	return s.Get(ctx, key, &raw)
}

// Sweep implements Store.
func (s *PostgresStore) Sweep(ctx context.Context) (int64, error) {
	if err := s.init(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE expires_at IS NOT NULL AND expires_at < $1`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired records: %w", err)
	}
	return res.RowsAffected()
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
