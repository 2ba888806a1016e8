package storage

import (
	"context"
	"fmt"
	"time"
)

// Store is a key-value store with per-record expiration. Values are
// JSON-serialized. A record whose expiration has passed is treated as absent
// by every read path and removed as a side effect.
type Store interface {
	// Set upserts a record. A positive ttl sets the expiration to now+ttl;
	// ttl == 0 stores the record without expiration. Any previous value and
	// expiration for the key are overwritten.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Get unmarshals the record into dest and reports whether it was found.
	// An expired record is deleted and reported as absent.
	Get(ctx context.Context, key string, dest any) (bool, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a live (non-expired) record exists for key.
	Exists(ctx context.Context, key string) (bool, error)

	// Sweep deletes every record whose expiration is in the past and
	// returns the number removed.
	Sweep(ctx context.Context) (int64, error)

	// Ping verifies connectivity to the backing engine.
	Ping(ctx context.Context) error

	// Close releases the engine's resources.
	Close() error
}

// Config selects and parameterizes a storage engine.
type Config struct {
	Engine      string `yaml:"engine"`       // sqlite, postgres, redis, memory
	SQLitePath  string `yaml:"sqlite_path"`  // sqlite only
	PostgresDSN string `yaml:"postgres_dsn"` // postgres only
	RedisURL    string `yaml:"redis_url"`    // redis only
}

// Open constructs the store named by cfg.Engine.
func Open(cfg Config) (Store, error) {
	switch cfg.Engine {
	case "", "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "data/tokens.db"
		}
		return NewSQLiteStore(path)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres engine requires a DSN")
		}
		return NewPostgresStore(cfg.PostgresDSN)
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis engine requires a URL")
		}
		return NewRedisStore(cfg.RedisURL)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage engine: %s", cfg.Engine)
	}
}
