package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openEngines(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range openEngines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "k1", record{Name: "a", Count: 3}, 0))

			var got record
			found, err := store.Get(ctx, "k1", &got)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, record{Name: "a", Count: 3}, got)

			found, err = store.Get(ctx, "missing", &got)
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}

func TestSetOverwritesValueAndTTL(t *testing.T) {
	ctx := context.Background()
	for name, store := range openEngines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "k", record{Name: "old"}, 50*time.Millisecond))
			require.NoError(t, store.Set(ctx, "k", record{Name: "new"}, 0))

			time.Sleep(80 * time.Millisecond)

			var got record
			found, err := store.Get(ctx, "k", &got)
			require.NoError(t, err)
			require.True(t, found, "second Set cleared the expiration")
			require.Equal(t, "new", got.Name)
		})
	}
}

func TestExpiredRecordIsAbsentAndDeleted(t *testing.T) {
	ctx := context.Background()
	for name, store := range openEngines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "short", record{Name: "x"}, 30*time.Millisecond))

			var got record
			found, err := store.Get(ctx, "short", &got)
			require.NoError(t, err)
			require.True(t, found, "retrievable before expiry")

			time.Sleep(60 * time.Millisecond)

			found, err = store.Get(ctx, "short", &got)
			require.NoError(t, err)
			require.False(t, found, "absent after expiry")

			// Physically gone: a sweep right after finds nothing left.
			n, err := store.Sweep(ctx)
			require.NoError(t, err)
			require.Zero(t, n)
		})
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, store := range openEngines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "k", record{}, 0))
			require.NoError(t, store.Delete(ctx, "k"))
			require.NoError(t, store.Delete(ctx, "k"))

			exists, err := store.Exists(ctx, "k")
			require.NoError(t, err)
			require.False(t, exists)
		})
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	for name, store := range openEngines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "live", record{}, time.Hour))
			require.NoError(t, store.Set(ctx, "forever", record{}, 0))
			require.NoError(t, store.Set(ctx, "dead1", record{}, 20*time.Millisecond))
			require.NoError(t, store.Set(ctx, "dead2", record{}, 20*time.Millisecond))

			time.Sleep(50 * time.Millisecond)

			n, err := store.Sweep(ctx)
			require.NoError(t, err)
			require.EqualValues(t, 2, n)

			for _, key := range []string{"live", "forever"} {
				exists, err := store.Exists(ctx, key)
				require.NoError(t, err)
				require.True(t, exists, key)
			}
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.db")

	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "persistent", record{Name: "kept"}, 0))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer second.Close()

	var got record
	found, err := second.Get(ctx, "persistent", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "kept", got.Name)
}

func TestOpenSelectsEngine(t *testing.T) {
	store, err := Open(Config{Engine: "memory"})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, store)

	store, err = Open(Config{Engine: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "t.db")})
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open(Config{Engine: "cassandra"})
	require.Error(t, err)
}
