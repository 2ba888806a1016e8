package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulseworks/oura-mcp/internal/storage"
)

// Collection partitions the shared store into an independent logical table by
// prefixing every key, and applies a default TTL to writes.
type Collection struct {
	store      storage.Store
	prefix     string
	defaultTTL time.Duration
}

func (c *Collection) key(k string) string {
	return c.prefix + ":" + k
}

// Set stores a value under the collection's default TTL.
func (c *Collection) Set(ctx context.Context, key string, value any) error {
	return c.store.Set(ctx, c.key(key), value, c.defaultTTL)
}

// SetTTL stores a value with an explicit TTL, overriding the default.
func (c *Collection) SetTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.store.Set(ctx, c.key(key), value, ttl)
}

// Get unmarshals the value into dest and reports whether it was found.
func (c *Collection) Get(ctx context.Context, key string, dest any) (bool, error) {
	return c.store.Get(ctx, c.key(key), dest)
}

// Delete removes the key. Idempotent.
func (c *Collection) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, c.key(key))
}

// Exists reports whether a live record exists for key.
func (c *Collection) Exists(ctx context.Context, key string) (bool, error) {
	return c.store.Exists(ctx, c.key(key))
}

// Manager owns the four OAuth namespaces over a single store and the token
// lifecycle conveniences built on them.
type Manager struct {
	store storage.Store
	cfg   Config

	Clients      *Collection
	AuthCodes    *Collection
	AccessTokens *Collection
	UserTokens   *Collection
}

// NewManager wires the namespaces with their default TTLs: clients and user
// tokens never expire, auth codes expire with the code lifetime, access
// tokens with the access lifetime.
func NewManager(store storage.Store, cfg Config) *Manager {
	cfg = cfg.WithDefaults()
	return &Manager{
		store:        store,
		cfg:          cfg,
		Clients:      &Collection{store: store, prefix: "client"},
		AuthCodes:    &Collection{store: store, prefix: "auth_code", defaultTTL: cfg.AuthCodeTTL},
		AccessTokens: &Collection{store: store, prefix: "access_token", defaultTTL: cfg.AccessTokenTTL},
		UserTokens:   &Collection{store: store, prefix: "user_token"},
	}
}

// Config returns the effective (defaulted) configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// CreateAccessToken persists an access token. A zero ttl uses the configured
// access-token lifetime.
func (m *Manager) CreateAccessToken(ctx context.Context, token string, data Token, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.cfg.AccessTokenTTL
	}
	return m.AccessTokens.SetTTL(ctx, token, data, ttl)
}

// CreateRefreshToken persists a refresh token. Refresh tokens share the
// access-token namespace, distinguished by the IsRefreshToken tag.
func (m *Manager) CreateRefreshToken(ctx context.Context, token string, data Token) error {
	data.IsRefreshToken = true
	return m.AccessTokens.SetTTL(ctx, token, data, m.cfg.RefreshTokenTTL)
}

// ValidateToken resolves an opaque access token to its record. A token that
// is unknown, tagged as a refresh token, or past its recorded expiration
// (deleted as a side effect) yields found == false.
func (m *Manager) ValidateToken(ctx context.Context, token string) (*Token, bool, error) {
	var record Token
	found, err := m.AccessTokens.Get(ctx, token, &record)
	if err != nil {
		return nil, false, fmt.Errorf("resolving access token: %w", err)
	}
	if !found || record.IsRefreshToken {
		return nil, false, nil
	}
	if record.Expired(time.Now().UTC()) {
		_ = m.AccessTokens.Delete(ctx, token)
		return nil, false, nil
	}
	return &record, true, nil
}

// ResolveUserToken returns the Oura credential stored for a user.
func (m *Manager) ResolveUserToken(ctx context.Context, userID string) (*UserToken, bool, error) {
	var record UserToken
	found, err := m.UserTokens.Get(ctx, userID, &record)
	if err != nil {
		return nil, false, fmt.Errorf("resolving user token: %w", err)
	}
	return &record, found, nil
}

// CleanupExpired purges every expired record across all namespaces.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	return m.store.Sweep(ctx)
}

// RunSweeper purges expired records on a fixed interval until ctx is
// canceled. Sweep failures are logged and never stop the loop.
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := m.CleanupExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("token sweep failed")
				continue
			}
			if count > 0 {
				log.Info().Int64("removed", count).Msg("swept expired records")
			}
		}
	}
}
