package oauth

import (
	"strings"
	"time"
)

// Config holds OAuth server settings.
type Config struct {
	Issuer              string        `yaml:"issuer"`
	Scopes              []string      `yaml:"scopes"`
	AccessTokenTTL      time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL     time.Duration `yaml:"refresh_token_ttl"`
	AuthCodeTTL         time.Duration `yaml:"auth_code_ttl"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	EnableTestEndpoints bool          `yaml:"enable_test_endpoints"`
}

// WithDefaults fills unset fields with the standard lifetimes: 1 hour access
// tokens, 30 day refresh tokens, 10 minute authorization codes, hourly sweep.
func (c Config) WithDefaults() Config {
	c.Issuer = strings.TrimRight(c.Issuer, "/")
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"oura:read"}
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = time.Hour
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.AuthCodeTTL <= 0 {
		c.AuthCodeTTL = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	return c
}
