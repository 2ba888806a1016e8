package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pulseworks/oura-mcp/internal/oauth"
	"github.com/pulseworks/oura-mcp/internal/storage"
)

// Config is the full server configuration, loaded from an optional YAML file
// with environment-variable overrides on top.
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port string `yaml:"port"`
	} `yaml:"server"`
	LogLevel string         `yaml:"log_level"`
	Storage  storage.Config `yaml:"storage"`
	OAuth    oauth.Config   `yaml:"oauth"`
}

// Load reads the config file at path (skipped when the file does not exist),
// applies environment overrides, and fills defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setIfEnv(&c.Server.Host, "HOST")
	setIfEnv(&c.Server.Port, "PORT")
	setIfEnv(&c.LogLevel, "LOG_LEVEL")

	setIfEnv(&c.Storage.Engine, "STORAGE_ENGINE")
	setIfEnv(&c.Storage.SQLitePath, "SQLITE_PATH")
	setIfEnv(&c.Storage.PostgresDSN, "DATABASE_URL")
	setIfEnv(&c.Storage.RedisURL, "REDIS_URL")

	setIfEnv(&c.OAuth.Issuer, "OAUTH_ISSUER")
	if v := os.Getenv("ENABLE_TEST_ENDPOINTS"); v != "" {
		c.OAuth.EnableTestEndpoints = strings.EqualFold(v, "true") || v == "1"
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.OAuth.Issuer == "" {
		c.OAuth.Issuer = "http://localhost:" + c.Server.Port
	}
	c.OAuth = c.OAuth.WithDefaults()
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
