// Package config loads application configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/hkdf"
)

// keyInfo binds the derived key to its single use.
const keyInfo = "bclient credential encryption v1"

// Config holds the broker configuration. Durations accept Go duration strings.
type Config struct {
	ListenAddr       string        `mapstructure:"BCLIENT_LISTEN_ADDR"`
	DBPath           string        `mapstructure:"BCLIENT_DB_PATH"`
	SecretKey        string        `mapstructure:"BCLIENT_SECRET_KEY"`
	RefreshInterval  time.Duration `mapstructure:"BCLIENT_REFRESH_INTERVAL"`
	SessionTTL       time.Duration `mapstructure:"BCLIENT_SESSION_TTL"`
	HTTPTimeout      time.Duration `mapstructure:"BCLIENT_HTTP_TIMEOUT"`
	AddressCacheTTL  time.Duration `mapstructure:"BCLIENT_ADDRESS_CACHE_TTL"`
	AddressCacheSize int           `mapstructure:"BCLIENT_ADDRESS_CACHE_SIZE"`
	// SitesFile is an optional YAML site table. When empty only the default
	// site at DefaultSiteURL is known.
	SitesFile      string `mapstructure:"BCLIENT_SITES_FILE"`
	DefaultSiteURL string `mapstructure:"BCLIENT_DEFAULT_SITE_URL"`
	NodeID         string `mapstructure:"BCLIENT_NODE_ID"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env. BCLIENT_SECRET_KEY is required.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("BCLIENT_LISTEN_ADDR", "0.0.0.0:3000")
	v.SetDefault("BCLIENT_DB_PATH", "bclient.db")
	v.SetDefault("BCLIENT_SECRET_KEY", "")
	v.SetDefault("BCLIENT_REFRESH_INTERVAL", "30m")
	v.SetDefault("BCLIENT_SESSION_TTL", "24h")
	v.SetDefault("BCLIENT_HTTP_TIMEOUT", "10s")
	v.SetDefault("BCLIENT_ADDRESS_CACHE_TTL", "5m")
	v.SetDefault("BCLIENT_ADDRESS_CACHE_SIZE", 1024)
	v.SetDefault("BCLIENT_SITES_FILE", "")
	v.SetDefault("BCLIENT_DEFAULT_SITE_URL", "http://localhost:5000")
	v.SetDefault("BCLIENT_NODE_ID", "b-client")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SecretKey == "" {
		return errors.New("config: BCLIENT_SECRET_KEY must be set")
	}
	if c.ListenAddr == "" {
		return errors.New("config: BCLIENT_LISTEN_ADDR must be set")
	}
	durations := map[string]time.Duration{
		"BCLIENT_REFRESH_INTERVAL":  c.RefreshInterval,
		"BCLIENT_SESSION_TTL":       c.SessionTTL,
		"BCLIENT_HTTP_TIMEOUT":      c.HTTPTimeout,
		"BCLIENT_ADDRESS_CACHE_TTL": c.AddressCacheTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	if c.AddressCacheSize <= 0 {
		return fmt.Errorf("config: BCLIENT_ADDRESS_CACHE_SIZE must be positive, got %d", c.AddressCacheSize)
	}
	return nil
}

// EncryptionKey derives the 32-byte AES-256 key for credential passwords from
// SecretKey with HKDF-SHA256.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.SecretKey == "" {
		return nil, errors.New("config: BCLIENT_SECRET_KEY must be set")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(c.SecretKey), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	return key, nil
}
