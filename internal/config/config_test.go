package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every BCLIENT_ env var that Load() reads.
var allConfigKeys = []string{
	"BCLIENT_LISTEN_ADDR",
	"BCLIENT_DB_PATH",
	"BCLIENT_SECRET_KEY",
	"BCLIENT_REFRESH_INTERVAL",
	"BCLIENT_SESSION_TTL",
	"BCLIENT_HTTP_TIMEOUT",
	"BCLIENT_ADDRESS_CACHE_TTL",
	"BCLIENT_ADDRESS_CACHE_SIZE",
	"BCLIENT_SITES_FILE",
	"BCLIENT_DEFAULT_SITE_URL",
	"BCLIENT_NODE_ID",
}

// isolateConfigEnv saves and unsets all BCLIENT_ env vars so tests don't
// inherit values from the host environment.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("BCLIENT_SECRET_KEY", "s3cret")
	t.Setenv("BCLIENT_LISTEN_ADDR", "127.0.0.1:9090")
	t.Setenv("BCLIENT_DB_PATH", "/tmp/test.db")
	t.Setenv("BCLIENT_REFRESH_INTERVAL", "10m")
	t.Setenv("BCLIENT_SESSION_TTL", "48h")
	t.Setenv("BCLIENT_ADDRESS_CACHE_SIZE", "16")
	t.Setenv("BCLIENT_NODE_ID", "broker-7")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, 10*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, 48*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 16, cfg.AddressCacheSize)
	assert.Equal(t, "broker-7", cfg.NodeID)
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("BCLIENT_SECRET_KEY", "s3cret")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:3000", cfg.ListenAddr)
	assert.Equal(t, "bclient.db", cfg.DBPath)
	assert.Equal(t, 30*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 5*time.Minute, cfg.AddressCacheTTL)
	assert.Equal(t, 1024, cfg.AddressCacheSize)
	assert.Empty(t, cfg.SitesFile)
	assert.Equal(t, "http://localhost:5000", cfg.DefaultSiteURL)
	assert.Equal(t, "b-client", cfg.NodeID)
}

func TestLoad_MissingSecret(t *testing.T) {
	isolateConfigEnv(t)

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "BCLIENT_SECRET_KEY")
}

func TestLoad_InvalidDuration(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("BCLIENT_SECRET_KEY", "s3cret")
	t.Setenv("BCLIENT_REFRESH_INTERVAL", "not-a-duration")

	_, err := Load()

	require.Error(t, err)
}

func TestLoad_NonPositiveDuration(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("BCLIENT_SECRET_KEY", "s3cret")
	t.Setenv("BCLIENT_SESSION_TTL", "0s")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "BCLIENT_SESSION_TTL")
}

func TestEncryptionKey_Deterministic(t *testing.T) {
	a := &Config{SecretKey: "s3cret"}
	b := &Config{SecretKey: "s3cret"}
	c := &Config{SecretKey: "other"}

	ka, err := a.EncryptionKey()
	require.NoError(t, err)
	kb, err := b.EncryptionKey()
	require.NoError(t, err)
	kc, err := c.EncryptionKey()
	require.NoError(t, err)

	assert.Len(t, ka, 32)
	assert.Equal(t, ka, kb)
	assert.NotEqual(t, ka, kc)
}

func TestEncryptionKey_Empty(t *testing.T) {
	_, err := (&Config{}).EncryptionKey()
	assert.Error(t, err)
}
