package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
listenAddr: ":9090"
dataRoot: /var/lib/mailsync
natsURL: nats://nats.internal:4222
authServerURL: https://auth.example.com
jwksURL: https://auth.example.com/jwks
pollInterval: 45s
maxResults: 200
batchSize: 25
fetch:
  headers: true
  body: true
  labels: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/mailsync", cfg.DataRoot)
	assert.Equal(t, "nats://nats.internal:4222", cfg.NatsURL)
	assert.Equal(t, "https://auth.example.com", cfg.AuthServerURL)
	assert.Equal(t, "https://auth.example.com/jwks", cfg.JwksURL)
	assert.Equal(t, 45*time.Second, cfg.PollInterval)
	assert.Equal(t, 200, cfg.MaxResults)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.True(t, cfg.Fetch.Headers)
	assert.True(t, cfg.Fetch.Body)
	assert.True(t, cfg.Fetch.Labels)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "jwksURL: https://auth.example.com/jwks\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "data", cfg.DataRoot)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NatsURL)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	// Zero means "use the component default" downstream.
	assert.Equal(t, 0, cfg.MaxResults)
	assert.Equal(t, 0, cfg.BatchSize)
	assert.False(t, cfg.Fetch.Body)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "listenAddr: [:::\n")

	_, err := Load(path)
	assert.Error(t, err)
}
