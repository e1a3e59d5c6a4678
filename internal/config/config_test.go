package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "local", cfg.Feed.Driver)
	assert.Equal(t, "hr_sconnor", cfg.Identity.HRSenderID)
	assert.Equal(t, "(HR)", cfg.Identity.HRMarker)
	assert.Equal(t, 8080, cfg.App.HTTPPort)
	assert.Equal(t, 90*time.Second, cfg.Push.HeartbeatTimeout)
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  name: hrchat-test
  http_port: 9000
store:
  driver: postgres
database:
  host: db.local
  port: 5433
identity:
  hr_sender_id: hr_ops
push:
  heartbeat_timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("POSTGRES_HOST", "db.override")
	t.Setenv("FEED_DRIVER", "nats")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hrchat-test", cfg.App.Name)
	assert.Equal(t, 9000, cfg.App.HTTPPort)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "db.override", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "nats", cfg.Feed.Driver)
	assert.Equal(t, "hr_ops", cfg.Identity.HRSenderID)
	assert.Equal(t, 45*time.Second, cfg.Push.HeartbeatTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("HRCHAT_TEST_INT", "42")
	t.Setenv("HRCHAT_TEST_BAD_INT", "abc")
	t.Setenv("HRCHAT_TEST_DURATION", "2s")

	assert.Equal(t, 42, GetEnvInt("HRCHAT_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("HRCHAT_TEST_BAD_INT", 1))
	assert.Equal(t, 2*time.Second, GetEnvDuration("HRCHAT_TEST_DURATION", time.Second))
	assert.Equal(t, "fallback", GetEnv("HRCHAT_TEST_UNSET", "fallback"))
}
