package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	home := t.TempDir()

	cfg, err := New(home)
	require.NoError(t, err)
	resolved, err := FromViper(cfg)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".hiddenprofile"), resolved.DataDir)
	assert.Equal(t, DriverSQLite, resolved.StoreDriver)
	assert.Equal(t, filepath.Join(home, ".hiddenprofile", "hiddenprofile.db"), resolved.StorePath)
	assert.Equal(t, 500*time.Millisecond, resolved.PollInterval)
	assert.Equal(t, 10*time.Minute, resolved.ChangeRetention)
	assert.Equal(t, uint(4), resolved.RetryAttempts)
	assert.Equal(t, uint(8), resolved.ConflictRetries)
	assert.False(t, resolved.RequireApproval)
	assert.Empty(t, resolved.File)
	assert.Equal(t, filepath.Join(home, ".hiddenprofile", "secrets"), resolved.SecretsDir())
}

func TestConfigFileAndEnvironment(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, ".hiddenprofile")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[store]
driver = "memory"

[task]
require_approval = true

[feed]
poll_interval = "2s"
`), 0o600))

	t.Setenv("HP_FEED_POLL_INTERVAL", "250ms")
	t.Setenv("HP_COORDINATOR_CONFLICT_RETRIES", "3")

	cfg, err := New(home)
	require.NoError(t, err)
	resolved, err := FromViper(cfg)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, resolved.StoreDriver)
	assert.True(t, resolved.RequireApproval)
	assert.Equal(t, 250*time.Millisecond, resolved.PollInterval)
	assert.Equal(t, uint(3), resolved.ConflictRetries)
	assert.Equal(t, filepath.Join(dir, "config.toml"), resolved.File)
}

func TestValidateRejectsBadValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HP_STORE_DRIVER", "postgres")
	t.Setenv("HP_FEED_RETRY_INITIAL", "10s")

	cfg, err := New(home)
	require.NoError(t, err)

	_, err = FromViper(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "feed.retry.initial")
}

func TestValidateRejectsShortChangeRetention(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HP_FEED_POLL_INTERVAL", "1s")
	t.Setenv("HP_FEED_CHANGE_RETENTION", "5s")

	cfg, err := New(home)
	require.NoError(t, err)

	_, err = FromViper(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "feed.change_retention")
}

func TestMalformedConfigFileFails(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, ".hiddenprofile")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[store"), 0o600))

	_, err := New(home)
	require.Error(t, err)
}
