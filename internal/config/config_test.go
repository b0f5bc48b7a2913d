package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagebuilder/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 5*time.Second, cfg.Engine.ActionTimeout.Duration)
	assert.Equal(t, 10*time.Second, cfg.Engine.EventTimeout.Duration)
	assert.Equal(t, 100, cfg.Cache.MaxEntries)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL.Duration)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr = "0.0.0.0:9000"
allowed_origins = ["https://builder.example"]
history_limit = 20

[engine]
action_timeout = "2s"

[cache]
max_entries = 10
ttl = "30s"
`), 0o644))

	t.Setenv("PAGEBUILDER_HISTORY_LIMIT", "30")
	t.Setenv("PAGEBUILDER_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, 30, cfg.HistoryLimit)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 2*time.Second, cfg.Engine.ActionTimeout.Duration)
	assert.Equal(t, 10*time.Second, cfg.Engine.EventTimeout.Duration)
	assert.Equal(t, 10, cfg.Cache.MaxEntries)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL.Duration)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoad_WithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PAGEBUILDER_EVENT_TIMEOUT", "3s")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Engine.EventTimeout.Duration)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAGEBUILDER_HISTORY_LIMIT", "many")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "HISTORY_LIMIT")

	t.Setenv("PAGEBUILDER_HISTORY_LIMIT", "0")
	_, err = config.Load("")
	assert.ErrorContains(t, err, "history_limit")
}

func TestLoad_DBPathFollowsDataDir(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	t.Setenv("PAGEBUILDER_DATA_DIR", dir)
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pagebuilder.db"), cfg.DBPath)
}
