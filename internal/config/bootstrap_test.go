package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader_AppliesDefaultsWithNoConfigFile(t *testing.T) {
	_, cfg, err := NewLoader("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAmbient(), cfg)
}

func TestNewLoader_ReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nvrengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_path: /data/custom.db\nlog_level: debug\n"), 0o644))

	_, cfg, err := NewLoader(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/custom.db", cfg.DatabasePath)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestNewLoader_EnvironmentOverridesDefault(t *testing.T) {
	t.Setenv("NVRENGINE_LOG_LEVEL", "warn")
	_, cfg, err := NewLoader("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoader_WatchNotifiesOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nvrengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o644))

	loader, _, err := NewLoader(path)
	require.NoError(t, err)

	updates := make(chan Ambient, 4)
	require.NoError(t, loader.Watch(func(a Ambient) { updates <- a }))

	require.NoError(t, os.WriteFile(path, []byte("log_level: error\n"), 0o644))

	select {
	case a := <-updates:
		assert.Equal(t, "error", a.LogLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch notification")
	}
}

func TestNewLoader_MissingFileReturnsError(t *testing.T) {
	_, _, err := NewLoader("/nonexistent/path/nvrengine.yaml")
	assert.Error(t, err)
}
