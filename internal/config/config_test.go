package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 8, cfg.Store.PoolSize)
	assert.Equal(t, "auto", cfg.Probe.Backend)
	assert.True(t, cfg.Watch.Enabled)
	assert.Contains(t, cfg.Exclude, IndexDirName+"/**")
}

func TestLoad_KDLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".mjrindex.kdl")
	content := `
store {
    pool_size 4
    busy_timeout_ms 2000
}
probe {
    backend "exiftool"
    exiftool "/opt/bin/exiftool"
}
watch {
    enabled false
    debounce_ms 250
}
scan {
    fast true
}
exclude "**/drafts/**"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, dir)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Store.PoolSize)
	assert.Equal(t, 2*time.Second, cfg.Store.BusyTimeout)
	assert.Equal(t, "exiftool", cfg.Probe.Backend)
	assert.Equal(t, "/opt/bin/exiftool", cfg.Probe.ExifToolPath)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, 250, cfg.Watch.DebounceMs)
	assert.True(t, cfg.Scan.FastMode)
	assert.Contains(t, cfg.Exclude, "**/drafts/**")
	// Defaults survive untouched sections.
	assert.Equal(t, 512, cfg.Scan.BatchXL)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Roots.Output)
	assert.Equal(t, 8, cfg.Store.PoolSize)
}

func TestLoad_BadKDL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".mjrindex.kdl")
	require.NoError(t, os.WriteFile(path, []byte(`store { pool_size`), 0o644))

	_, err := Load(path, dir)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MJR_PROBE_BACKEND", "ffprobe")
	t.Setenv("MJR_POOL_SIZE", "2")

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, "ffprobe", cfg.Probe.Backend)
	assert.Equal(t, 2, cfg.Store.PoolSize)
}

func TestIndexPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roots.Output = "/data/output"
	assert.Equal(t, filepath.Join("/data/output", IndexDirName), cfg.IndexDir())
	assert.Equal(t, filepath.Join("/data/output", IndexDirName, "assets.sqlite"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join("/data/output", IndexDirName, "custom_roots.json"), cfg.CustomRootsPath())
}

func TestValidator_RejectsMissingRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roots.Output = filepath.Join(t.TempDir(), "does-not-exist")
	err := NewValidator().ValidateAndSetDefaults(cfg)
	assert.Error(t, err)
}

func TestValidator_ClampsBatchOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roots.Output = t.TempDir()
	cfg.Scan.BatchMed = 1
	cfg.Scan.MaxTransactionBatch = 1

	require.NoError(t, NewValidator().ValidateAndSetDefaults(cfg))
	assert.GreaterOrEqual(t, cfg.Scan.BatchMed, cfg.Scan.BatchSmall)
	assert.GreaterOrEqual(t, cfg.Scan.MaxTransactionBatch, cfg.Scan.BatchXL)
}

func TestValidator_RejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roots.Output = t.TempDir()
	cfg.Probe.Backend = "imagemagick"
	assert.Error(t, NewValidator().ValidateAndSetDefaults(cfg))
}

func TestChannelCapacity(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2048, cfg.ChannelCapacity())
	cfg.Scan.ChannelCapacity = 64
	assert.Equal(t, 64, cfg.ChannelCapacity())
}
