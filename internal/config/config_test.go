package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromFileMissingKeysKeepDefaults(t *testing.T) {
	path := writeTempConfig(t, `
fetch_concurrency = 16
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.FetchConcurrency)
	assert.Equal(t, Default().FetchWorkers, cfg.FetchWorkers, "an omitted key keeps its default")
	assert.Equal(t, Default().RequestsPerMinute, cfg.RequestsPerMinute)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromFileInvalidValueFallsBackWithWarning(t *testing.T) {
	path := writeTempConfig(t, `
fetch_concurrency = -1
requests_per_minute = 0
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, Default().FetchConcurrency, cfg.FetchConcurrency)
	assert.Equal(t, Default().RequestsPerMinute, cfg.RequestsPerMinute)
	assert.Len(t, cfg.Warnings, 2, "one warning per invalid field, not one warning for the whole file")
}

func TestLoadFromFileMalformedTOMLRecoversToDefaults(t *testing.T) {
	path := writeTempConfig(t, `this is not { valid toml`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err, "a malformed file recovers via defaults rather than failing the load")
	assert.Equal(t, Default().FetchConcurrency, cfg.FetchConcurrency)
	assert.Len(t, cfg.Warnings, 1)
}

func TestLoadFromFileUnknownKeysAreIgnored(t *testing.T) {
	path := writeTempConfig(t, `
totally_unknown_key = "whatever"
fetch_concurrency = 4
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.FetchConcurrency)
}

func TestScraperConfigConversion(t *testing.T) {
	cfg := Default()
	cfg.Scraper.Visible = true
	sc := cfg.Scraper.ToScraperConfig()
	assert.Equal(t, cfg.Scraper.TimeoutSecs, sc.TimeoutSecs)
	assert.Equal(t, cfg.Scraper.BlockImages, sc.BlockImages)
	assert.True(t, sc.Visible, "visible must reach the scraper config so --visible can surface a window")
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rivulet.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}
