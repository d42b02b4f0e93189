package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "./data", cfg.Data.Dir)
	assert.Equal(t, "simple", cfg.Data.Mode)
	assert.Len(t, cfg.Source.ManualFiles, 4)
	assert.Equal(t, "brampton_traffic.geojson", cfg.Source.ManualFiles[0])
	require.Len(t, cfg.Source.Remote, 2)
	assert.Equal(t, "geohub", cfg.Source.Remote[0].Name)
	assert.Equal(t, "arcgis", cfg.Source.Remote[1].Name)
	assert.Equal(t, "geojson", cfg.Source.Remote[1].Params["f"])
	assert.True(t, cfg.Source.Download)
	assert.Equal(t, "brampton_traffic.geojson", cfg.Source.SaveAs)
	assert.Equal(t, "geom", cfg.Source.PostGIS.GeomColumn)
	assert.Equal(t, "highway", cfg.Roads.ClassField)
	assert.Equal(t, 0, cfg.Volume.LatestYear)
	assert.Equal(t, 5, cfg.Query.K)
	assert.InDelta(t, 0.0, cfg.Query.MaxDistance, 1e-12)
	assert.Equal(t, 0, cfg.Query.Workers)
	assert.Equal(t, 10000, cfg.Batch.ChunkSize)
	assert.Equal(t, "lon", cfg.Batch.LonColumn)
	assert.Equal(t, "lat", cfg.Batch.LatColumn)
	assert.Equal(t, "traffic_score", cfg.Batch.ScoreColumn)
	assert.True(t, cfg.Cache.ValidateFingerprint)
	assert.True(t, cfg.Cache.FallbackOnSourceError)
	assert.Equal(t, 60, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Empty(t, cfg.Store.Path)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
data:
  mode: hybrid
roads:
  path: roads.shp
query:
  k: 8
  max_distance: 0.015
source:
  remote:
    - name: mirror
      url: https://example.org/traffic.geojson
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "hybrid", cfg.Data.Mode)
	assert.Equal(t, "roads.shp", cfg.Roads.Path)
	assert.Equal(t, 8, cfg.Query.K)
	assert.InDelta(t, 0.015, cfg.Query.MaxDistance, 1e-12)
	require.Len(t, cfg.Source.Remote, 1)
	assert.Equal(t, "https://example.org/traffic.geojson", cfg.Source.Remote[0].URL)
	// Defaults still apply for unset values
	assert.Equal(t, 10000, cfg.Batch.ChunkSize)
	assert.Equal(t, "highway", cfg.Roads.ClassField)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
data:
  mode: hybrid
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TRAFFIC_DATA_MODE", "simple")
	t.Setenv("TRAFFIC_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "simple", cfg.Data.Mode)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("TRAFFIC_QUERY_K", "12")
	t.Setenv("TRAFFIC_CACHE_VALIDATE_FINGERPRINT", "false")
	t.Setenv("TRAFFIC_STORE_PATH", "/tmp/scores.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Query.K)
	assert.False(t, cfg.Cache.ValidateFingerprint)
	assert.Equal(t, "/tmp/scores.db", cfg.Store.Path)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("data: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func TestCachePath(t *testing.T) {
	cfg := validDefaults()
	assert.Equal(t, filepath.Join("data", "simple_scorer_cache.bin"), cfg.CachePath())

	cfg.Data.Mode = "hybrid"
	assert.Equal(t, filepath.Join("data", "scorer_cache.bin"), cfg.CachePath())

	cfg.Cache.Path = "/var/cache/traffic.bin"
	assert.Equal(t, "/var/cache/traffic.bin", cfg.CachePath())
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Data.Dir = "data"
	cfg.Data.Mode = "simple"
	cfg.Query.K = 5
	cfg.Batch.ChunkSize = 10000
	cfg.Batch.LonColumn = "lon"
	cfg.Batch.LatColumn = "lat"
	cfg.Fetch.MaxRetries = 3
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	for _, command := range []string{"prepare", "score", "score-csv", "cache"} {
		assert.NoError(t, cfg.Validate(command), command)
	}
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Data.Mode = "fancy" }, "data.mode must be simple or hybrid"},
		{"zero k", func(c *Config) { c.Query.K = 0 }, "query.k must be >= 1"},
		{"negative distance", func(c *Config) { c.Query.MaxDistance = -0.1 }, "query.max_distance must be >= 0"},
		{"negative workers", func(c *Config) { c.Query.Workers = -2 }, "query.workers must be >= 0"},
		{"old year", func(c *Config) { c.Volume.LatestYear = 1999 }, "volume.latest_year"},
		{"long delimiter", func(c *Config) { c.Source.CSVDelimiter = ";;" }, "source.csv_delimiter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate("score")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidatePrepare_HybridNeedsRoads(t *testing.T) {
	cfg := validDefaults()
	cfg.Data.Mode = "hybrid"

	err := cfg.Validate("prepare")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "roads.path or roads.url is required")

	cfg.Roads.URL = "https://example.org/roads.zip"
	assert.NoError(t, cfg.Validate("prepare"))
}

func TestValidatePrepare_PostGISNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Source.PostGIS.Table = "traffic.counts"

	err := cfg.Validate("prepare")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "source.postgis.database_url is required")

	cfg.Source.PostGIS.DatabaseURL = "postgres://localhost/gis"
	assert.NoError(t, cfg.Validate("prepare"))
}

func TestValidatePrepare_Retries(t *testing.T) {
	cfg := validDefaults()
	cfg.Fetch.MaxRetries = 0

	err := cfg.Validate("prepare")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fetch.max_retries must be >= 1")
}

func TestValidateScoreCSV(t *testing.T) {
	cfg := validDefaults()
	cfg.Batch.ChunkSize = 0
	cfg.Batch.LatColumn = ""

	err := cfg.Validate("score-csv")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch.chunk_size must be >= 1")
	assert.Contains(t, err.Error(), "batch.lon_column and batch.lat_column are required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
