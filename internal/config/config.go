package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	Data   DataConfig   `yaml:"data" mapstructure:"data"`
	Source SourceConfig `yaml:"source" mapstructure:"source"`
	Roads  RoadsConfig  `yaml:"roads" mapstructure:"roads"`
	Volume VolumeConfig `yaml:"volume" mapstructure:"volume"`
	Query  QueryConfig  `yaml:"query" mapstructure:"query"`
	Batch  BatchConfig  `yaml:"batch" mapstructure:"batch"`
	Cache  CacheConfig  `yaml:"cache" mapstructure:"cache"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
}

// DataConfig selects the working directory and scorer variant.
type DataConfig struct {
	Dir  string `yaml:"data_dir" mapstructure:"data_dir"`
	Mode string `yaml:"mode" mapstructure:"mode"` // simple | hybrid
}

// SourceConfig describes where traffic observations come from. Manual files
// are tried first, then PostGIS, then the remote endpoints.
type SourceConfig struct {
	ManualFiles  []string         `yaml:"manual_files" mapstructure:"manual_files"`
	Remote       []EndpointConfig `yaml:"remote" mapstructure:"remote"`
	Download     bool             `yaml:"download" mapstructure:"download"`
	SaveAs       string           `yaml:"save_as" mapstructure:"save_as"`
	CSVEncoding  string           `yaml:"csv_encoding" mapstructure:"csv_encoding"`
	CSVDelimiter string           `yaml:"csv_delimiter" mapstructure:"csv_delimiter"`
	XLSXSheet    string           `yaml:"xlsx_sheet" mapstructure:"xlsx_sheet"`
	PostGIS      PostGISConfig    `yaml:"postgis" mapstructure:"postgis"`
}

// EndpointConfig is one remote download attempt.
type EndpointConfig struct {
	Name   string            `yaml:"name" mapstructure:"name"`
	URL    string            `yaml:"url" mapstructure:"url"`
	Params map[string]string `yaml:"params" mapstructure:"params"`
}

// PostGISConfig reads observations from a database table when Table is set.
type PostGISConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
	GeomColumn  string `yaml:"geom_column" mapstructure:"geom_column"`
}

// RoadsConfig configures the road network used in hybrid mode.
type RoadsConfig struct {
	Path       string `yaml:"path" mapstructure:"path"`
	URL        string `yaml:"url" mapstructure:"url"`
	ClassField string `yaml:"class_field" mapstructure:"class_field"`
	ClassTable string `yaml:"class_table" mapstructure:"class_table"`
}

// VolumeConfig controls volume field probing.
type VolumeConfig struct {
	LatestYear int `yaml:"latest_year" mapstructure:"latest_year"` // 0 = current year
}

// QueryConfig holds the default lookup parameters.
type QueryConfig struct {
	K           int     `yaml:"k" mapstructure:"k"`
	MaxDistance float64 `yaml:"max_distance" mapstructure:"max_distance"` // 0 = mode default
	Workers     int     `yaml:"workers" mapstructure:"workers"`           // 0 = GOMAXPROCS
}

// BatchConfig configures bulk CSV scoring.
type BatchConfig struct {
	ChunkSize   int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	LonColumn   string `yaml:"lon_column" mapstructure:"lon_column"`
	LatColumn   string `yaml:"lat_column" mapstructure:"lat_column"`
	ScoreColumn string `yaml:"score_column" mapstructure:"score_column"`
}

// CacheConfig configures the persisted model.
type CacheConfig struct {
	Path                  string `yaml:"path" mapstructure:"path"`
	ValidateFingerprint   bool   `yaml:"validate_fingerprint" mapstructure:"validate_fingerprint"`
	FallbackOnSourceError bool   `yaml:"fallback_on_source_error" mapstructure:"fallback_on_source_error"`
}

// FetchConfig configures HTTP downloads.
type FetchConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// StoreConfig configures the optional SQLite result store.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CachePath returns cache.path, or the per-mode default file in data_dir.
func (c *Config) CachePath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	name := "simple_scorer_cache.bin"
	if c.Data.Mode == "hybrid" {
		name = "scorer_cache.bin"
	}
	return filepath.Join(c.Data.Dir, name)
}

// Validate checks the configuration needed by the given command.
func (c *Config) Validate(command string) error {
	var errs []string

	switch c.Data.Mode {
	case "simple", "hybrid":
	default:
		errs = append(errs, "data.mode must be simple or hybrid")
	}
	if c.Query.K < 1 {
		errs = append(errs, "query.k must be >= 1")
	}
	if c.Query.MaxDistance < 0 {
		errs = append(errs, "query.max_distance must be >= 0")
	}
	if c.Query.Workers < 0 {
		errs = append(errs, "query.workers must be >= 0")
	}
	if c.Volume.LatestYear != 0 && (c.Volume.LatestYear < 2000 || c.Volume.LatestYear > 2100) {
		errs = append(errs, "volume.latest_year must be 0 or between 2000 and 2100")
	}
	if len(c.Source.CSVDelimiter) > 1 {
		errs = append(errs, "source.csv_delimiter must be a single character")
	}

	switch command {
	case "prepare", "score":
		if c.Source.PostGIS.Table != "" && c.Source.PostGIS.DatabaseURL == "" {
			errs = append(errs, "source.postgis.database_url is required when source.postgis.table is set")
		}
		if c.Data.Mode == "hybrid" && c.Roads.Path == "" && c.Roads.URL == "" {
			errs = append(errs, "roads.path or roads.url is required in hybrid mode")
		}
		if c.Fetch.MaxRetries < 1 {
			errs = append(errs, "fetch.max_retries must be >= 1")
		}
	case "score-csv":
		if c.Batch.ChunkSize < 1 {
			errs = append(errs, "batch.chunk_size must be >= 1")
		}
		if c.Batch.LonColumn == "" || c.Batch.LatColumn == "" {
			errs = append(errs, "batch.lon_column and batch.lat_column are required")
		}
	case "cache":
	default:
		errs = append(errs, "unknown mode "+command)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRAFFIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("data.data_dir", "./data")
	v.SetDefault("data.mode", "simple")
	v.SetDefault("source.manual_files", []string{
		"brampton_traffic.geojson",
		"brampton_traffic.csv",
		"City_of_Brampton_Traffic_Volumes.geojson",
		"City_of_Brampton_Traffic_Volumes.csv",
	})
	v.SetDefault("source.remote", []map[string]any{
		{
			"name": "geohub",
			"url":  "https://geohub.brampton.ca/datasets/brampton::city-of-brampton-traffic-volumes.geojson",
		},
		{
			"name": "arcgis",
			"url":  "https://services1.arcgis.com/pMeXRvgWClLJZr3s/arcgis/rest/services/Traffic_Volumes/FeatureServer/0/query",
			"params": map[string]string{
				"where":          "1=1",
				"outFields":      "*",
				"f":              "geojson",
				"returnGeometry": "true",
			},
		},
	})
	v.SetDefault("source.download", true)
	v.SetDefault("source.save_as", "brampton_traffic.geojson")
	v.SetDefault("source.csv_encoding", "")
	v.SetDefault("source.csv_delimiter", "")
	v.SetDefault("source.xlsx_sheet", "")
	v.SetDefault("source.postgis.database_url", "")
	v.SetDefault("source.postgis.table", "")
	v.SetDefault("source.postgis.geom_column", "geom")
	v.SetDefault("roads.path", "")
	v.SetDefault("roads.url", "")
	v.SetDefault("roads.class_field", "highway")
	v.SetDefault("roads.class_table", "")
	v.SetDefault("volume.latest_year", 0)
	v.SetDefault("query.k", 5)
	v.SetDefault("query.max_distance", 0.0)
	v.SetDefault("query.workers", 0)
	v.SetDefault("batch.chunk_size", 10000)
	v.SetDefault("batch.lon_column", "lon")
	v.SetDefault("batch.lat_column", "lat")
	v.SetDefault("batch.score_column", "traffic_score")
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.validate_fingerprint", true)
	v.SetDefault("cache.fallback_on_source_error", true)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.user_agent", "traffic-score/1.0")
	v.SetDefault("store.path", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
