// Package config loads the movies-etl configuration from defaults, an optional
// YAML file and environment variables, and validates it before any network
// activity.
package config

import (
	"time"
)

// Run modes.
const (
	ModeBulk       = "bulk"
	ModeAppend     = "append"
	ModeExportJSON = "export-json"
	ModeIngestJSON = "ingest-json"
	ModeJSON       = "json"
)

// Storage backends.
const (
	StorageGCS  = "gcs"
	StorageS3   = "s3"
	StorageFile = "file"
)

// Warehouse backends.
const (
	WarehouseBigQuery = "bigquery"
	WarehouseDuckDB   = "duckdb"
)

// Config is the complete run configuration.
type Config struct {
	ProjectID string `koanf:"project_id" env:"PROJECT_ID" validate:"required"`
	StartDate string `koanf:"start_date" env:"START_DATE" validate:"required"`
	EndDate   string `koanf:"end_date" env:"END_DATE" validate:"required"`

	// Mode selects the run mode; see the Mode* constants.
	Mode string `koanf:"mode" env:"MODE" validate:"oneof=bulk append export-json ingest-json json"`

	// IngestFile is the object key read by ingest-json. Empty means the
	// export-json key for the configured range.
	IngestFile string `koanf:"ingest_file" env:"INGEST_FILE"`

	TMDB      TMDBConfig      `koanf:"tmdb"`
	Fetch     FetchConfig     `koanf:"fetch"`
	Storage   StorageConfig   `koanf:"storage"`
	Warehouse WarehouseConfig `koanf:"warehouse"`
	Redis     RedisConfig     `koanf:"redis"`
	Sink      SinkConfig      `koanf:"sink"`
	Logging   LoggingConfig   `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`

	// Start and End are StartDate and EndDate parsed by Validate.
	Start time.Time `koanf:"-"`
	End   time.Time `koanf:"-"`
}

// TMDBConfig configures the upstream client.
type TMDBConfig struct {
	APIKey            string        `koanf:"api_key" env:"TMDB_API_KEY" validate:"required"`
	BaseURL           string        `koanf:"base_url" env:"TMDB_BASE_URL" validate:"required,url"`
	ImageBaseURL      string        `koanf:"image_base_url" env:"TMDB_IMAGE_BASE_URL" validate:"required,url"`
	Language          string        `koanf:"language" env:"TMDB_LANGUAGE"`
	RequestsPerSecond float64       `koanf:"requests_per_second" env:"TMDB_REQUESTS_PER_SECOND" validate:"gt=0"`
	Burst             int           `koanf:"burst" env:"TMDB_BURST" validate:"min=1"`
	MaxRetries        int           `koanf:"max_retries" env:"TMDB_MAX_RETRIES" validate:"min=1"`
	RequestTimeout    time.Duration `koanf:"request_timeout" env:"TMDB_REQUEST_TIMEOUT" validate:"gt=0"`
	DetailCacheTTL    time.Duration `koanf:"detail_cache_ttl" env:"TMDB_DETAIL_CACHE_TTL" validate:"min=0"`
}

// FetchConfig configures the paginated fetcher.
type FetchConfig struct {
	MaxPages       int           `koanf:"max_pages" env:"FETCH_MAX_PAGES" validate:"min=1,max=500"`
	MaxConcurrency int           `koanf:"max_concurrency" env:"FETCH_MAX_CONCURRENCY" validate:"min=1"`
	RequestTimeout time.Duration `koanf:"request_timeout" env:"FETCH_REQUEST_TIMEOUT" validate:"gt=0"`
}

// StorageConfig selects and configures the staging object store.
type StorageConfig struct {
	Backend string `koanf:"backend" env:"STORAGE_BACKEND" validate:"oneof=gcs s3 file"`
	Bucket  string `koanf:"bucket" env:"BUCKET_NAME" validate:"required"`
	Prefix  string `koanf:"prefix" env:"STORAGE_PREFIX"`

	// Root is the directory buckets live under for the file backend.
	Root string `koanf:"root" env:"STORAGE_ROOT" validate:"required_if=Backend file"`

	S3 S3Config `koanf:"s3"`
}

// S3Config configures the S3-compatible backend.
type S3Config struct {
	Endpoint  string `koanf:"endpoint" env:"S3_ENDPOINT"`
	AccessKey string `koanf:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey string `koanf:"secret_key" env:"S3_SECRET_KEY"`
	Region    string `koanf:"region" env:"S3_REGION"`
	UseSSL    bool   `koanf:"use_ssl" env:"S3_USE_SSL"`
}

// WarehouseConfig selects and configures the destination table.
type WarehouseConfig struct {
	Backend string `koanf:"backend" env:"WAREHOUSE_BACKEND" validate:"oneof=bigquery duckdb"`
	Dataset string `koanf:"dataset" env:"BIGQUERY_DATASET" validate:"required"`
	Table   string `koanf:"table" env:"BIGQUERY_TABLE" validate:"required"`

	// DuckDBPath is the database file for the duckdb backend. Empty means an
	// in-memory database.
	DuckDBPath string `koanf:"duckdb_path" env:"DUCKDB_PATH"`

	MaxBadRecords int `koanf:"max_bad_records" env:"MAX_BAD_RECORDS" validate:"min=0"`
}

// RedisConfig enables the detail cache and shared rate limit state. An empty
// Addr disables Redis.
type RedisConfig struct {
	Addr     string `koanf:"addr" env:"REDIS_ADDR"`
	Password string `koanf:"password" env:"REDIS_PASSWORD"`
	DB       int    `koanf:"db" env:"REDIS_DB" validate:"min=0"`
}

// SinkConfig configures the sink writer.
type SinkConfig struct {
	// LocalDir keeps a local copy of the raw and cleaned staging CSV.
	LocalDir string `koanf:"local_dir" env:"SINK_LOCAL_DIR"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `koanf:"level" env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	Format string `koanf:"format" env:"LOG_FORMAT" validate:"oneof=json console"`
}

// MetricsConfig configures the end-of-run metrics push.
type MetricsConfig struct {
	PushgatewayURL string `koanf:"pushgateway_url" env:"METRICS_PUSHGATEWAY_URL" validate:"omitempty,url"`
}

// defaultConfig returns the values applied before the config file and the
// environment.
func defaultConfig() *Config {
	return &Config{
		Mode: ModeBulk,
		TMDB: TMDBConfig{
			BaseURL:           "https://api.themoviedb.org/3",
			ImageBaseURL:      "https://image.tmdb.org/t/p/w500",
			Language:          "en",
			RequestsPerSecond: 20,
			Burst:             5,
			MaxRetries:        3,
			RequestTimeout:    10 * time.Second,
			DetailCacheTTL:    24 * time.Hour,
		},
		Fetch: FetchConfig{
			MaxPages:       500,
			MaxConcurrency: 1,
			RequestTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Backend: StorageGCS,
			Root:    "data",
		},
		Warehouse: WarehouseConfig{
			Backend:       WarehouseBigQuery,
			MaxBadRecords: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
