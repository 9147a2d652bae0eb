package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset. The
// file is optional.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"project_id":  "project_id",
	"start_date":  "start_date",
	"end_date":    "end_date",
	"mode":        "mode",
	"ingest_file": "ingest_file",

	"tmdb_api_key":             "tmdb.api_key",
	"tmdb_base_url":            "tmdb.base_url",
	"tmdb_image_base_url":      "tmdb.image_base_url",
	"tmdb_language":            "tmdb.language",
	"tmdb_requests_per_second": "tmdb.requests_per_second",
	"tmdb_burst":               "tmdb.burst",
	"tmdb_max_retries":         "tmdb.max_retries",
	"tmdb_request_timeout":     "tmdb.request_timeout",
	"tmdb_detail_cache_ttl":    "tmdb.detail_cache_ttl",

	"fetch_max_pages":       "fetch.max_pages",
	"fetch_max_concurrency": "fetch.max_concurrency",
	"fetch_request_timeout": "fetch.request_timeout",

	"storage_backend": "storage.backend",
	"bucket_name":     "storage.bucket",
	"storage_prefix":  "storage.prefix",
	"storage_root":    "storage.root",
	"s3_endpoint":     "storage.s3.endpoint",
	"s3_access_key":   "storage.s3.access_key",
	"s3_secret_key":   "storage.s3.secret_key",
	"s3_region":       "storage.s3.region",
	"s3_use_ssl":      "storage.s3.use_ssl",

	"warehouse_backend": "warehouse.backend",
	"bigquery_dataset":  "warehouse.dataset",
	"bigquery_table":    "warehouse.table",
	"duckdb_path":       "warehouse.duckdb_path",
	"max_bad_records":   "warehouse.max_bad_records",

	"redis_addr":     "redis.addr",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",

	"sink_local_dir": "sink.local_dir",

	"log_level":  "logging.level",
	"log_format": "logging.format",

	"metrics_pushgateway_url": "metrics.pushgateway_url",
}

// Load builds the configuration from struct defaults, the optional config
// file, and the environment, in increasing priority, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath, err := findConfigFile()
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the config file to load, or "" when there is none.
// An explicit CONFIG_PATH that does not exist is an error.
func findConfigFile() (string, error) {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("config file %s: %w", envPath, err)
		}
		return envPath, nil
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// envTransformFunc maps an environment variable name to its koanf path.
// Unknown variables map to "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
