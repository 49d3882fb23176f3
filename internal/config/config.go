// Package config loads catalogdb settings from an optional TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pahproject/catalogdb/internal/retry"
)

// MemoryDatabase is passed through ResolveDatabase untouched
const MemoryDatabase = ":memory:"

// Config holds all catalogdb settings
type Config struct {
	StorageDir  string            `toml:"storage_dir"`
	MetricsFile string            `toml:"metrics_file"`
	Log         LogConfig         `toml:"log"`
	Ingest      IngestConfig      `toml:"ingest"`
	Histogram   HistogramConfig   `toml:"histogram"`
	ObjectStore ObjectStoreConfig `toml:"object_store"`
	Retry       RetryConfig       `toml:"retry"`
	HTTP        HTTPConfig        `toml:"http"`
}

// LogConfig controls logrus output
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// IngestConfig controls catalog ingest
type IngestConfig struct {
	Filter        string `toml:"filter"`
	SkipMalformed bool   `toml:"skip_malformed"`
}

// HistogramConfig holds the diagnostic histogram defaults
type HistogramConfig struct {
	// Threshold excludes values at or above it. It defaults to 100000 when
	// the file leaves it out; an explicit 0 disables the cut.
	Threshold int64 `toml:"threshold"`
	Bins      int   `toml:"bins"`
}

// ObjectStoreConfig holds MinIO/S3 credentials for remote listings
type ObjectStoreConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// RetryConfig holds retry settings for transient failures
type RetryConfig struct {
	Attempts  int   `toml:"attempts"`
	BackoffMS []int `toml:"backoff_ms"`
}

// HTTPConfig holds the inspection server listen address
type HTTPConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Default returns a configuration with defaults and environment overrides applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, toml.MetaData{})
	applyEnv(cfg)
	return cfg
}

// Load reads a TOML configuration file. A missing file is not an error when
// optional is true; defaults and environment overrides are used instead.
func Load(path string, optional bool) (*Config, error) {
	var cfg Config
	var md toml.MetaData

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if md, err = toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyDefaults(&cfg, md)
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills unset fields. md tells an explicit zero threshold apart
// from a missing one.
func applyDefaults(cfg *Config, md toml.MetaData) {
	if strings.TrimSpace(cfg.StorageDir) == "" {
		cfg.StorageDir = "data/sqlite_dbs"
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if strings.TrimSpace(cfg.Log.Format) == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Ingest.Filter == "" {
		cfg.Ingest.Filter = "int"
	}
	if cfg.Histogram.Threshold == 0 && !md.IsDefined("histogram", "threshold") {
		cfg.Histogram.Threshold = 100000
	}
	if cfg.Histogram.Bins == 0 {
		cfg.Histogram.Bins = 1400
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
	if len(cfg.Retry.BackoffMS) == 0 {
		cfg.Retry.BackoffMS = []int{100, 500, 2000}
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "127.0.0.1"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CATALOGDB_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("CATALOGDB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CATALOGDB_METRICS_FILE"); v != "" {
		cfg.MetricsFile = v
	}

	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := firstEnv("MINIO_ACCESS_KEY", "MINIO_ACCESS_KEY_ID"); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := firstEnv("MINIO_SECRET_KEY", "MINIO_SECRET_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.SecretKey = v
	}

	attempts, backoff := parseRetryEnv(
		os.Getenv("CATALOGDB_RETRY_ATTEMPTS"),
		os.Getenv("CATALOGDB_RETRY_BACKOFF_MS"),
	)
	if attempts > 0 {
		cfg.Retry.Attempts = attempts
	}
	if len(backoff) > 0 {
		cfg.Retry.BackoffMS = backoff
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// parseRetryEnv parses retry attempts and a comma separated millisecond
// backoff list. Invalid entries are ignored.
func parseRetryEnv(attemptsStr, backoffStr string) (int, []int) {
	attempts := 0
	if attemptsStr != "" {
		if n, err := strconv.Atoi(attemptsStr); err == nil && n > 0 {
			attempts = n
		}
	}

	var backoff []int
	if backoffStr != "" {
		for _, s := range strings.Split(backoffStr, ",") {
			if ms, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && ms > 0 {
				backoff = append(backoff, ms)
			}
		}
	}
	return attempts, backoff
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", c.Log.Format)
	}
	if c.Histogram.Threshold < 0 {
		return fmt.Errorf("invalid histogram threshold %d: must not be negative", c.Histogram.Threshold)
	}
	if c.Histogram.Bins < 0 {
		return fmt.Errorf("invalid histogram bins %d: must not be negative", c.Histogram.Bins)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	}
	return nil
}

// ResolveDatabase maps a database name onto the configured storage directory.
// Only the final path element of name is used, so "overlaps.db",
// "./overlaps.db" and "/elsewhere/overlaps.db" all resolve to the same file.
func (c *Config) ResolveDatabase(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == MemoryDatabase {
		return name, nil
	}
	base := filepath.Base(name)
	if name == "" || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid database name %q", name)
	}
	return filepath.Join(c.StorageDir, base), nil
}

// EnsureStorageDir creates the storage directory if it is missing
func (c *Config) EnsureStorageDir() error {
	if err := os.MkdirAll(c.StorageDir, 0o750); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", c.StorageDir, err)
	}
	return nil
}

// RetryPolicy converts the retry settings into a retry.Config
func (c *Config) RetryPolicy() retry.Config {
	delays := make([]time.Duration, 0, len(c.Retry.BackoffMS))
	for _, ms := range c.Retry.BackoffMS {
		delays = append(delays, time.Duration(ms)*time.Millisecond)
	}
	return retry.Config{
		MaxAttempts: c.Retry.Attempts,
		Delays:      delays,
	}
}
