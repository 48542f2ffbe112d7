package config

import (
	"strings"
	"time"

	"github.com/consciouslab/qrand/pkg/qrng"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyCacheDefaults(&cfg.Cache)
	applySpoolDefaults(&cfg.Spool)
	applyUploaderDefaults(&cfg.Uploader)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets HTTP server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxBitsPerRequest == 0 {
		cfg.MaxBitsPerRequest = 1000
	}
}

// applyCacheDefaults sets cache engine defaults from the engine's own
// production defaults so the two never drift apart.
func applyCacheDefaults(cfg *CacheConfig) {
	def := qrng.DefaultConfig()

	if cfg.Size == 0 {
		cfg.Size = def.CacheSize
	}
	if cfg.PrefetchThreshold == 0 {
		cfg.PrefetchThreshold = def.PrefetchThreshold
	}
	if cfg.MaxBitsPerCall == 0 {
		cfg.MaxBitsPerCall = def.MaxBitsPerCall
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RateLimitWait == 0 {
		cfg.RateLimitWait = def.RateLimitWait
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	if cfg.SignificanceLevel == 0 {
		cfg.SignificanceLevel = def.SignificanceLevel
	}
	if cfg.FairRatio == 0 {
		cfg.FairRatio = def.FairRatio
	}
	if cfg.APIURL == "" {
		cfg.APIURL = def.APIURL
	}
}

// applySpoolDefaults sets spool defaults.
func applySpoolDefaults(cfg *SpoolConfig) {
	// Enabled defaults to false (opt-in)
	if cfg.Dir == "" {
		cfg.Dir = "/tmp/qrand-spool"
	}
	if cfg.FlushThreshold == 0 {
		cfg.FlushThreshold = 4096
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 60 * time.Second
	}
}

// applyUploaderDefaults sets uploader defaults.
// Bucket has no default; it must be configured when the uploader is enabled.
func applyUploaderDefaults(cfg *UploaderConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MinFiles == 0 {
		cfg.MinFiles = 1
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10000
	}
	if cfg.InterBatchDelay == 0 {
		cfg.InterBatchDelay = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "qrand"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
