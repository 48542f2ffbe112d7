package config

import (
	"fmt"
)

var validLogLevels = map[string]bool{
	"DEBUG": true,
	"INFO":  true,
	"WARN":  true,
	"ERROR": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Validate checks the configuration for invalid or inconsistent values.
// It assumes ApplyDefaults has already run, so empty sections are legal.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level %q (must be DEBUG, INFO, WARN, or ERROR)", cfg.Logging.Level)
	}
	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid log format %q (must be text or json)", cfg.Logging.Format)
	}
	if cfg.Logging.Output == "" {
		return fmt.Errorf("log output must not be empty")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBitsPerRequest < 1 {
		return fmt.Errorf("server max bits per request must be positive, got %d", cfg.Server.MaxBitsPerRequest)
	}

	// The cache engine owns its own invariants; run them here so a bad
	// config file fails at startup instead of on first use.
	if err := cfg.Cache.EngineConfig().Validate(); err != nil {
		return err
	}

	if cfg.Spool.Enabled {
		if cfg.Spool.Dir == "" {
			return fmt.Errorf("spool dir must be set when spool is enabled")
		}
		if cfg.Spool.FlushThreshold < 1 {
			return fmt.Errorf("spool flush threshold must be positive, got %d", cfg.Spool.FlushThreshold)
		}
		if cfg.Spool.FlushInterval <= 0 {
			return fmt.Errorf("spool flush interval must be positive, got %s", cfg.Spool.FlushInterval)
		}
	}

	if cfg.Uploader.Enabled {
		if !cfg.Spool.Enabled {
			return fmt.Errorf("uploader requires the spool to be enabled")
		}
		if cfg.Uploader.Bucket == "" {
			return fmt.Errorf("uploader bucket must be set when uploader is enabled")
		}
		if cfg.Uploader.Interval <= 0 {
			return fmt.Errorf("uploader interval must be positive, got %s", cfg.Uploader.Interval)
		}
		if cfg.Uploader.MinFiles < 1 {
			return fmt.Errorf("uploader min files must be positive, got %d", cfg.Uploader.MinFiles)
		}
		if cfg.Uploader.BatchSize < 1 {
			return fmt.Errorf("uploader batch size must be positive, got %d", cfg.Uploader.BatchSize)
		}
		if cfg.Uploader.InterBatchDelay < 0 {
			return fmt.Errorf("uploader inter batch delay must not be negative, got %s", cfg.Uploader.InterBatchDelay)
		}
		if (cfg.Uploader.AccessKeyID == "") != (cfg.Uploader.SecretAccessKey == "") {
			return fmt.Errorf("uploader access key id and secret access key must be set together")
		}
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port %d", cfg.Metrics.Port)
		}
		if cfg.Metrics.Port == cfg.Server.Port {
			return fmt.Errorf("metrics port %d conflicts with server port", cfg.Metrics.Port)
		}
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", cfg.ShutdownTimeout)
	}

	return nil
}
