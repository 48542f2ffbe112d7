package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/consciouslab/qrand/pkg/qrng"
)

// Config represents the qrand service configuration.
//
// This structure captures the static configuration of the service:
//   - Logging configuration
//   - HTTP server settings
//   - Quantum bit cache parameters (buffer sizes, retry policy)
//   - Spool configuration (write-behind persistence of served bits)
//   - Uploader configuration (batch shipping of spool files to S3)
//   - Prometheus metrics server
//
// The ANU API key is deliberately NOT part of the file config; it is read
// only from the QRAND_API_KEY environment variable so it never ends up in
// a config file committed to version control.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (QRAND_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains HTTP API server configuration
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Cache configures the quantum bit cache engine
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Spool configures write-behind persistence of served bits
	Spool SpoolConfig `mapstructure:"spool" yaml:"spool"`

	// Uploader configures batch upload of spool files to object storage
	Uploader UploaderConfig `mapstructure:"uploader" yaml:"uploader"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// ServerConfig contains HTTP API server configuration.
type ServerConfig struct {
	// Host is the listen address. Default: 0.0.0.0
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the HTTP listen port. Default: 8080
	Port int `mapstructure:"port" yaml:"port"`

	// ReadTimeout bounds reading the full request. Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds writing the full response. This must exceed the
	// cache request timeout or slow upstream fetches get truncated mid-reply.
	// Default: 30s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout bounds keep-alive connections. Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequestTimeout is the per-request deadline applied by middleware.
	// Default: 30s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// MaxBitsPerRequest caps the count of a single GET /bits request at the
	// router, independently of the cache's max_bits_per_call. Default: 1000
	MaxBitsPerRequest int `mapstructure:"max_bits_per_request" yaml:"max_bits_per_request"`
}

// CacheConfig configures the quantum bit cache engine.
// Field semantics mirror qrng.Config; see that package for invariants.
type CacheConfig struct {
	// Size is the number of bits fetched per upstream request (buffer size).
	// Default: 1024
	Size int `mapstructure:"size" yaml:"size"`

	// PrefetchThreshold triggers a background refill when the active buffer
	// drops to this many remaining bits. Must be < Size. Default: 512
	PrefetchThreshold int `mapstructure:"prefetch_threshold" yaml:"prefetch_threshold"`

	// MaxBitsPerCall caps a single /bits request. Default: 1024
	MaxBitsPerCall int `mapstructure:"max_bits_per_call" yaml:"max_bits_per_call"`

	// RequestTimeout bounds each HTTP request to the quantum API. Default: 10s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// MaxRetries is the number of upstream attempts per fetch. Default: 5
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// RateLimitWait is the pause after an HTTP 429 before retrying.
	// Default: 60s
	RateLimitWait time.Duration `mapstructure:"rate_limit_wait" yaml:"rate_limit_wait"`

	// BackoffCap bounds the exponential retry backoff. Default: 60s
	BackoffCap time.Duration `mapstructure:"backoff_cap" yaml:"backoff_cap"`

	// SignificanceLevel is the alpha for the bit bias test. Default: 0.05
	SignificanceLevel float64 `mapstructure:"significance_level" yaml:"significance_level"`

	// FairRatio is the expected proportion of zeros. Default: 0.5
	FairRatio float64 `mapstructure:"fair_ratio" yaml:"fair_ratio"`

	// APIURL is the quantum random number API endpoint.
	// Default: https://api.quantumnumbers.anu.edu.au/
	APIURL string `mapstructure:"api_url" yaml:"api_url"`
}

// SpoolConfig configures write-behind persistence of served bits.
// Served bits are buffered in memory and flushed to timestamped JSON files
// in Dir, where the uploader later picks them up.
type SpoolConfig struct {
	// Enabled controls whether served bits are spooled at all.
	// Default: false (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Dir is the directory spool files are written to.
	// Default: /tmp/qrand-spool
	Dir string `mapstructure:"dir" yaml:"dir"`

	// FlushThreshold flushes the buffer once it holds this many bits.
	// Default: 4096
	FlushThreshold int `mapstructure:"flush_threshold" yaml:"flush_threshold"`

	// FlushInterval flushes any buffered bits at least this often.
	// Default: 60s
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// UploaderConfig configures batch upload of spool files to S3-compatible
// object storage. The uploader deletes a spool file only after the remote
// store has durably accepted it.
type UploaderConfig struct {
	// Enabled controls whether the uploader worker runs.
	// Default: false (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is how often the worker scans the spool directory.
	// Default: 5m
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// MinFiles is how many spool files must accumulate before a scheduled
	// upload runs. A manual trigger ignores this. Default: 1
	MinFiles int `mapstructure:"min_files" yaml:"min_files"`

	// PackWords packs bits into 32-bit words before upload, reducing
	// payload size 32x. Default: false (upload raw bit records)
	PackWords bool `mapstructure:"pack_words" yaml:"pack_words"`

	// BatchSize caps how many records go into a single uploaded object; a
	// spool file holding more is split across objects. Default: 10000
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// InterBatchDelay is the pause between consecutive batch uploads of the
	// same file, to avoid hammering the store. Default: 5s
	InterBatchDelay time.Duration `mapstructure:"inter_batch_delay" yaml:"inter_batch_delay"`

	// Bucket is the destination S3 bucket (required when enabled).
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Prefix is the object key prefix. Default: qrand
	Prefix string `mapstructure:"prefix" yaml:"prefix"`

	// Region is the AWS region. Default: us-east-1
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint, for MinIO or other
	// S3-compatible stores. Empty uses AWS.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey override the AWS SDK credential
	// chain when both are set. Prefer the QRAND_UPLOADER_ACCESS_KEY_ID
	// and QRAND_UPLOADER_SECRET_ACCESS_KEY environment variables over
	// placing these in a config file.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" yaml:"port"`
}

// EngineConfig converts the cache section into the engine's config struct.
func (c CacheConfig) EngineConfig() qrng.Config {
	return qrng.Config{
		CacheSize:         c.Size,
		PrefetchThreshold: c.PrefetchThreshold,
		MaxBitsPerCall:    c.MaxBitsPerCall,
		RequestTimeout:    c.RequestTimeout,
		MaxRetries:        c.MaxRetries,
		RateLimitWait:     c.RateLimitWait,
		BackoffCap:        c.BackoffCap,
		SignificanceLevel: c.SignificanceLevel,
		FairRatio:         c.FairRatio,
		APIURL:            c.APIURL,
	}
}

// APIKey returns the quantum API key from the environment.
// The key is only ever sourced from QRAND_API_KEY.
func APIKey() string {
	return os.Getenv("QRAND_API_KEY")
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (QRAND_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location
// ($XDG_CONFIG_HOME/qrand/config.yaml).
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  qrand init\n\n"+
				"Or specify a custom config file:\n"+
				"  qrand <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  qrand init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the QRAND_ prefix and underscores.
	// Example: QRAND_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("QRAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "qrand")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "qrand")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
