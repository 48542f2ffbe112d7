package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/consciouslab/qrand/internal/logger"
	"github.com/consciouslab/qrand/pkg/api"
	"github.com/consciouslab/qrand/pkg/config"
	"github.com/consciouslab/qrand/pkg/metrics"
	"github.com/consciouslab/qrand/pkg/qrng"
	"github.com/consciouslab/qrand/pkg/spool"
	"github.com/consciouslab/qrand/pkg/uploader"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the qrand server",
	Long: `Start the qrand server with the specified configuration.

The server performs a blocking initial fetch from the quantum API before
accepting requests, so a missing or invalid QRAND_API_KEY fails fast.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/qrand/config.yaml.

Examples:
  # Start with default config location
  qrand start

  # Start with custom config file
  qrand start --config /etc/qrand/config.yaml

  # Start with environment variable overrides
  QRAND_LOGGING_LEVEL=DEBUG qrand start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	apiKey := config.APIKey()
	if apiKey == "" {
		return fmt.Errorf("no API key configured; set the QRAND_API_KEY environment variable")
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics (if enabled)
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// The cache performs a blocking initial fetch here; bad credentials or
	// an unreachable quantum API fail startup instead of the first request.
	cache, err := qrng.New(ctx, cfg.Cache.EngineConfig(), apiKey)
	if err != nil {
		return fmt.Errorf("failed to initialize bit cache: %w", err)
	}
	defer cache.Close()
	logger.Info("Bit cache initialized",
		"cache_size", cfg.Cache.Size,
		"prefetch_threshold", cfg.Cache.PrefetchThreshold,
		"api_url", cfg.Cache.APIURL,
	)
	metrics.RegisterCacheCollector(cache)

	// Spool (write-behind persistence of served bits)
	var bitSpool *spool.Spool
	var handlerSpool api.Appender
	if cfg.Spool.Enabled {
		bitSpool, err = spool.New(spool.Config{
			Dir:            cfg.Spool.Dir,
			FlushThreshold: cfg.Spool.FlushThreshold,
			FlushInterval:  cfg.Spool.FlushInterval,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize spool: %w", err)
		}
		handlerSpool = bitSpool
		metrics.RegisterSpoolCollector(bitSpool)
	} else {
		logger.Info("Spool disabled")
	}

	// Uploader (batch shipping of spool files to object storage)
	var up *uploader.Uploader
	if cfg.Uploader.Enabled {
		s3Client, err := uploader.NewS3Client(ctx, uploader.S3Options{
			Region:          cfg.Uploader.Region,
			Endpoint:        cfg.Uploader.Endpoint,
			AccessKeyID:     cfg.Uploader.AccessKeyID,
			SecretAccessKey: cfg.Uploader.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}

		up, err = uploader.New(s3Client, uploader.Config{
			SpoolDir:        cfg.Spool.Dir,
			Bucket:          cfg.Uploader.Bucket,
			Prefix:          cfg.Uploader.Prefix,
			Interval:        cfg.Uploader.Interval,
			MinFiles:        cfg.Uploader.MinFiles,
			PackWords:       cfg.Uploader.PackWords,
			BatchSize:       cfg.Uploader.BatchSize,
			InterBatchDelay: cfg.Uploader.InterBatchDelay,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize uploader: %w", err)
		}
		up.Start()
		metrics.RegisterUploaderCollector(uploaderMetricsAdapter{up})
	} else {
		logger.Info("Uploader disabled")
	}

	// Metrics server (returns nil when metrics are disabled)
	metricsServer, err := metrics.StartServer(cfg.Metrics.Port)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// API server
	handler := api.NewHandler(cache, handlerSpool, Version, cfg.Server.MaxBitsPerRequest)
	server := api.NewServer(api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		RequestTimeout:    cfg.Server.RequestTimeout,
		MaxBitsPerRequest: cfg.Server.MaxBitsPerRequest,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}, handler)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
		}

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
	}

	// Shutdown order matters: the API server is already stopped so no new
	// bits arrive; flush the spool to disk, then drain the uploader, then
	// stop the cache and metrics.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if bitSpool != nil {
		if err := bitSpool.Close(); err != nil {
			logger.Error("Spool shutdown error", "error", err)
		}
	}
	if up != nil {
		if err := up.Stop(shutdownCtx); err != nil {
			logger.Error("Uploader shutdown error", "error", err)
		}
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown error", "error", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// uploaderMetricsAdapter exposes uploader stats in the form the metrics
// collector expects.
type uploaderMetricsAdapter struct {
	u *uploader.Uploader
}

func (a uploaderMetricsAdapter) MetricsSnapshot() metrics.UploaderStats {
	st := a.u.Stats()

	var last int64
	if !st.LastUpload.IsZero() {
		last = st.LastUpload.Unix()
	}

	return metrics.UploaderStats{
		FilesUploaded:     st.FilesUploaded,
		BitsUploaded:      st.BitsUploaded,
		UploadErrors:      st.UploadErrors,
		IncompleteBatches: st.IncompleteBatches,
		LastUploadUnix:    last,
	}
}
