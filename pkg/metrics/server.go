package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/consciouslab/qrand/internal/logger"
)

// Server serves the /metrics endpoint on its own port.
type Server struct {
	srv *http.Server
}

// StartServer starts the metrics HTTP server in the background.
// Returns nil without error when metrics are disabled.
func StartServer(port int) (*Server, error) {
	reg := GetRegistry()
	if reg == nil {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return &Server{srv: srv}, nil
}

// Shutdown gracefully stops the metrics server. Safe to call on nil.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
