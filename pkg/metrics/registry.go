// Package metrics provides opt-in Prometheus metrics for the qrand service.
//
// Metrics are disabled unless InitRegistry is called. When disabled, the
// collector constructors return nil and registration is a no-op, so the rest
// of the service pays no metrics overhead.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
)

// InitRegistry creates the metrics registry and registers the standard Go
// runtime and process collectors. Calling it more than once is harmless.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()

	if registry != nil {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return registry != nil
}

// GetRegistry returns the metrics registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// Register adds a collector to the registry. It is a no-op when metrics are
// disabled or the collector is nil.
func Register(c prometheus.Collector) {
	if c == nil {
		return
	}

	mu.Lock()
	defer mu.Unlock()

	if registry == nil {
		return
	}
	registry.MustRegister(c)
}
