// Package metrics defines the metric interfaces recorded by the ibsim
// transport and fake simulator, plus the registry and HTTP endpoint that
// expose them. Implementations live in pkg/metrics/prometheus; when
// InitRegistry has not been called every constructor returns nil and
// recording is skipped.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	regMu    sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process registry with Go runtime and process
// collectors attached. Calling it again replaces the registry.
func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	regMu.Lock()
	registry = reg
	regMu.Unlock()
	return reg
}

// ResetRegistry disables metrics collection.
func ResetRegistry() {
	regMu.Lock()
	registry = nil
	regMu.Unlock()
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// GetRegistry returns the process registry, or nil when disabled.
func GetRegistry() *prometheus.Registry {
	regMu.RLock()
	defer regMu.RUnlock()
	return registry
}
