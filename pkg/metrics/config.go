package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name unless Config.Namespace overrides it.
const DefaultNamespace = "bufstream"

// Config holds configuration for metrics collection.
type Config struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Registry is the Prometheus registry to use. If nil, uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace overrides the default "bufstream" namespace for metrics.
	Namespace string
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Registry:  prometheus.DefaultRegisterer,
		Namespace: DefaultNamespace,
	}
}

// FromConfig returns the Registry described by config, or nil when metrics
// are disabled. A nil Registerer selects DefaultRegistry.
func FromConfig(config Config) *Registry {
	if !config.Enabled {
		return nil
	}
	if config.Registry == nil {
		return DefaultRegistry
	}
	return NewRegistryWithNamespace(config.Registry, config.Namespace)
}
