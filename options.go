package sdk

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/attrgraph/sdk/idstore"
	"github.com/attrgraph/sdk/plugin"
	"github.com/attrgraph/sdk/resolver"
)

// Option configures the Service.
type Option func(*serviceConfig)

// serviceConfig holds configuration for the Service instance.
type serviceConfig struct {
	configPath    string
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	store         idstore.Store
	resolver      *resolver.Resolver
	plugins       []plugin.Plugin
}

// WithConfigPath sets the resolver.yaml path the service is built from.
// The file declares the store backend, the salt, and the plugin set.
func WithConfigPath(path string) Option {
	return func(c *serviceConfig) {
		c.configPath = path
	}
}

// WithLogger sets a custom logger for the service.
// If not provided, a JSON logger on stdout is created.
func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		c.logger = logger
	}
}

// WithMeterProvider enables OpenTelemetry metrics for resolution requests,
// plugin evaluations and failovers.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *serviceConfig) {
		c.meterProvider = provider
	}
}

// WithStore sets the identifier store, overriding the store the
// configuration file would open. Useful for tests and for sharing one
// store between services.
func WithStore(store idstore.Store) Option {
	return func(c *serviceConfig) {
		c.store = store
	}
}

// WithResolver uses an already activated resolver instead of building one
// from configuration.
func WithResolver(r *resolver.Resolver) Option {
	return func(c *serviceConfig) {
		c.resolver = r
	}
}

// WithPlugins builds the resolver from the given plugin set instead of a
// configuration file.
func WithPlugins(plugins ...plugin.Plugin) Option {
	return func(c *serviceConfig) {
		c.plugins = append(c.plugins, plugins...)
	}
}
