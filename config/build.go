package config

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/attrgraph/sdk/attribute"
	"github.com/attrgraph/sdk/idstore"
	"github.com/attrgraph/sdk/idstore/etcdstore"
	"github.com/attrgraph/sdk/idstore/redisstore"
	"github.com/attrgraph/sdk/idstore/sqlite"
	"github.com/attrgraph/sdk/pairwise"
	"github.com/attrgraph/sdk/plugin"
	"github.com/attrgraph/sdk/plugin/definitions"
	"github.com/attrgraph/sdk/resolver"
)

// OpenStore opens the configured identifier store backend.
func (c *StoreConfig) Open() (idstore.Store, error) {
	switch c.Backend {
	case "", "memory":
		return idstore.NewMemoryStore(), nil
	case "sqlite":
		return sqlite.Open(c.DSN)
	case "redis":
		return redisstore.New(redisstore.Options{URL: c.DSN, KeyPrefix: c.Namespace})
	case "etcd":
		return etcdstore.New(etcdstore.Config{Endpoints: c.Endpoints, Namespace: c.Namespace})
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Backend)
	}
}

// Build constructs the configured plugin set and activates a resolver over
// it. The store must be the one the configuration's stored-id connectors
// should persist to; pass nil when no stored-id connector is declared.
func (c *Config) Build(store idstore.Store, logger *slog.Logger, provider metric.MeterProvider) (*resolver.Resolver, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	salt, err := c.Salt()
	if err != nil {
		return nil, err
	}

	var plugins []plugin.Plugin
	for i := range c.Connectors {
		p, err := c.buildConnector(&c.Connectors[i], salt, store, logger)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	for i := range c.Definitions {
		p, err := buildDefinition(&c.Definitions[i])
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}

	return resolver.New(resolver.Config{
		Plugins:       plugins,
		Logger:        logger,
		MeterProvider: provider,
	})
}

func (c *Config) buildConnector(pc *PluginConfig, salt []byte, store idstore.Store, logger *slog.Logger) (plugin.Plugin, error) {
	switch pc.Type {
	case "static":
		attrs := make([]attribute.Attribute, 0, len(pc.Attributes))
		for id, values := range pc.Attributes {
			vals := make([]attribute.Value, 0, len(values))
			for _, v := range values {
				vals = append(vals, attribute.FromString(v))
			}
			attrs = append(attrs, attribute.New(id, vals...))
		}
		conn, err := definitions.Static(pc.ID, attrs, connectorOptions(pc)...)
		if err != nil {
			return nil, err
		}
		return conn, nil

	case "computed-id", "stored-id":
		cfg := pairwise.Config{
			ID:                   pc.ID,
			GeneratedAttributeID: pc.GeneratedAttribute,
			SourcePluginID:       pc.SourcePlugin,
			SourceAttributeID:    pc.SourceAttribute,
			Salt:                 salt,
			FailoverID:           pc.Failover,
			NoRetryInterval:      pc.GetNoRetryInterval(),
			Timeout:              pc.GetTimeout(),
		}
		alg, err := pairwise.ParseAlgorithm(pc.Algorithm)
		if err != nil {
			return nil, fmt.Errorf("connector %q: %w", pc.ID, err)
		}
		cfg.Algorithm = alg
		if pc.Condition != "" {
			cond, err := plugin.NewCondition(pc.Condition)
			if err != nil {
				return nil, fmt.Errorf("connector %q: %w", pc.ID, err)
			}
			cfg.Condition = cond
		}
		if pc.Type == "computed-id" {
			return pairwise.NewComputedID(cfg)
		}
		if store == nil {
			return nil, fmt.Errorf("connector %q: stored-id requires a store", pc.ID)
		}
		return pairwise.NewStoredID(cfg, store, logger)

	default:
		return nil, fmt.Errorf("connector %q: unknown type %q", pc.ID, pc.Type)
	}
}

func buildDefinition(pc *PluginConfig) (plugin.Plugin, error) {
	var opts []definitions.Option
	if pc.Condition != "" {
		opts = append(opts, definitions.WithCondition(pc.Condition))
	}
	switch pc.Type {
	case "simple":
		return definitions.Simple(pc.ID, pc.SourcePlugin, pc.SourceAttribute, opts...)
	case "scoped":
		if pc.Scope == "" {
			return nil, fmt.Errorf("definition %q: scope is required", pc.ID)
		}
		return definitions.Scoped(pc.ID, pc.SourcePlugin, pc.SourceAttribute, pc.Scope, opts...)
	default:
		return nil, fmt.Errorf("definition %q: unknown type %q", pc.ID, pc.Type)
	}
}

// connectorOptions maps the shared connector knobs onto builder options.
func connectorOptions(pc *PluginConfig) []definitions.Option {
	var opts []definitions.Option
	if pc.Condition != "" {
		opts = append(opts, definitions.WithCondition(pc.Condition))
	}
	if pc.Failover != "" {
		opts = append(opts, definitions.WithFailover(pc.Failover))
	}
	if d := pc.GetTimeout(); d > 0 {
		opts = append(opts, definitions.WithTimeout(d))
	}
	if d := pc.GetNoRetryInterval(); d > 0 {
		opts = append(opts, definitions.WithNoRetryInterval(d))
	}
	return opts
}
