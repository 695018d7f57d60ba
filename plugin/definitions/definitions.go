// Package definitions provides the stock attribute plugins most deployments
// start from: simple copies, scoped rewrites, and static connectors.
package definitions

import (
	"context"
	"sort"
	"time"

	"github.com/attrgraph/sdk/attribute"
	"github.com/attrgraph/sdk/plugin"
)

// Option applies an optional setting to a stock plugin's configuration.
type Option func(*plugin.Config) error

// WithCondition gates the plugin behind a CEL activation condition.
func WithCondition(expr string) Option {
	return func(cfg *plugin.Config) error { return cfg.SetCondition(expr) }
}

// WithFailover names the failover connector. Connectors only.
func WithFailover(connectorID string) Option {
	return func(cfg *plugin.Config) error { cfg.SetFailoverID(connectorID); return nil }
}

// WithTimeout bounds one execution. Connectors only.
func WithTimeout(d time.Duration) Option {
	return func(cfg *plugin.Config) error { cfg.SetTimeout(d); return nil }
}

// WithNoRetryInterval sets the failure no-retry window. Connectors only.
func WithNoRetryInterval(d time.Duration) Option {
	return func(cfg *plugin.Config) error { cfg.SetNoRetryInterval(d); return nil }
}

func apply(cfg *plugin.Config, opts []Option) error {
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return err
		}
	}
	return nil
}

// collect gathers the input values a definition consumes. A named source
// attribute selects exactly that entry; otherwise all entries are flattened
// in attribute-ID order so the result is stable across runs.
func collect(in plugin.Inputs, sourceAttributeID string) []attribute.Value {
	if sourceAttributeID != "" {
		return in.Values(sourceAttributeID)
	}
	ids := make([]string, 0, len(in))
	for id := range in {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []attribute.Value
	for _, id := range ids {
		out = append(out, in[id]...)
	}
	return out
}

// Simple builds a definition that re-emits a dependency's values under its
// own ID. sourceAttributeID may be empty to consume the dependency's entire
// output.
func Simple(id, sourcePluginID, sourceAttributeID string, opts ...Option) (plugin.Plugin, error) {
	cfg := plugin.NewConfig()
	cfg.SetID(id)
	cfg.AddDependency(sourcePluginID, sourceAttributeID)
	if err := apply(cfg, opts); err != nil {
		return nil, err
	}
	cfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		values := collect(in, sourceAttributeID)
		if len(values) == 0 {
			return nil, nil
		}
		return plugin.NewOutput(attribute.New(id, values...)), nil
	})
	return plugin.New(cfg)
}

// Scoped builds a definition that qualifies a dependency's string values
// with a fixed scope. Values without a text form, including empty markers,
// pass through unchanged so emptiness is preserved.
func Scoped(id, sourcePluginID, sourceAttributeID, scope string, opts ...Option) (plugin.Plugin, error) {
	cfg := plugin.NewConfig()
	cfg.SetID(id)
	cfg.AddDependency(sourcePluginID, sourceAttributeID)
	if err := apply(cfg, opts); err != nil {
		return nil, err
	}
	cfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		source := collect(in, sourceAttributeID)
		if len(source) == 0 {
			return nil, nil
		}
		values := make([]attribute.Value, 0, len(source))
		for _, v := range source {
			if s, ok := v.AsText(); ok {
				values = append(values, attribute.Scoped{Value: s, Scope: scope})
				continue
			}
			values = append(values, v)
		}
		return plugin.NewOutput(attribute.New(id, values...)), nil
	})
	return plugin.New(cfg)
}

// Static builds a data connector that emits a fixed attribute set on every
// request. Static connectors perform no I/O and are a common failover
// target for connectors that do.
func Static(id string, attrs []attribute.Attribute, opts ...Option) (plugin.Connector, error) {
	cfg := plugin.NewConfig()
	cfg.SetID(id)
	if err := apply(cfg, opts); err != nil {
		return nil, err
	}
	cfg.SetEvaluate(func(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
		if len(attrs) == 0 {
			return nil, nil
		}
		out := make([]attribute.Attribute, len(attrs))
		copy(out, attrs)
		return plugin.NewOutput(out...), nil
	})
	return plugin.NewConnector(cfg)
}
