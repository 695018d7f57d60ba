package plugin

import (
	"context"
	"fmt"
	"time"
)

// EvaluateFunc is the function a built plugin runs against its resolved
// dependency outputs. Returning (nil, nil) means "no output".
type EvaluateFunc func(ctx context.Context, req *Request, in Inputs) (*Output, error)

// Config holds the configuration for building a plugin.
// Use NewConfig to create a configuration, then the setter methods to
// configure it before calling New or NewConnector to build the plugin.
// All mutation happens here; built plugins are immutable.
type Config struct {
	id           string
	dependencies []Dependency
	condition    *Condition
	evaluate     EvaluateFunc

	// connector-only knobs
	failoverID string
	noRetry    time.Duration
	timeout    time.Duration
}

// NewConfig creates an empty plugin configuration.
func NewConfig() *Config {
	return &Config{}
}

// SetID sets the plugin ID.
func (c *Config) SetID(id string) {
	c.id = id
}

// AddDependency records a dependency on another plugin. An empty
// attributeID depends on the producer's entire output set.
func (c *Config) AddDependency(pluginID, attributeID string) {
	c.dependencies = append(c.dependencies, Dependency{PluginID: pluginID, AttributeID: attributeID})
}

// SetCondition compiles expr into the plugin's activation condition.
func (c *Config) SetCondition(expr string) error {
	cond, err := NewCondition(expr)
	if err != nil {
		return err
	}
	c.condition = cond
	return nil
}

// SetEvaluate sets the plugin's evaluation function.
func (c *Config) SetEvaluate(fn EvaluateFunc) {
	c.evaluate = fn
}

// SetFailoverID names the failover connector. Only meaningful for
// connectors.
func (c *Config) SetFailoverID(id string) {
	c.failoverID = id
}

// SetNoRetryInterval sets the window during which a failed connector is
// not re-invoked. Only meaningful for connectors.
func (c *Config) SetNoRetryInterval(d time.Duration) {
	c.noRetry = d
}

// SetTimeout bounds one connector execution. Only meaningful for
// connectors.
func (c *Config) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Config) validate(kind Kind) error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if c.id == "" {
		return fmt.Errorf("plugin ID is required")
	}
	if c.evaluate == nil {
		return fmt.Errorf("plugin %q: evaluate function is required", c.id)
	}
	for _, dep := range c.dependencies {
		if dep.PluginID == "" {
			return fmt.Errorf("plugin %q: dependency with empty plugin ID", c.id)
		}
	}
	if kind == KindDefinition && (c.failoverID != "" || c.noRetry != 0 || c.timeout != 0) {
		return fmt.Errorf("plugin %q: failover and timeout apply to connectors only", c.id)
	}
	if c.failoverID == c.id && c.failoverID != "" {
		return fmt.Errorf("connector %q: cannot fail over to itself", c.id)
	}
	return nil
}

// New builds an attribute definition from the configuration.
func New(cfg *Config) (Plugin, error) {
	if err := cfg.validate(KindDefinition); err != nil {
		return nil, err
	}
	return &built{cfg: *cfg, kind: KindDefinition}, nil
}

// NewConnector builds a data connector from the configuration.
func NewConnector(cfg *Config) (Connector, error) {
	if err := cfg.validate(KindConnector); err != nil {
		return nil, err
	}
	return &built{cfg: *cfg, kind: KindConnector}, nil
}

// built is the private implementation behind New and NewConnector.
type built struct {
	cfg  Config
	kind Kind
}

func (b *built) ID() string { return b.cfg.id }

func (b *built) Kind() Kind { return b.kind }

func (b *built) Condition() *Condition { return b.cfg.condition }

func (b *built) FailoverID() string { return b.cfg.failoverID }

func (b *built) NoRetryInterval() time.Duration { return b.cfg.noRetry }

func (b *built) Timeout() time.Duration { return b.cfg.timeout }

func (b *built) Dependencies() []Dependency {
	deps := make([]Dependency, len(b.cfg.dependencies))
	copy(deps, b.cfg.dependencies)
	return deps
}

func (b *built) Evaluate(ctx context.Context, req *Request, in Inputs) (*Output, error) {
	return b.cfg.evaluate(ctx, req, in)
}
