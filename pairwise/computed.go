package pairwise

import (
	"context"
	"fmt"
	"time"

	"github.com/attrgraph/sdk/attribute"
	"github.com/attrgraph/sdk/plugin"
)

// Config configures a pairwise identifier connector.
type Config struct {
	// ID is the connector's plugin ID. Required.
	ID string

	// GeneratedAttributeID is the ID of the attribute the connector
	// emits. Defaults to ID.
	GeneratedAttributeID string

	// SourcePluginID names the plugin supplying the source attribute.
	// Required.
	SourcePluginID string

	// SourceAttributeID names the single attribute whose value seeds the
	// identifier. Required; a connector consumes exactly one source
	// attribute.
	SourceAttributeID string

	// Salt is the derivation secret, at least MinSaltLength bytes.
	Salt []byte

	// Algorithm selects the derivation construction.
	Algorithm Algorithm

	// Condition optionally gates the connector per request.
	Condition *plugin.Condition

	// FailoverID, NoRetryInterval and Timeout are the standard connector
	// failure-handling knobs.
	FailoverID      string
	NoRetryInterval time.Duration
	Timeout         time.Duration
}

func (c *Config) validate() error {
	if c.ID == "" {
		return fmt.Errorf("pairwise: connector ID is required")
	}
	if c.SourcePluginID == "" {
		return fmt.Errorf("pairwise: connector %q: source plugin ID is required", c.ID)
	}
	if c.SourceAttributeID == "" {
		return fmt.Errorf("pairwise: connector %q: exactly one source attribute ID is required", c.ID)
	}
	if len(c.Salt) < MinSaltLength {
		return fmt.Errorf("pairwise: connector %q: salt must be at least %d bytes, got %d",
			c.ID, MinSaltLength, len(c.Salt))
	}
	if c.GeneratedAttributeID == "" {
		c.GeneratedAttributeID = c.ID
	}
	return nil
}

// sourceValue extracts the single usable source string from the resolved
// dependency outputs. It reports false when the connector should produce
// no result: no value, more than one value, an empty marker, or a value
// without a plain string form.
func (c *Config) sourceValue(in plugin.Inputs) (string, bool) {
	values := in.Values(c.SourceAttributeID)
	if len(values) != 1 {
		return "", false
	}
	v := values[0]
	if v.IsEmpty() {
		return "", false
	}
	s, ok := v.(attribute.String)
	if !ok {
		return "", false
	}
	return string(s), true
}

// ComputedID is the stateless identifier connector: it derives the
// identifier from (salt, source value, relying party) on every request and
// never touches storage.
type ComputedID struct {
	cfg Config
}

// NewComputedID builds a ComputedID connector, failing fast on a missing
// source attribute or an undersized salt.
func NewComputedID(cfg Config) (*ComputedID, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &ComputedID{cfg: cfg}, nil
}

// ID implements plugin.Plugin.
func (c *ComputedID) ID() string { return c.cfg.ID }

// Kind implements plugin.Plugin.
func (c *ComputedID) Kind() plugin.Kind { return plugin.KindConnector }

// Dependencies implements plugin.Plugin.
func (c *ComputedID) Dependencies() []plugin.Dependency {
	return []plugin.Dependency{{PluginID: c.cfg.SourcePluginID, AttributeID: c.cfg.SourceAttributeID}}
}

// Condition implements plugin.Plugin.
func (c *ComputedID) Condition() *plugin.Condition { return c.cfg.Condition }

// FailoverID implements plugin.Connector.
func (c *ComputedID) FailoverID() string { return c.cfg.FailoverID }

// NoRetryInterval implements plugin.Connector.
func (c *ComputedID) NoRetryInterval() time.Duration { return c.cfg.NoRetryInterval }

// Timeout implements plugin.Connector.
func (c *ComputedID) Timeout() time.Duration { return c.cfg.Timeout }

// Evaluate implements plugin.Plugin.
func (c *ComputedID) Evaluate(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
	value, ok := c.cfg.sourceValue(in)
	if !ok {
		return nil, nil
	}
	id := derive(c.cfg.Algorithm, c.cfg.Salt, value, req.RPID)
	return plugin.NewOutput(attribute.New(c.cfg.GeneratedAttributeID, attribute.String(id))), nil
}
