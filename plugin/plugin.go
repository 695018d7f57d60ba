package plugin

import (
	"context"
	"errors"
	"time"

	"github.com/attrgraph/sdk/attribute"
)

// ErrUnavailable marks a connector failure as "backing system unreachable".
// Connectors wrap it when they cannot run at all (an identifier store that
// cannot be reached, for example) as opposed to running and producing
// nothing. With no failover configured the resolver escalates an
// unavailable connector instead of downgrading it to absence.
var ErrUnavailable = errors.New("plugin: backing system unavailable")

// Kind identifies the plugin variant.
type Kind int

const (
	// KindDefinition is an attribute definition: a pure function of other
	// plugins' outputs, never performing external I/O of its own.
	KindDefinition Kind = iota

	// KindConnector is a data connector: it may reach out to external
	// systems (directories, identifier stores) to produce source values.
	KindConnector
)

// String returns the kind name for logs.
func (k Kind) String() string {
	switch k {
	case KindDefinition:
		return "definition"
	case KindConnector:
		return "connector"
	default:
		return "unknown"
	}
}

// Dependency names another plugin this plugin consumes.
//
// A dependency on a plugin's entire output leaves AttributeID empty; naming
// an AttributeID narrows the dependency to that single attribute out of the
// producer's output set, which lets a definition consume one specific value
// from a connector that emits several.
type Dependency struct {
	// PluginID is the producing plugin's ID. Required.
	PluginID string

	// AttributeID optionally selects one attribute from the producer's
	// output. Empty means the whole output set.
	AttributeID string
}

// Request carries the per-request facts a plugin may consult: who is being
// resolved, for which identity provider, and for which relying party.
// Requests are read-only from a plugin's perspective.
type Request struct {
	// Principal is the authenticated principal's canonical name.
	Principal string

	// IdPID identifies the issuing identity provider.
	IdPID string

	// RPID identifies the relying party the attributes are released to.
	RPID string

	// Session holds attributes already established before resolution
	// (e.g. by the authentication flow). May be nil.
	Session attribute.Set
}

// Inputs holds the resolved outputs of a plugin's dependencies, keyed by
// attribute ID. A dependency that resolved to no output contributes no
// entries, so a plugin always sees Inputs as "whatever my dependencies
// actually produced" and decides for itself whether missing input is fatal.
type Inputs map[string][]attribute.Value

// Values returns the values recorded under the given attribute ID.
// The result is nil when the attribute is not present.
func (in Inputs) Values(attributeID string) []attribute.Value {
	return in[attributeID]
}

// Merge records the given attribute's values, appending to any values
// already present under the same ID.
func (in Inputs) Merge(a attribute.Attribute) {
	if len(a.Values) == 0 {
		return
	}
	in[a.ID] = append(in[a.ID], a.Values...)
}

// Output is the product of one plugin evaluation. A nil *Output means the
// plugin produced no output ("absent"), which is an ordinary outcome, not
// an error.
type Output struct {
	// Attributes holds the produced attributes. Definitions typically emit
	// exactly one attribute carrying their own ID; connectors may emit
	// several.
	Attributes []attribute.Attribute
}

// NewOutput builds an output from the given attributes.
func NewOutput(attrs ...attribute.Attribute) *Output {
	return &Output{Attributes: attrs}
}

// Plugin is the common contract of attribute definitions and data
// connectors.
//
// Evaluate returns (nil, nil) to signal the plugin produced no output.
// A non-nil error signals a resolution failure for this plugin only; the
// resolver maps it to an absent result (or a failover result, for
// connectors) rather than aborting the whole request. The exception is an
// error wrapping ErrUnavailable from a connector with no failover, which
// fails the request.
type Plugin interface {
	// ID returns the plugin's identifier, unique within one resolver.
	ID() string

	// Kind reports whether this is a definition or a connector.
	Kind() Kind

	// Dependencies returns the plugins this plugin consumes, in order.
	Dependencies() []Dependency

	// Condition returns the activation condition, or nil when the plugin
	// is unconditionally active. A false condition skips evaluation
	// entirely and the plugin is treated as having produced no output.
	Condition() *Condition

	// Evaluate runs the plugin's own logic against the resolved
	// dependency outputs.
	Evaluate(ctx context.Context, req *Request, in Inputs) (*Output, error)
}

// Connector extends Plugin with the failure-handling knobs only data
// connectors carry.
type Connector interface {
	Plugin

	// FailoverID names the connector whose result substitutes for this
	// one's when execution fails. Empty means no failover.
	FailoverID() string

	// NoRetryInterval is the window after a failure during which the
	// resolver skips this connector and goes straight to its failover.
	// Zero disables the window.
	NoRetryInterval() time.Duration

	// Timeout bounds one execution of this connector. Zero means no
	// bound beyond the request's own context.
	Timeout() time.Duration
}
