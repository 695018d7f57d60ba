package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/attrgraph/sdk/attribute"
	"github.com/attrgraph/sdk/plugin"
)

// Common errors returned by resolver construction and resolution.
var (
	// ErrDuplicatePlugin is returned when two plugins share an ID.
	ErrDuplicatePlugin = errors.New("resolver: duplicate plugin ID")

	// ErrUnknownPlugin is returned when a dependency, failover or
	// requested ID names no plugin in the set.
	ErrUnknownPlugin = errors.New("resolver: unknown plugin ID")

	// ErrCycle is returned when the static dependency graph contains a
	// cycle.
	ErrCycle = errors.New("resolver: dependency cycle")
)

// Config configures a Resolver.
type Config struct {
	// Plugins is the full plugin set: attribute definitions and data
	// connectors.
	Plugins []plugin.Plugin

	// Logger receives per-plugin resolution events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// MeterProvider optionally enables OpenTelemetry metrics.
	MeterProvider metric.MeterProvider
}

// Resolver evaluates a validated, immutable plugin set on demand.
// It is safe for concurrent use; every Resolve call gets its own work
// context and nothing request-scoped is shared.
type Resolver struct {
	plugins     map[string]plugin.Plugin
	definitions []string // sorted definition IDs, the default resolution set
	logger      *slog.Logger
	breaker     *breaker
	metrics     *instruments
}

// New validates the plugin set and activates it. Validation fails closed:
// duplicate IDs, dependencies or failovers naming unknown plugins,
// failovers naming non-connectors, and dependency cycles all make the
// whole set unusable.
func New(cfg Config) (*Resolver, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	plugins := make(map[string]plugin.Plugin, len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		if p.ID() == "" {
			return nil, fmt.Errorf("%w: empty", ErrUnknownPlugin)
		}
		if _, exists := plugins[p.ID()]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePlugin, p.ID())
		}
		plugins[p.ID()] = p
	}

	var definitions []string
	for id, p := range plugins {
		for _, dep := range p.Dependencies() {
			if _, ok := plugins[dep.PluginID]; !ok {
				return nil, fmt.Errorf("%w: plugin %q depends on %q", ErrUnknownPlugin, id, dep.PluginID)
			}
		}
		if conn, ok := p.(plugin.Connector); ok && conn.FailoverID() != "" {
			target, exists := plugins[conn.FailoverID()]
			if !exists {
				return nil, fmt.Errorf("%w: connector %q fails over to %q", ErrUnknownPlugin, id, conn.FailoverID())
			}
			if target.Kind() != plugin.KindConnector {
				return nil, fmt.Errorf("resolver: connector %q fails over to %q, which is not a connector", id, conn.FailoverID())
			}
		}
		if p.Kind() == plugin.KindDefinition {
			definitions = append(definitions, id)
		}
	}
	sort.Strings(definitions)

	if cycle := findCycle(plugins); cycle != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, cycle)
	}

	metrics, err := newInstruments(cfg.MeterProvider)
	if err != nil {
		return nil, err
	}

	return &Resolver{
		plugins:     plugins,
		definitions: definitions,
		logger:      logger,
		breaker:     newBreaker(),
		metrics:     metrics,
	}, nil
}

// edges returns the static outgoing edges of a plugin: its dependencies
// plus, for connectors, the failover target. Failover edges participate in
// cycle detection because a failing connector's walk continues through its
// failover.
func edges(p plugin.Plugin) []string {
	var out []string
	for _, dep := range p.Dependencies() {
		out = append(out, dep.PluginID)
	}
	if conn, ok := p.(plugin.Connector); ok && conn.FailoverID() != "" {
		out = append(out, conn.FailoverID())
	}
	return out
}

// findCycle runs a white/gray/black depth-first coloring over the full
// static graph and returns one cycle path as a witness, or nil when the
// graph is acyclic. Iteration is over sorted IDs so the witness is stable.
func findCycle(plugins map[string]plugin.Plugin) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	ids := make([]string, 0, len(plugins))
	for id := range plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	color := make(map[string]int, len(plugins))
	parent := make(map[string]string, len(plugins))
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		for _, next := range edges(plugins[id]) {
			switch color[next] {
			case white:
				parent[next] = id
				if dfs(next) {
					return true
				}
			case gray:
				// Back-edge id -> next; walk parents to rebuild the path.
				cycle = append(cycle, next)
				for cur := id; cur != next; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, next)
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white && dfs(id) {
			return cycle
		}
	}
	return nil
}

// PluginIDs returns the IDs of all plugins in the set, sorted.
func (r *Resolver) PluginIDs() []string {
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve computes the attribute set to release for the request.
//
// When requested is empty, every attribute definition in the set is
// resolved; otherwise only the named plugins are. Plugins that produce no
// output simply contribute nothing; a plugin failure downgrades to absence
// (after any configured failover) rather than failing the request. The one
// failure that does fail the request is a connector with no failover whose
// backing system is unreachable (plugin.ErrUnavailable).
func (r *Resolver) Resolve(ctx context.Context, req *plugin.Request, requested ...string) (attribute.Set, error) {
	if req == nil {
		return nil, fmt.Errorf("resolver: request is required")
	}
	start := time.Now()

	ids := requested
	if len(ids) == 0 {
		ids = r.definitions
	} else {
		for _, id := range ids {
			if _, ok := r.plugins[id]; !ok {
				return nil, fmt.Errorf("%w: requested %q", ErrUnknownPlugin, id)
			}
		}
	}

	wc := newWorkContext()
	released := make(attribute.Set)
	for _, id := range ids {
		o := r.resolveNode(ctx, wc, req, id)
		if o.err != nil {
			return nil, o.err
		}
		if o.absent {
			continue
		}
		for _, a := range o.attrs {
			if len(a.Values) == 0 {
				continue
			}
			merged := a
			if existing, ok := released[a.ID]; ok {
				merged.Values = append(append([]attribute.Value{}, existing.Values...), a.Values...)
			}
			released[merged.ID] = merged
		}
	}

	r.metrics.recordRequest(ctx, req.RPID, float64(time.Since(start).Microseconds())/1000.0)
	r.logger.DebugContext(ctx, "resolution complete",
		slog.String("principal", req.Principal),
		slog.String("rp_id", req.RPID),
		slog.Int("attributes", len(released)))
	return released, nil
}

// resolveNode resolves one plugin within the request's work context,
// memoizing the outcome. Dependencies resolve depth-first before the
// plugin's own logic runs; an absent dependency contributes empty input
// rather than short-circuiting the dependent.
func (r *Resolver) resolveNode(ctx context.Context, wc *workContext, req *plugin.Request, id string) outcome {
	if o, ok := wc.resolved[id]; ok {
		return o
	}
	if _, ok := wc.visiting[id]; ok {
		// Unreachable when construction validated the graph.
		r.logger.ErrorContext(ctx, "cycle encountered during walk", slog.String("plugin_id", id))
		return absentOutcome
	}

	p, ok := r.plugins[id]
	if !ok {
		return absentOutcome
	}

	wc.visiting[id] = struct{}{}
	defer delete(wc.visiting, id)

	o := r.evaluateNode(ctx, wc, req, p)
	wc.resolved[id] = o
	return o
}

func (r *Resolver) evaluateNode(ctx context.Context, wc *workContext, req *plugin.Request, p plugin.Plugin) outcome {
	if cond := p.Condition(); cond != nil {
		active, err := cond.Eval(req)
		if err != nil {
			r.logger.WarnContext(ctx, "activation condition failed",
				slog.String("plugin_id", p.ID()), slog.Any("error", err))
			r.metrics.recordEvaluation(ctx, p.ID(), "failed")
			return absentOutcome
		}
		if !active {
			r.metrics.recordEvaluation(ctx, p.ID(), "skipped")
			return absentOutcome
		}
	}

	in := make(plugin.Inputs)
	for _, dep := range p.Dependencies() {
		depOutcome := r.resolveNode(ctx, wc, req, dep.PluginID)
		if depOutcome.err != nil {
			return depOutcome
		}
		if depOutcome.absent {
			continue
		}
		for _, a := range depOutcome.attrs {
			if dep.AttributeID != "" && a.ID != dep.AttributeID {
				continue
			}
			in.Merge(a)
		}
	}

	var out *plugin.Output
	var err error
	if conn, isConn := p.(plugin.Connector); isConn && p.Kind() == plugin.KindConnector {
		out, err = r.executeConnector(ctx, wc, req, conn, in)
		if err != nil {
			// executeConnector already exhausted failover.
			r.logger.WarnContext(ctx, "connector failed",
				slog.String("plugin_id", p.ID()), slog.Any("error", err))
			r.metrics.recordEvaluation(ctx, p.ID(), "failed")
			if errors.Is(err, plugin.ErrUnavailable) {
				return outcome{absent: true, err: err}
			}
			return absentOutcome
		}
	} else {
		out, err = p.Evaluate(ctx, req, in)
		if err != nil {
			r.logger.WarnContext(ctx, "definition failed",
				slog.String("plugin_id", p.ID()), slog.Any("error", err))
			r.metrics.recordEvaluation(ctx, p.ID(), "failed")
			return absentOutcome
		}
	}

	if out == nil || len(out.Attributes) == 0 {
		r.metrics.recordEvaluation(ctx, p.ID(), "absent")
		return absentOutcome
	}
	r.metrics.recordEvaluation(ctx, p.ID(), "resolved")
	return outcome{attrs: out.Attributes}
}

// executeConnector runs a data connector with its timeout and failure
// handling. A connector inside its no-retry window is not invoked at all;
// its failover's outcome substitutes directly.
func (r *Resolver) executeConnector(ctx context.Context, wc *workContext, req *plugin.Request, conn plugin.Connector, in plugin.Inputs) (*plugin.Output, error) {
	if r.breaker.open(conn.ID(), conn.NoRetryInterval()) {
		r.logger.DebugContext(ctx, "connector in no-retry window, using failover",
			slog.String("plugin_id", conn.ID()))
		return r.failover(ctx, wc, req, conn, fmt.Errorf("%w: no-retry window open", plugin.ErrUnavailable))
	}

	cctx := ctx
	if t := conn.Timeout(); t > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	out, err := conn.Evaluate(cctx, req, in)
	if err != nil {
		r.breaker.recordFailure(conn.ID())
		return r.failover(ctx, wc, req, conn, err)
	}
	return out, nil
}

// failover substitutes the failover connector's outcome for the failing
// connector's, or reports the original failure when no failover is
// configured.
func (r *Resolver) failover(ctx context.Context, wc *workContext, req *plugin.Request, conn plugin.Connector, cause error) (*plugin.Output, error) {
	failoverID := conn.FailoverID()
	if failoverID == "" {
		return nil, cause
	}

	r.metrics.recordFailover(ctx, conn.ID())
	r.logger.InfoContext(ctx, "substituting failover connector",
		slog.String("plugin_id", conn.ID()),
		slog.String("failover_id", failoverID),
		slog.Any("cause", cause))

	o := r.resolveNode(ctx, wc, req, failoverID)
	if o.err != nil {
		return nil, o.err
	}
	if o.absent {
		return nil, nil
	}
	return plugin.NewOutput(o.attrs...), nil
}
