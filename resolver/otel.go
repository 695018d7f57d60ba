package resolver

import (
	"context"
	"fmt"

	otelattr "go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments holds the OpenTelemetry metric instruments for a Resolver.
// They are created once at construction and reused for every request.
type instruments struct {
	// requests counts Resolve calls.
	requests metric.Int64Counter

	// duration records Resolve latency in milliseconds.
	duration metric.Float64Histogram

	// evaluations counts plugin executions, attributed by plugin ID and
	// outcome ("resolved", "absent", "failed", "skipped").
	evaluations metric.Int64Counter

	// failovers counts failover substitutions, attributed by the failing
	// connector's ID.
	failovers metric.Int64Counter
}

// newInstruments creates the metric instruments from the given provider.
// A nil provider yields nil instruments, and every record method is
// nil-safe, so metrics are a strict opt-in.
func newInstruments(provider metric.MeterProvider) (*instruments, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter("github.com/attrgraph/sdk/resolver")
	ins := &instruments{}
	var err error

	ins.requests, err = meter.Int64Counter(
		"resolve.requests",
		metric.WithDescription("Number of attribute resolution requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create requests counter: %w", err)
	}

	ins.duration, err = meter.Float64Histogram(
		"resolve.duration",
		metric.WithDescription("Attribute resolution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	ins.evaluations, err = meter.Int64Counter(
		"plugin.evaluations",
		metric.WithDescription("Number of plugin executions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create evaluations counter: %w", err)
	}

	ins.failovers, err = meter.Int64Counter(
		"connector.failovers",
		metric.WithDescription("Number of connector failover substitutions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create failovers counter: %w", err)
	}

	return ins, nil
}

func (ins *instruments) recordRequest(ctx context.Context, rpID string, ms float64) {
	if ins == nil {
		return
	}
	attrs := metric.WithAttributes(otelattr.String("rp_id", rpID))
	ins.requests.Add(ctx, 1, attrs)
	ins.duration.Record(ctx, ms, attrs)
}

func (ins *instruments) recordEvaluation(ctx context.Context, pluginID, result string) {
	if ins == nil {
		return
	}
	ins.evaluations.Add(ctx, 1, metric.WithAttributes(
		otelattr.String("plugin_id", pluginID),
		otelattr.String("result", result),
	))
}

func (ins *instruments) recordFailover(ctx context.Context, connectorID string) {
	if ins == nil {
		return
	}
	ins.failovers.Add(ctx, 1, metric.WithAttributes(
		otelattr.String("connector_id", connectorID),
	))
}
