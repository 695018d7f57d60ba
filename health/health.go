// Package health provides reusable health checks for resolver deployments.
// It offers standardized ways to verify the identifier store and the
// resolver's plugin set before serving requests.
package health

import (
	"context"
	"time"

	"github.com/attrgraph/sdk/idstore"
)

// Status constants represent the operational state of a component.
const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy = "healthy"

	// StatusDegraded indicates the component is operational but
	// experiencing issues.
	StatusDegraded = "degraded"

	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy = "unhealthy"
)

// Status represents the health state of a component.
type Status struct {
	// State is the current health state (healthy, degraded, unhealthy).
	State string `json:"state"`

	// Message provides a human-readable description of the state.
	Message string `json:"message,omitempty"`

	// Details contains additional diagnostic context.
	Details map[string]any `json:"details,omitempty"`
}

// IsHealthy returns true if the state is StatusHealthy.
func (s Status) IsHealthy() bool { return s.State == StatusHealthy }

// IsUnhealthy returns true if the state is StatusUnhealthy.
func (s Status) IsUnhealthy() bool { return s.State == StatusUnhealthy }

// Healthy creates a healthy status with an optional message.
func Healthy(message string) Status {
	return Status{State: StatusHealthy, Message: message}
}

// Unhealthy creates an unhealthy status with a message and optional
// details.
func Unhealthy(message string, details map[string]any) Status {
	return Status{State: StatusUnhealthy, Message: message, Details: details}
}

// StoreCheck verifies the identifier store is reachable. The check is
// bounded by the given timeout (5s when zero).
//
// Example:
//
//	status := health.StoreCheck(ctx, store, 2*time.Second)
//	if status.IsUnhealthy() {
//	    log.Fatal("identifier store unreachable")
//	}
func StoreCheck(ctx context.Context, store idstore.Store, timeout time.Duration) Status {
	if store == nil {
		return Unhealthy("no identifier store configured", nil)
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := store.Ping(ctx); err != nil {
		return Unhealthy("identifier store unreachable", map[string]any{
			"error": err.Error(),
		})
	}
	return Status{
		State:   StatusHealthy,
		Message: "identifier store reachable",
		Details: map[string]any{
			"latency_ms": time.Since(start).Milliseconds(),
		},
	}
}
