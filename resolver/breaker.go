package resolver

import (
	"sync"
	"time"
)

// breaker tracks the last failure time per connector ID. A connector whose
// last failure is within its no-retry window is skipped straight to its
// failover instead of being re-invoked.
//
// The state is shared across requests and only needs eventual consistency:
// an extra invocation under race costs one retry, not correctness.
type breaker struct {
	mu          sync.Mutex
	lastFailure map[string]time.Time
	now         func() time.Time
}

func newBreaker() *breaker {
	return &breaker{
		lastFailure: make(map[string]time.Time),
		now:         time.Now,
	}
}

// open reports whether the connector is inside its no-retry window.
// A zero window means failures never open the breaker.
func (b *breaker) open(connectorID string, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	last, ok := b.lastFailure[connectorID]
	if !ok {
		return false
	}
	return b.now().Sub(last) < window
}

// recordFailure stamps the connector's last failure at the current time.
func (b *breaker) recordFailure(connectorID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure[connectorID] = b.now()
}
