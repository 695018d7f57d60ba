package resolver

import (
	"github.com/attrgraph/sdk/attribute"
)

// outcome is the recorded result of one plugin evaluation within a single
// request: either a set of produced attributes or "absent". Ordinary
// failures are folded into absent by the time an outcome is recorded;
// dependents only ever see values or their absence. The exception is err,
// set when a connector with no failover could not reach its backing system:
// that outcome fails the whole request instead of downgrading.
type outcome struct {
	attrs  []attribute.Attribute
	absent bool
	err    error
}

var absentOutcome = outcome{absent: true}

// workContext is the per-request evaluation state. It is created fresh for
// every Resolve call and never shared, so it needs no locking.
type workContext struct {
	// resolved memoizes each visited plugin's outcome. An entry is
	// recorded exactly once and reused on every later path that reaches
	// the same plugin.
	resolved map[string]outcome

	// visiting guards the running depth-first walk against cycles.
	// Static validation already rejects cyclic plugin sets; this catches
	// anything that slips past it at runtime.
	visiting map[string]struct{}
}

func newWorkContext() *workContext {
	return &workContext{
		resolved: make(map[string]outcome),
		visiting: make(map[string]struct{}),
	}
}
