// Package resolver drives attribute resolution over a plugin dependency
// graph.
//
// A Resolver owns an immutable set of plugins. Construction validates the
// set once: duplicate IDs, references to unknown plugins and dependency
// cycles are all rejected up front, so a Resolver that exists can always
// run. Each Resolve call walks the graph depth-first with a fresh
// per-request work context that memoizes every plugin's outcome, so a
// plugin executes at most once per request no matter how many dependency
// paths reach it.
//
// Data connectors get failure handling on top: a per-connector execution
// timeout, substitution of a failover connector's result when execution
// fails, and a wall-clock no-retry window during which a recently failed
// connector is skipped in favor of its failover.
package resolver
