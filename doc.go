// Package sdk provides an attribute resolution engine for identity
// providers: given an authenticated principal and a requesting relying
// party, it computes the set of attributes to release, including
// cryptographically derived, privacy-preserving pairwise identifiers.
//
// # Core Concepts
//
// The SDK is organized around a few concepts:
//
//   - Attribute definitions: pure plugins deriving output values from
//     other plugins' outputs
//   - Data connectors: plugins that may perform external I/O to produce
//     source values, with per-connector timeout and failover
//   - Resolver: the orchestrator that validates the plugin dependency
//     graph once and walks it per request with memoization
//   - Pairwise identifiers: per relying-party pseudonyms, either computed
//     deterministically (ComputedID) or persisted and rotatable (StoredID)
//   - Identifier store: the durable backend for stored identifiers, with
//     memory, SQLite, Redis and etcd implementations
//
// # Getting Started
//
// Build a service from a configuration file:
//
//	svc, err := sdk.New(
//	    sdk.WithConfigPath("/etc/attrgraph/resolver.yaml"),
//	    sdk.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	attrs, err := svc.Resolve(ctx, &plugin.Request{
//	    Principal: "jdoe",
//	    IdPID:     "https://idp.example.org",
//	    RPID:      "https://sp.example.org",
//	})
//
// Or assemble the plugin set in code with the resolver and pairwise
// packages directly; the service facade is a convenience, not a
// requirement.
package sdk
