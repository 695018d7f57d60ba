// Package idstore defines the durable store behind stateful pairwise
// identifiers.
//
// The store maps an (identity provider, relying party, principal
// fingerprint) triple to identifier records. For each triple at most one
// record is active at a time; deactivated records are retained for audit and
// history, never deleted. Creating and deactivating records must be atomic
// at the backend so two concurrent resolutions for the same triple cannot
// both install an active record.
//
// The package provides the Store contract, a process-local in-memory
// implementation, and backends under idstore/sqlite, idstore/redisstore and
// idstore/etcdstore.
package idstore
