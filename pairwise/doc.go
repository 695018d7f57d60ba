// Package pairwise implements the persistent-identifier connector family.
//
// Both connectors turn one source attribute value into a pseudonymous
// identifier that is unique to the (principal, relying party) pair and
// unlinkable across relying parties. ComputedID is stateless: the same
// salt, source value and relying party always derive the same identifier.
// StoredID persists identifiers in an idstore.Store, which makes them
// rotatable: once a stored identifier is deactivated, the next resolution
// installs a fresh, random identifier with no relationship to the old one.
package pairwise
