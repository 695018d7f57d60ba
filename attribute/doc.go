// Package attribute defines the value model shared by every resolver plugin.
//
// An Attribute is an ordered sequence of typed values under a single
// attribute ID. Values come in four kinds: plain strings, scoped strings
// (value plus scope, rendered as "value@scope"), opaque structured data,
// and explicit empty markers. Empty markers are first-class: a null or
// zero-length value stays a null or zero-length value as it flows through
// the resolution graph, it is never silently coerced into a usable string.
package attribute
