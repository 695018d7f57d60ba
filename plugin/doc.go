// Package plugin defines the contracts every attribute-resolution plugin
// implements.
//
// A plugin is either an attribute definition (a pure function of other
// plugins' outputs) or a data connector (which may perform external I/O to
// fetch source values). Both share a single evaluation capability: given the
// request and the resolved outputs of their dependencies, they produce a set
// of attributes, or no output at all.
//
// Plugins are constructed through the builder in this package or provided as
// custom implementations, then handed to a resolver which activates the set
// once. After activation a plugin is read-only and safe for concurrent use
// across resolution requests.
package plugin
