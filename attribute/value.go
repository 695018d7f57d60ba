package attribute

import (
	"encoding/json"
	"fmt"
)

// EmptyKind distinguishes the two flavors of empty marker.
type EmptyKind int

const (
	// EmptyNull marks a value that was present in a source but carried no
	// data at all (a directory null, a missing XML text node).
	EmptyNull EmptyKind = iota

	// EmptyZeroLength marks a value that was present but zero-length ("").
	EmptyZeroLength
)

// Value is one element of an attribute's value sequence.
//
// Implementations are String, Scoped, Structured and Empty. Code that needs
// a plain string representation should go through AsText, which reports
// whether the value is usable as text at all.
type Value interface {
	// AsText returns the plain-string rendering of the value and true, or
	// ("", false) when the value has no usable string form. Empty markers
	// and structured values never have one.
	AsText() (string, bool)

	// IsEmpty reports whether the value is an empty marker.
	IsEmpty() bool
}

// String is a plain string value.
type String string

// AsText implements Value.
func (s String) AsText() (string, bool) { return string(s), true }

// IsEmpty implements Value.
func (s String) IsEmpty() bool { return false }

// Scoped is a string value qualified by a scope, e.g. a user name qualified
// by a security domain.
type Scoped struct {
	Value string `json:"value"`
	Scope string `json:"scope"`
}

// AsText renders the value as "value@scope".
func (s Scoped) AsText() (string, bool) { return s.Value + "@" + s.Scope, true }

// IsEmpty implements Value.
func (s Scoped) IsEmpty() bool { return false }

// Structured is an opaque value carried through resolution without
// interpretation. Plugins that require text input treat it as unusable.
type Structured struct {
	Data any `json:"data"`
}

// AsText implements Value. Structured data has no canonical text form.
func (s Structured) AsText() (string, bool) { return "", false }

// IsEmpty implements Value.
func (s Structured) IsEmpty() bool { return false }

// Empty is an explicit empty marker.
type Empty struct {
	Kind EmptyKind `json:"kind"`
}

// AsText implements Value. Empty markers never have a text form.
func (e Empty) AsText() (string, bool) { return "", false }

// IsEmpty implements Value.
func (e Empty) IsEmpty() bool { return true }

// FromString converts a raw string into a Value, mapping "" to the
// zero-length empty marker so emptiness survives the conversion.
func FromString(s string) Value {
	if s == "" {
		return Empty{Kind: EmptyZeroLength}
	}
	return String(s)
}

// Attribute is an identified, ordered sequence of values.
type Attribute struct {
	// ID is the attribute identifier, unique within a Set.
	ID string `json:"id"`

	// Values holds the attribute's values in source order. It may contain
	// empty markers; it is nil or zero-length when the attribute produced
	// nothing.
	Values []Value `json:"values"`
}

// New builds an attribute from the given values.
func New(id string, values ...Value) Attribute {
	return Attribute{ID: id, Values: values}
}

// TextValues returns the plain-string renderings of all values that have
// one, in order. Empty markers and structured values are skipped.
func (a Attribute) TextValues() []string {
	out := make([]string, 0, len(a.Values))
	for _, v := range a.Values {
		if s, ok := v.AsText(); ok {
			out = append(out, s)
		}
	}
	return out
}

// String returns a human-readable rendering for logs and tests.
func (a Attribute) String() string {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Sprintf("attribute{id=%s}", a.ID)
	}
	return string(data)
}

// Set is the final product of a resolution request: attributes keyed by ID.
// Definitions that resolved to no output have no entry.
type Set map[string]Attribute

// IDs returns the attribute IDs present in the set, in no particular order.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the attribute with the given ID and whether it is present.
func (s Set) Get(id string) (Attribute, bool) {
	a, ok := s[id]
	return a, ok
}
