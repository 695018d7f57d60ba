package sdk

import (
	"errors"
	"fmt"
)

// Sentinel errors for common SDK error conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrInvalidConfig indicates the provided configuration is invalid or
	// incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotActivated indicates the service has no usable resolver,
	// typically because activation failed.
	ErrNotActivated = errors.New("resolver not activated")

	// ErrResolutionFailed indicates a resolution request could not run at
	// all: a connector with no failover could not reach its backing
	// system. Ordinary plugin failures do not produce this; they downgrade
	// to absent attributes.
	ErrResolutionFailed = errors.New("resolution failed")
)

// Error kinds categorize errors by their type.
const (
	// KindConfiguration represents errors detected at activation:
	// unknown dependency IDs, dependency cycles, missing or undersized
	// salts.
	KindConfiguration = "configuration"

	// KindResolution represents per-request resolution failures.
	KindResolution = "resolution"

	// KindStorage represents identifier store failures.
	KindStorage = "storage"
)

// Error is a structured SDK error with a kind and an optional wrapped
// cause.
type Error struct {
	// Kind is one of the Kind* constants.
	Kind string

	// Message is the human-readable description.
	Message string

	// Err is the wrapped underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a structured error.
func NewError(kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}
