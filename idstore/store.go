package idstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors returned by store operations.
var (
	// ErrNotFound is returned when no matching record exists.
	ErrNotFound = errors.New("idstore: record not found")

	// ErrDuplicateActive is returned when a create would install a second
	// active record for the same (idpID, rpID, fingerprint) triple.
	// Callers typically
	// re-read and adopt the record that won the race.
	ErrDuplicateActive = errors.New("idstore: active record already exists")

	// ErrInvalidRecord is returned when a record is missing required
	// fields (triple keys or identifier value).
	ErrInvalidRecord = errors.New("idstore: invalid record")

	// ErrStorageFailed is returned when the underlying backend fails.
	ErrStorageFailed = errors.New("idstore: storage operation failed")
)

// Record is one persisted pairwise identifier.
//
// The (IdPID, RPID, Fingerprint) triple is the logical identity: the
// fingerprint is a one-way digest of the principal's source value, so each
// principal gets their own record per relying party. Value is the
// identifier released for that triple while the record is active. The
// fingerprint is a lookup key only, never released.
type Record struct {
	// ID is the record's own identifier, assigned at creation.
	ID string `json:"id"`

	// IdPID identifies the issuing identity provider.
	IdPID string `json:"idp_id"`

	// RPID identifies the relying party.
	RPID string `json:"rp_id"`

	// Value is the pairwise identifier itself.
	Value string `json:"value"`

	// Fingerprint is the digest of the source attribute value the
	// identifier was derived from.
	Fingerprint string `json:"fingerprint"`

	// CreatedAt is when the record was installed.
	CreatedAt time.Time `json:"created_at"`

	// DeactivatedAt is set when the record is rotated out. A nil
	// DeactivatedAt means the record is active.
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// Active reports whether the record is the triple's current identifier.
func (r *Record) Active() bool { return r.DeactivatedAt == nil }

// String returns a human-readable rendering for logs and tests.
func (r *Record) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// Validate checks the record carries everything a backend needs to persist
// it.
func (r *Record) Validate() error {
	if r.IdPID == "" || r.RPID == "" || r.Fingerprint == "" || r.Value == "" {
		return ErrInvalidRecord
	}
	return nil
}

// Store is the contract every identifier-store backend implements.
//
// Implementations must make Create atomic with respect to the "at most one
// active record per (idpID, rpID, fingerprint) triple" invariant: under
// concurrent creates for the same triple exactly one succeeds and the rest
// receive ErrDuplicateActive. Reads need no synchronization guarantees
// beyond the backend's own.
type Store interface {
	// GetActive returns the active record for the triple, or ErrNotFound.
	GetActive(ctx context.Context, idpID, rpID, fingerprint string) (*Record, error)

	// Create installs rec as the active record for its triple. It returns
	// the stored record (with ID and CreatedAt filled in) or
	// ErrDuplicateActive when an active record already exists.
	Create(ctx context.Context, rec Record) (*Record, error)

	// Deactivate marks the active record whose identifier equals value
	// inactive as of asOf. The record is addressed by (idpID, rpID,
	// value): callers rotating an identifier know the released value, not
	// the source fingerprint behind it. It returns ErrNotFound when no
	// matching active record exists. Once deactivated, the triple's next
	// Create installs a fresh, unrelated identifier.
	Deactivate(ctx context.Context, idpID, rpID, value string, asOf time.Time) error

	// History returns all records for the triple, oldest first, including
	// deactivated ones. It returns an empty slice when the triple is
	// unknown.
	History(ctx context.Context, idpID, rpID, fingerprint string) ([]Record, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
