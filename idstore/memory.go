package idstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store for tests and single-node
// deployments that do not need durability. All operations are guarded by
// one mutex, which trivially satisfies the atomicity contract.
type MemoryStore struct {
	mu      sync.Mutex
	records map[tripleKey][]*Record
}

type tripleKey struct {
	idpID       string
	rpID        string
	fingerprint string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[tripleKey][]*Record)}
}

// GetActive implements Store.
func (s *MemoryStore) GetActive(ctx context.Context, idpID, rpID, fingerprint string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records[tripleKey{idpID, rpID, fingerprint}] {
		if rec.Active() {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, rec Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tripleKey{rec.IdPID, rec.RPID, rec.Fingerprint}
	for _, existing := range s.records[key] {
		if existing.Active() {
			return nil, ErrDuplicateActive
		}
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.DeactivatedAt = nil

	stored := rec
	s.records[key] = append(s.records[key], &stored)
	cp := stored
	return &cp, nil
}

// Deactivate implements Store. The record is found by released value, so
// the scan covers every fingerprint under the pair.
func (s *MemoryStore) Deactivate(ctx context.Context, idpID, rpID, value string, asOf time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	for key, recs := range s.records {
		if key.idpID != idpID || key.rpID != rpID {
			continue
		}
		for _, rec := range recs {
			if rec.Active() && rec.Value == value {
				t := asOf
				rec.DeactivatedAt = &t
				return nil
			}
		}
	}
	return ErrNotFound
}

// History implements Store.
func (s *MemoryStore) History(ctx context.Context, idpID, rpID, fingerprint string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[tripleKey{idpID, rpID, fingerprint}]
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *rec)
	}
	return out, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
