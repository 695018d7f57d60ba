// Package etcdstore provides the etcd-backed identifier store for
// multi-node deployments.
//
// The active record for an (idp, rp, fingerprint) triple lives under a
// single key installed through an etcd transaction that requires the key's
// create revision to be zero. Under concurrent creates for the same triple
// exactly one transaction commits and the rest surface
// idstore.ErrDuplicateActive. Deactivated records move under a per-triple
// history prefix and are never deleted.
package etcdstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/attrgraph/sdk/idstore"
)

// Config configures the etcd connection.
type Config struct {
	// Endpoints lists etcd cluster endpoints, e.g. ["localhost:2379"].
	Endpoints []string

	// Namespace prefixes all keys written by this store.
	// Defaults to "attrgraph".
	Namespace string

	// DialTimeout bounds connection establishment. Defaults to 5s.
	DialTimeout time.Duration

	// TLS enables transport security when non-nil.
	TLS *tls.Config
}

// Store is an etcd-backed idstore.Store.
type Store struct {
	client    *clientv3.Client
	namespace string
}

// New creates an etcd identifier store and verifies connectivity.
func New(cfg Config) (*Store, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints cannot be empty")
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "attrgraph"
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		TLS:         cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, err := cli.Get(ctx, namespace+"/health-check"); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return &Store{client: cli, namespace: namespace}, nil
}

// NewFromClient wraps an existing etcd client.
func NewFromClient(cli *clientv3.Client, namespace string) *Store {
	if namespace == "" {
		namespace = "attrgraph"
	}
	return &Store{client: cli, namespace: namespace}
}

func (s *Store) activeKey(idpID, rpID, fingerprint string) string {
	return fmt.Sprintf("%s/id/%s/%s/%s/active", s.namespace, idpID, rpID, fingerprint)
}

func (s *Store) historyPrefix(idpID, rpID, fingerprint string) string {
	return fmt.Sprintf("%s/id/%s/%s/%s/history/", s.namespace, idpID, rpID, fingerprint)
}

func (s *Store) pairPrefix(idpID, rpID string) string {
	return fmt.Sprintf("%s/id/%s/%s/", s.namespace, idpID, rpID)
}

// GetActive implements idstore.Store.
func (s *Store) GetActive(ctx context.Context, idpID, rpID, fingerprint string) (*idstore.Record, error) {
	resp, err := s.client.Get(ctx, s.activeKey(idpID, rpID, fingerprint))
	if err != nil {
		return nil, fmt.Errorf("%w: get active: %v", idstore.ErrStorageFailed, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, idstore.ErrNotFound
	}

	var rec idstore.Record
	if err := json.Unmarshal(resp.Kvs[0].Value, &rec); err != nil {
		return nil, fmt.Errorf("%w: unmarshal record: %v", idstore.ErrStorageFailed, err)
	}
	return &rec, nil
}

// Create implements idstore.Store. The transaction commits only when the
// active key does not exist yet.
func (s *Store) Create(ctx context.Context, rec idstore.Record) (*idstore.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.DeactivatedAt = nil

	data, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal record: %v", idstore.ErrStorageFailed, err)
	}

	key := s.activeKey(rec.IdPID, rec.RPID, rec.Fingerprint)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return nil, fmt.Errorf("%w: create: %v", idstore.ErrStorageFailed, err)
	}
	if !resp.Succeeded {
		return nil, idstore.ErrDuplicateActive
	}
	return &rec, nil
}

// Deactivate implements idstore.Store. The record is addressed by released
// value, so the pair's active keys are ranged to find the matching
// record. The transaction then requires the active key to be unchanged
// since the read, so a concurrent create or deactivate cannot interleave.
func (s *Store) Deactivate(ctx context.Context, idpID, rpID, value string, asOf time.Time) error {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	resp, err := s.client.Get(ctx, s.pairPrefix(idpID, rpID), clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("%w: deactivate: %v", idstore.ErrStorageFailed, err)
	}

	var kv *mvccpb.KeyValue
	var rec idstore.Record
	for _, candidate := range resp.Kvs {
		if !strings.HasSuffix(string(candidate.Key), "/active") {
			continue
		}
		var r idstore.Record
		if err := json.Unmarshal(candidate.Value, &r); err != nil {
			return fmt.Errorf("%w: unmarshal record: %v", idstore.ErrStorageFailed, err)
		}
		if r.Value == value {
			kv = candidate
			rec = r
			break
		}
	}
	if kv == nil {
		return idstore.ErrNotFound
	}

	t := asOf
	rec.DeactivatedAt = &t
	updated, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("%w: marshal record: %v", idstore.ErrStorageFailed, err)
	}

	key := string(kv.Key)
	historyKey := s.historyPrefix(idpID, rpID, rec.Fingerprint) + rec.ID
	txnResp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
		Then(clientv3.OpPut(historyKey, string(updated)), clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return fmt.Errorf("%w: deactivate: %v", idstore.ErrStorageFailed, err)
	}
	if !txnResp.Succeeded {
		// Lost a race with a concurrent create or deactivate; the caller
		// sees the record as already rotated.
		return idstore.ErrNotFound
	}
	return nil
}

// History implements idstore.Store.
func (s *Store) History(ctx context.Context, idpID, rpID, fingerprint string) ([]idstore.Record, error) {
	resp, err := s.client.Get(ctx, s.historyPrefix(idpID, rpID, fingerprint), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: history: %v", idstore.ErrStorageFailed, err)
	}

	out := make([]idstore.Record, 0, len(resp.Kvs)+1)
	for _, kv := range resp.Kvs {
		var rec idstore.Record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return nil, fmt.Errorf("%w: unmarshal history record: %v", idstore.ErrStorageFailed, err)
		}
		out = append(out, rec)
	}

	active, err := s.GetActive(ctx, idpID, rpID, fingerprint)
	if err == nil {
		out = append(out, *active)
	} else if !errors.Is(err, idstore.ErrNotFound) {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Ping implements idstore.Store.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.Get(ctx, s.namespace+"/health-check"); err != nil {
		return fmt.Errorf("%w: ping: %v", idstore.ErrStorageFailed, err)
	}
	return nil
}

// Close implements idstore.Store.
func (s *Store) Close() error {
	return s.client.Close()
}
