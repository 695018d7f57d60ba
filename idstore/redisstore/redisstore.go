// Package redisstore provides the Redis-backed identifier store.
//
// The active record for an (idp, rp, fingerprint) triple lives under a
// single key written with SETNX, which is what makes creation atomic: under
// concurrent creates for the same triple exactly one SETNX succeeds and the
// rest surface idstore.ErrDuplicateActive. Deactivated records are appended
// to a per-triple history list and never deleted.
package redisstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/attrgraph/sdk/idstore"
)

// Options configures the Redis connection.
type Options struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379").
	URL string

	// TLS configuration for secure connections.
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection
	// establishment. Defaults to 5s.
	ConnectTimeout time.Duration

	// KeyPrefix namespaces all keys written by this store.
	// Defaults to "attrgraph".
	KeyPrefix string
}

// Store is a Redis-backed idstore.Store.
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a Redis identifier store with the given options and verifies
// connectivity.
func New(opts Options) (*Store, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "attrgraph"
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	return &Store{client: client, prefix: opts.KeyPrefix}, nil
}

// NewFromClient wraps an existing Redis client. The caller keeps ownership
// of the client's lifecycle when using this constructor with Close left
// uncalled.
func NewFromClient(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "attrgraph"
	}
	return &Store{client: client, prefix: keyPrefix}
}

func (s *Store) activeKey(idpID, rpID, fingerprint string) string {
	return fmt.Sprintf("%s:id:%s:%s:%s:active", s.prefix, idpID, rpID, fingerprint)
}

func (s *Store) historyKey(idpID, rpID, fingerprint string) string {
	return fmt.Sprintf("%s:id:%s:%s:%s:history", s.prefix, idpID, rpID, fingerprint)
}

// GetActive implements idstore.Store.
func (s *Store) GetActive(ctx context.Context, idpID, rpID, fingerprint string) (*idstore.Record, error) {
	data, err := s.client.Get(ctx, s.activeKey(idpID, rpID, fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, idstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get active: %v", idstore.ErrStorageFailed, err)
	}

	var rec idstore.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("%w: unmarshal record: %v", idstore.ErrStorageFailed, err)
	}
	return &rec, nil
}

// Create implements idstore.Store. SETNX on the active key makes the
// create atomic.
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

	ok, err := s.client.SetNX(ctx, s.activeKey(rec.IdPID, rec.RPID, rec.Fingerprint), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: create: %v", idstore.ErrStorageFailed, err)
	}
	if !ok {
		return nil, idstore.ErrDuplicateActive
	}
	return &rec, nil
}

// Deactivate implements idstore.Store. The record is addressed by released
// value, so the pair's active keys are scanned to find the matching
// record; the key is then checked, moved onto the history list and
// deleted inside a WATCH transaction so a concurrent create cannot
// interleave.
func (s *Store) Deactivate(ctx context.Context, idpID, rpID, value string, asOf time.Time) error {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	key, err := s.findActiveKey(ctx, idpID, rpID, value)
	if err != nil {
		return err
	}

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return idstore.ErrNotFound
		}
		if err != nil {
			return err
		}

		var rec idstore.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return err
		}
		if rec.Value != value {
			return idstore.ErrNotFound
		}

		t := asOf
		rec.DeactivatedAt = &t
		updated, err := json.Marshal(&rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, s.historyKey(rec.IdPID, rec.RPID, rec.Fingerprint), updated)
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txn, key)
	if errors.Is(err, idstore.ErrNotFound) {
		return idstore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: deactivate: %v", idstore.ErrStorageFailed, err)
	}
	return nil
}

// findActiveKey scans the pair's active keys for the record holding value.
func (s *Store) findActiveKey(ctx context.Context, idpID, rpID, value string) (string, error) {
	pattern := fmt.Sprintf("%s:id:%s:%s:*:active", s.prefix, idpID, rpID)
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: deactivate: %v", idstore.ErrStorageFailed, err)
		}
		var rec idstore.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return "", fmt.Errorf("%w: unmarshal record: %v", idstore.ErrStorageFailed, err)
		}
		if rec.Value == value {
			return key, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("%w: deactivate: %v", idstore.ErrStorageFailed, err)
	}
	return "", idstore.ErrNotFound
}

// History implements idstore.Store. Deactivated records come from the
// history list; the active record, if any, is appended last.
func (s *Store) History(ctx context.Context, idpID, rpID, fingerprint string) ([]idstore.Record, error) {
	entries, err := s.client.LRange(ctx, s.historyKey(idpID, rpID, fingerprint), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: history: %v", idstore.ErrStorageFailed, err)
	}

	out := make([]idstore.Record, 0, len(entries)+1)
	for _, entry := range entries {
		var rec idstore.Record
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
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
	return out, nil
}

// Ping implements idstore.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", idstore.ErrStorageFailed, err)
	}
	return nil
}

// Close implements idstore.Store.
func (s *Store) Close() error {
	return s.client.Close()
}
