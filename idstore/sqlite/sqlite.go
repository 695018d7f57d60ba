// Package sqlite provides the SQLite-backed identifier store.
//
// A partial unique index over (idp_id, rp_id, fingerprint) WHERE
// deactivated_at IS NULL makes record creation atomic: under concurrent
// inserts for the same triple exactly one succeeds and the rest surface
// idstore.ErrDuplicateActive.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/attrgraph/sdk/idstore"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed idstore.Store.
// It uses WAL mode for concurrent reads during writes.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and applies
// the schema. It is safe to call repeatedly against the same file.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under write contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetActive implements idstore.Store.
func (s *Store) GetActive(ctx context.Context, idpID, rpID, fingerprint string) (*idstore.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, idp_id, rp_id, value, fingerprint, created_at, deactivated_at
		FROM identifier_records
		WHERE idp_id = ? AND rp_id = ? AND fingerprint = ? AND deactivated_at IS NULL
	`, idpID, rpID, fingerprint)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, idstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get active: %v", idstore.ErrStorageFailed, err)
	}
	return rec, nil
}

// Create implements idstore.Store. The partial unique index turns a lost
// create race into idstore.ErrDuplicateActive.
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identifier_records
		(id, idp_id, rp_id, value, fingerprint, created_at, deactivated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
	`, rec.ID, rec.IdPID, rec.RPID, rec.Value, rec.Fingerprint, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, idstore.ErrDuplicateActive
		}
		return nil, fmt.Errorf("%w: create: %v", idstore.ErrStorageFailed, err)
	}
	return &rec, nil
}

// Deactivate implements idstore.Store.
func (s *Store) Deactivate(ctx context.Context, idpID, rpID, value string, asOf time.Time) error {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE identifier_records
		SET deactivated_at = ?
		WHERE idp_id = ? AND rp_id = ? AND value = ? AND deactivated_at IS NULL
	`, asOf.Format(time.RFC3339Nano), idpID, rpID, value)
	if err != nil {
		return fmt.Errorf("%w: deactivate: %v", idstore.ErrStorageFailed, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: deactivate: %v", idstore.ErrStorageFailed, err)
	}
	if n == 0 {
		return idstore.ErrNotFound
	}
	return nil
}

// History implements idstore.Store.
func (s *Store) History(ctx context.Context, idpID, rpID, fingerprint string) ([]idstore.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, idp_id, rp_id, value, fingerprint, created_at, deactivated_at
		FROM identifier_records
		WHERE idp_id = ? AND rp_id = ? AND fingerprint = ?
		ORDER BY created_at ASC, id ASC
	`, idpID, rpID, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("%w: history: %v", idstore.ErrStorageFailed, err)
	}
	defer rows.Close()

	var out []idstore.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: history: %v", idstore.ErrStorageFailed, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: history: %v", idstore.ErrStorageFailed, err)
	}
	if out == nil {
		out = []idstore.Record{}
	}
	return out, nil
}

// Ping implements idstore.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", idstore.ErrStorageFailed, err)
	}
	return nil
}

// Close implements idstore.Store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*idstore.Record, error) {
	var rec idstore.Record
	var createdAt string
	var deactivatedAt sql.NullString

	if err := row.Scan(&rec.ID, &rec.IdPID, &rec.RPID, &rec.Value, &rec.Fingerprint, &createdAt, &deactivatedAt); err != nil {
		return nil, err
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = created

	if deactivatedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, deactivatedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse deactivated_at: %w", err)
		}
		rec.DeactivatedAt = &t
	}
	return &rec, nil
}
