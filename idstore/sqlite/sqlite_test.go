package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attrgraph/sdk/idstore"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "identifiers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord() idstore.Record {
	return idstore.Record{
		IdPID:       "https://idp.example.org",
		RPID:        "https://sp.example.org",
		Value:       "identifier-1",
		Fingerprint: "abc123",
	}
}

func TestOpen_Reopenable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identifiers.db")

	store, err := Open(path)
	require.NoError(t, err)
	_, err = store.Create(context.Background(), testRecord())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening applies the schema idempotently and keeps the data.
	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetActive(context.Background(), "https://idp.example.org", "https://sp.example.org", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "identifier-1", got.Value)
}

func TestStore_CreateAndGetActive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testRecord())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := store.GetActive(ctx, "https://idp.example.org", "https://sp.example.org", "abc123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "identifier-1", got.Value)
	assert.True(t, got.Active())
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestStore_GetActiveUnknownTriple(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetActive(context.Background(), "https://idp.example.org", "https://nobody.example.org", "abc123")
	require.ErrorIs(t, err, idstore.ErrNotFound)
}

func TestStore_SecondActiveCreateRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, testRecord())
	require.NoError(t, err)

	dup := testRecord()
	dup.Value = "identifier-2"
	_, err = store.Create(ctx, dup)
	require.ErrorIs(t, err, idstore.ErrDuplicateActive,
		"the partial unique index must reject a second active record")
}

func TestStore_DistinctPrincipalsSharePair(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, testRecord())
	require.NoError(t, err)

	other := testRecord()
	other.Value = "identifier-2"
	other.Fingerprint = "def456"
	_, err = store.Create(ctx, other)
	require.NoError(t, err, "the unique index is per triple, not per pair")

	got, err := store.GetActive(ctx, "https://idp.example.org", "https://sp.example.org", "def456")
	require.NoError(t, err)
	assert.Equal(t, "identifier-2", got.Value)

	got, err = store.GetActive(ctx, "https://idp.example.org", "https://sp.example.org", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "identifier-1", got.Value)
}

func TestStore_CreateRejectsInvalidRecord(t *testing.T) {
	store := setupTestStore(t)
	rec := testRecord()
	rec.IdPID = ""
	_, err := store.Create(context.Background(), rec)
	require.ErrorIs(t, err, idstore.ErrInvalidRecord)
}

func TestStore_DeactivateThenRecreate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, testRecord())
	require.NoError(t, err)

	require.NoError(t, store.Deactivate(ctx, "https://idp.example.org", "https://sp.example.org", "identifier-1", time.Time{}))

	_, err = store.GetActive(ctx, "https://idp.example.org", "https://sp.example.org", "abc123")
	require.ErrorIs(t, err, idstore.ErrNotFound)

	next := testRecord()
	next.Value = "identifier-2"
	_, err = store.Create(ctx, next)
	require.NoError(t, err, "deactivation frees the unique index slot")

	got, err := store.GetActive(ctx, "https://idp.example.org", "https://sp.example.org", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "identifier-2", got.Value)
}

func TestStore_DeactivateChecksValue(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, testRecord())
	require.NoError(t, err)

	err = store.Deactivate(ctx, "https://idp.example.org", "https://sp.example.org", "wrong-value", time.Time{})
	require.ErrorIs(t, err, idstore.ErrNotFound)
}

func TestStore_HistoryOrderedOldestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := testRecord()
	first.CreatedAt = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.Create(ctx, first)
	require.NoError(t, err)
	require.NoError(t, store.Deactivate(ctx, first.IdPID, first.RPID, first.Value, time.Time{}))

	second := testRecord()
	second.Value = "identifier-2"
	second.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = store.Create(ctx, second)
	require.NoError(t, err)

	history, err := store.History(ctx, first.IdPID, first.RPID, first.Fingerprint)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "identifier-1", history[0].Value)
	assert.False(t, history[0].Active())
	assert.Equal(t, "identifier-2", history[1].Value)
	assert.True(t, history[1].Active())
}

func TestStore_HistoryUnknownTripleIsEmpty(t *testing.T) {
	store := setupTestStore(t)
	history, err := store.History(context.Background(), "https://idp.example.org", "https://nobody.example.org", "abc123")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStore_Ping(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Ping(context.Background()))
}
