package idstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() Record {
	return Record{
		IdPID:       "https://idp.example.org",
		RPID:        "https://sp.example.org",
		Value:       "identifier-1",
		Fingerprint: "abc123",
	}
}

func TestMemoryStore_CreateAndGetActive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, testRecord())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID, "store assigns the record ID")
	assert.False(t, created.CreatedAt.IsZero())
	assert.True(t, created.Active())

	got, err := store.GetActive(ctx, "https://idp.example.org", "https://sp.example.org", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "identifier-1", got.Value)
	assert.Equal(t, created.ID, got.ID)
}

func TestMemoryStore_GetActiveUnknownTriple(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetActive(context.Background(), "https://idp.example.org", "https://nobody.example.org", "abc123")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CreateRejectsInvalidRecord(t *testing.T) {
	store := NewMemoryStore()
	rec := testRecord()
	rec.Value = ""
	_, err := store.Create(context.Background(), rec)
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestMemoryStore_SecondActiveCreateRejected(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, testRecord())
	require.NoError(t, err)

	dup := testRecord()
	dup.Value = "identifier-2"
	_, err = store.Create(ctx, dup)
	require.ErrorIs(t, err, ErrDuplicateActive)

	// A different pair is unaffected.
	other := testRecord()
	other.RPID = "https://other.example.org"
	_, err = store.Create(ctx, other)
	require.NoError(t, err)
}

func TestMemoryStore_DistinctPrincipalsSharePair(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Create(ctx, testRecord())
	require.NoError(t, err)

	second := testRecord()
	second.Value = "identifier-2"
	second.Fingerprint = "def456"
	_, err = store.Create(ctx, second)
	require.NoError(t, err, "uniqueness is per triple, not per pair")

	got, err := store.GetActive(ctx, "https://idp.example.org", "https://sp.example.org", "abc123")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, err = store.GetActive(ctx, "https://idp.example.org", "https://sp.example.org", "def456")
	require.NoError(t, err)
	assert.Equal(t, "identifier-2", got.Value)
}

func TestMemoryStore_DeactivateThenRecreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, testRecord())
	require.NoError(t, err)

	asOf := time.Now().UTC()
	require.NoError(t, store.Deactivate(ctx, "https://idp.example.org", "https://sp.example.org", "identifier-1", asOf))

	_, err = store.GetActive(ctx, "https://idp.example.org", "https://sp.example.org", "abc123")
	require.ErrorIs(t, err, ErrNotFound)

	next := testRecord()
	next.Value = "identifier-2"
	_, err = store.Create(ctx, next)
	require.NoError(t, err)

	got, err := store.GetActive(ctx, "https://idp.example.org", "https://sp.example.org", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "identifier-2", got.Value)
}

func TestMemoryStore_DeactivateChecksValue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, testRecord())
	require.NoError(t, err)

	err = store.Deactivate(ctx, "https://idp.example.org", "https://sp.example.org", "wrong-value", time.Time{})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetActive(ctx, "https://idp.example.org", "https://sp.example.org", "abc123")
	require.NoError(t, err, "mismatched value must not deactivate the record")
}

func TestMemoryStore_HistoryKeepsDeactivatedRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, testRecord())
	require.NoError(t, err)
	require.NoError(t, store.Deactivate(ctx, "https://idp.example.org", "https://sp.example.org", "identifier-1", time.Time{}))

	next := testRecord()
	next.Value = "identifier-2"
	_, err = store.Create(ctx, next)
	require.NoError(t, err)

	history, err := store.History(ctx, "https://idp.example.org", "https://sp.example.org", "abc123")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "identifier-1", history[0].Value)
	assert.False(t, history[0].Active())
	assert.Equal(t, "identifier-2", history[1].Value)
	assert.True(t, history[1].Active())
}

func TestMemoryStore_ConcurrentCreatesOneWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const writers = 16
	var wins, duplicates atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Create(ctx, testRecord())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrDuplicateActive):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load(), "exactly one concurrent create wins")
	assert.Equal(t, int64(writers-1), duplicates.Load())
}
