package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/attrgraph/sdk/idstore"
)

type failingStore struct {
	*idstore.MemoryStore
}

func (f *failingStore) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func TestStoreCheck_NilStore(t *testing.T) {
	status := StoreCheck(context.Background(), nil, 0)
	assert.True(t, status.IsUnhealthy())
}

func TestStoreCheck_Reachable(t *testing.T) {
	status := StoreCheck(context.Background(), idstore.NewMemoryStore(), time.Second)
	assert.True(t, status.IsHealthy())
	assert.Contains(t, status.Details, "latency_ms")
}

func TestStoreCheck_Unreachable(t *testing.T) {
	store := &failingStore{MemoryStore: idstore.NewMemoryStore()}
	status := StoreCheck(context.Background(), store, time.Second)
	assert.True(t, status.IsUnhealthy())
	assert.Contains(t, status.Details["error"], "connection refused")
}

func TestStatus_Predicates(t *testing.T) {
	assert.True(t, Healthy("ok").IsHealthy())
	assert.False(t, Healthy("ok").IsUnhealthy())
	assert.True(t, Unhealthy("down", nil).IsUnhealthy())
	assert.False(t, Status{State: StatusDegraded}.IsHealthy())
	assert.False(t, Status{State: StatusDegraded}.IsUnhealthy())
}
