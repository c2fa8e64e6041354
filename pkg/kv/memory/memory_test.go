package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kongswap/kong-backend/pkg/kv"
	"github.com/kongswap/kong-backend/pkg/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	factory := func(t *testing.T) kv.Store {
		return New(0) // Disable janitor for deterministic tests
	}

	kvtest.RunConformanceTests(t, factory)
}

func TestMemoryStoreWithJanitor(t *testing.T) {
	store := New(10 * time.Millisecond)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "test:janitor", []byte("test"), 20*time.Millisecond))

	_, err := store.Get(ctx, "test:janitor")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	store.mu.RLock()
	_, present := store.strings["test:janitor"]
	store.mu.RUnlock()
	assert.False(t, present, "janitor should evict the expired key")
}

func TestReturnedValuesAreCopies(t *testing.T) {
	store := New(0)
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "h", "f", []byte("abc")))
	got, err := store.HGet(ctx, "h", "f")
	require.NoError(t, err)
	got[0] = 'z'

	again, err := store.HGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestRegisteredBackend(t *testing.T) {
	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*Store)
	assert.True(t, ok)
}
