package redis

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/kongswap/kong-backend/pkg/kv"
	"github.com/kongswap/kong-backend/pkg/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping Redis tests")
	}

	factory := func(t *testing.T) kv.Store {
		store, err := New(redisURL)
		require.NoError(t, err)
		require.NoError(t, store.client.FlushDB(context.Background()).Err())
		t.Cleanup(func() { store.Close() })
		return store
	}

	kvtest.RunConformanceTests(t, factory)
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, IsConnectionError(nil))
	assert.False(t, IsConnectionError(context.Canceled))
	assert.True(t, IsConnectionError(errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")))
	assert.False(t, IsConnectionError(errors.New("WRONGTYPE Operation against a key")))
}

func TestWrapErrors(t *testing.T) {
	assert.ErrorIs(t, wrap(errors.New("dial tcp: i/o timeout")), kv.ErrBackendUnavailable)
	assert.NoError(t, wrap(nil))
}
