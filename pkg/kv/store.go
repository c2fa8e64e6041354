package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or field is not found
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable is returned when the backend storage is unavailable
var ErrBackendUnavailable = errors.New("backend unavailable")

// Store is the durable keyed storage the exchange maps are persisted in.
// Every record map is a hash keyed by its integer id; id allocation uses IncrBy.
type Store interface {
	// String operations
	Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)

	// Key operations
	Del(ctx context.Context, keys ...string) (int64, error)

	// Counter operations
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	// Hash operations
	HSet(ctx context.Context, key string, field string, value []byte) error
	// HSetNX sets field only if it does not exist and reports whether it was set.
	HSetNX(ctx context.Context, key string, field string, value []byte) (bool, error)
	// HMSet writes all fields in one atomic step.
	HMSet(ctx context.Context, key string, fields map[string][]byte) error
	HGet(ctx context.Context, key string, field string) ([]byte, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HLen(ctx context.Context, key string) (int64, error)

	// List operations
	RPush(ctx context.Context, key string, values ...[]byte) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Cleanup
	Close() error
}
