package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kongswap/kong-backend/pkg/kv"
)

// Store is an in-memory implementation of the kv.Store interface
type Store struct {
	mu          sync.RWMutex
	strings     map[string][]byte
	hashes      map[string]map[string][]byte
	lists       map[string][][]byte
	expirations map[string]time.Time

	janitorInterval time.Duration
	janitorStop     chan struct{}
	janitorDone     chan struct{}
	closeOnce       sync.Once
}

var _ kv.Store = (*Store)(nil)

// New creates a new in-memory store. A positive janitorInterval starts a
// background goroutine evicting expired keys; expired keys are also hidden on read.
func New(janitorInterval time.Duration) *Store {
	s := &Store{
		strings:         make(map[string][]byte),
		hashes:          make(map[string]map[string][]byte),
		lists:           make(map[string][][]byte),
		expirations:     make(map[string]time.Time),
		janitorInterval: janitorInterval,
		janitorStop:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}

	if janitorInterval > 0 {
		go s.janitor()
	} else {
		close(s.janitorDone)
	}

	return s
}

func (s *Store) janitor() {
	defer close(s.janitorDone)
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, expiry := range s.expirations {
		if now.After(expiry) {
			s.deleteKeyUnsafe(key)
		}
	}
}

// expiredUnsafe reports whether key carries a TTL that has passed (must hold a lock)
func (s *Store) expiredUnsafe(key string) bool {
	if expiry, ok := s.expirations[key]; ok {
		return time.Now().After(expiry)
	}
	return false
}

// deleteKeyUnsafe removes a key from all data structures (must hold write lock)
func (s *Store) deleteKeyUnsafe(key string) {
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.lists, key)
	delete(s.expirations, key)
}

// purgeIfExpiredUnsafe drops an expired key so writers see a clean slate (must hold write lock)
func (s *Store) purgeIfExpiredUnsafe(key string) {
	if s.expiredUnsafe(key) {
		s.deleteKeyUnsafe(key)
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteKeyUnsafe(key)
	s.strings[key] = clone(value)
	if len(ttl) > 0 && ttl[0] > 0 {
		s.expirations[key] = time.Now().Add(ttl[0])
	}
	return nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpiredUnsafe(key)
	if _, exists := s.strings[key]; exists {
		return false, nil
	}
	s.strings[key] = clone(value)
	if ttl > 0 {
		s.expirations[key] = time.Now().Add(ttl)
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.expiredUnsafe(key) {
		return nil, kv.ErrNotFound
	}
	value, exists := s.strings[key]
	if !exists {
		return nil, kv.ErrNotFound
	}
	return clone(value), nil
}

// Key operations

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		expired := s.expiredUnsafe(key)
		_, str := s.strings[key]
		_, hash := s.hashes[key]
		_, list := s.lists[key]
		if (str || hash || list) && !expired {
			deleted++
		}
		s.deleteKeyUnsafe(key)
	}
	return deleted, nil
}

// Counter operations

func (s *Store) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpiredUnsafe(key)
	var current int64
	if raw, exists := s.strings[key]; exists {
		parsed, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, err
		}
		current = parsed
	}
	current += n
	s.strings[key] = []byte(strconv.FormatInt(current, 10))
	return current, nil
}

// Hash operations

func (s *Store) hashUnsafe(key string) map[string][]byte {
	s.purgeIfExpiredUnsafe(key)
	h, exists := s.hashes[key]
	if !exists {
		h = make(map[string][]byte)
		s.hashes[key] = h
	}
	return h
}

func (s *Store) HSet(ctx context.Context, key string, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hashUnsafe(key)[field] = clone(value)
	return nil
}

func (s *Store) HSetNX(ctx context.Context, key string, field string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.hashUnsafe(key)
	if _, exists := h[field]; exists {
		return false, nil
	}
	h[field] = clone(value)
	return true, nil
}

func (s *Store) HMSet(ctx context.Context, key string, fields map[string][]byte) error {
	if len(fields) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.hashUnsafe(key)
	for field, value := range fields {
		h[field] = clone(value)
	}
	return nil
}

func (s *Store) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.expiredUnsafe(key) {
		return nil, kv.ErrNotFound
	}
	value, exists := s.hashes[key][field]
	if !exists {
		return nil, kv.ErrNotFound
	}
	return clone(value), nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpiredUnsafe(key)
	h, exists := s.hashes[key]
	if !exists {
		return 0, nil
	}
	var deleted int64
	for _, field := range fields {
		if _, ok := h[field]; ok {
			delete(h, field)
			deleted++
		}
	}
	if len(h) == 0 {
		delete(s.hashes, key)
	}
	return deleted, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte)
	if s.expiredUnsafe(key) {
		return out, nil
	}
	for field, value := range s.hashes[key] {
		out[field] = clone(value)
	}
	return out, nil
}

func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.expiredUnsafe(key) {
		return 0, nil
	}
	return int64(len(s.hashes[key])), nil
}

// List operations

func (s *Store) RPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpiredUnsafe(key)
	list := s.lists[key]
	for _, v := range values {
		list = append(list, clone(v))
	}
	s.lists[key] = list
	return int64(len(list)), nil
}

// LRange follows Redis index semantics, including negative offsets from the tail.
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.expiredUnsafe(key) {
		return [][]byte{}, nil
	}
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return [][]byte{}, nil
	}

	out := make([][]byte, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, clone(list[i]))
	}
	return out, nil
}

// Health check

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close stops the janitor. The data stays readable until the Store is dropped.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.janitorStop)
		<-s.janitorDone
	})
	return nil
}
