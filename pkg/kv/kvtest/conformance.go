// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kongswap/kong-backend/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"SetGet", testSetGet},
		{"GetNonExistent", testGetNonExistent},
		{"SetNX", testSetNX},
		{"TTLExpiry", testTTLExpiry},
		{"Del", testDel},
		{"IncrBy", testIncrBy},
		{"IncrByConcurrent", testIncrByConcurrent},
		{"Hash", testHash},
		{"HSetNX", testHSetNX},
		{"HSetNXConcurrent", testHSetNXConcurrent},
		{"HMSet", testHMSet},
		{"List", testList},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	if err := store.Set(ctx, "test:key", []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := store.Get(ctx, "test:key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}

func testGetNonExistent(t *testing.T, store kv.Store) {
	ctx := context.Background()
	if _, err := store.Get(ctx, "test:missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.HGet(ctx, "test:missing", "f"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for hash field, got %v", err)
	}
}

func testSetNX(t *testing.T, store kv.Store) {
	ctx := context.Background()
	ok, err := store.SetNX(ctx, "test:lease", []byte("a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX should succeed: ok=%v err=%v", ok, err)
	}
	ok, err = store.SetNX(ctx, "test:lease", []byte("b"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX should fail: ok=%v err=%v", ok, err)
	}
	got, _ := store.Get(ctx, "test:lease")
	if string(got) != "a" {
		t.Fatalf("SetNX overwrote value: %q", got)
	}
}

func testTTLExpiry(t *testing.T, store kv.Store) {
	ctx := context.Background()
	if err := store.Set(ctx, "test:ttl", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	if _, err := store.Get(ctx, "test:ttl"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected expired key, got %v", err)
	}
	ok, err := store.SetNX(ctx, "test:ttl", []byte("again"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("SetNX after expiry should succeed: ok=%v err=%v", ok, err)
	}
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	_ = store.Set(ctx, "test:a", []byte("1"))
	_ = store.HSet(ctx, "test:h", "f", []byte("1"))
	n, err := store.Del(ctx, "test:a", "test:h", "test:none")
	if err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}
}

func testIncrBy(t *testing.T, store kv.Store) {
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrBy(ctx, "test:seq", 1)
		if err != nil {
			t.Fatalf("IncrBy failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	got, _ := store.IncrBy(ctx, "test:seq", 10)
	if got != 13 {
		t.Fatalf("expected 13, got %d", got)
	}
}

func testIncrByConcurrent(t *testing.T, store kv.Store) {
	ctx := context.Background()
	const workers = 20
	seen := make(map[int64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.IncrBy(ctx, "test:concurrent", 1)
			if err != nil {
				t.Errorf("IncrBy failed: %v", err)
				return
			}
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != workers {
		t.Fatalf("expected %d distinct ids, got %d", workers, len(seen))
	}
}

func testHash(t *testing.T, store kv.Store) {
	ctx := context.Background()
	_ = store.HSet(ctx, "test:h", "1", []byte("one"))
	_ = store.HSet(ctx, "test:h", "2", []byte("two"))

	got, err := store.HGet(ctx, "test:h", "2")
	if err != nil || string(got) != "two" {
		t.Fatalf("HGet: got %q err %v", got, err)
	}
	n, _ := store.HLen(ctx, "test:h")
	if n != 2 {
		t.Fatalf("HLen: expected 2, got %d", n)
	}
	all, err := store.HGetAll(ctx, "test:h")
	if err != nil || len(all) != 2 || string(all["1"]) != "one" {
		t.Fatalf("HGetAll: got %v err %v", all, err)
	}
	deleted, _ := store.HDel(ctx, "test:h", "1", "missing")
	if deleted != 1 {
		t.Fatalf("HDel: expected 1, got %d", deleted)
	}
	empty, err := store.HGetAll(ctx, "test:none")
	if err != nil || len(empty) != 0 {
		t.Fatalf("HGetAll on missing key should be empty: %v %v", empty, err)
	}
}

func testHSetNX(t *testing.T, store kv.Store) {
	ctx := context.Background()
	ok, err := store.HSetNX(ctx, "test:idx", "1:42", []byte("7"))
	if err != nil || !ok {
		t.Fatalf("first HSetNX should succeed: ok=%v err=%v", ok, err)
	}
	ok, err = store.HSetNX(ctx, "test:idx", "1:42", []byte("8"))
	if err != nil || ok {
		t.Fatalf("second HSetNX should fail: ok=%v err=%v", ok, err)
	}
	got, _ := store.HGet(ctx, "test:idx", "1:42")
	if string(got) != "7" {
		t.Fatalf("HSetNX overwrote field: %q", got)
	}
}

func testHSetNXConcurrent(t *testing.T, store kv.Store) {
	ctx := context.Background()
	const workers = 16
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.HSetNX(ctx, "test:race", "same", []byte(fmt.Sprint(i)))
			if err != nil {
				t.Errorf("HSetNX failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func testHMSet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	err := store.HMSet(ctx, "test:pools", map[string][]byte{
		"1": []byte("a"),
		"2": []byte("b"),
	})
	if err != nil {
		t.Fatalf("HMSet failed: %v", err)
	}
	all, _ := store.HGetAll(ctx, "test:pools")
	if len(all) != 2 || string(all["2"]) != "b" {
		t.Fatalf("HMSet result: %v", all)
	}
}

func testList(t *testing.T, store kv.Store) {
	ctx := context.Background()
	n, err := store.RPush(ctx, "test:list", []byte("a"), []byte("b"), []byte("c"))
	if err != nil || n != 3 {
		t.Fatalf("RPush: n=%d err=%v", n, err)
	}
	all, err := store.LRange(ctx, "test:list", 0, -1)
	if err != nil || len(all) != 3 || string(all[0]) != "a" || string(all[2]) != "c" {
		t.Fatalf("LRange all: %q err %v", all, err)
	}
	tail, _ := store.LRange(ctx, "test:list", -2, -1)
	if len(tail) != 2 || string(tail[0]) != "b" {
		t.Fatalf("LRange tail: %q", tail)
	}
	none, _ := store.LRange(ctx, "test:missing", 0, -1)
	if len(none) != 0 {
		t.Fatalf("LRange on missing list: %q", none)
	}
}

func testPing(t *testing.T, store kv.Store) {
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
