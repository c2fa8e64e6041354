// Package kv provides the keyed storage abstraction behind the exchange's
// durable maps, with in-memory and Redis-backed implementations.
//
// The Store interface is a narrow Redis-like surface: strings with optional
// TTL, counters for id allocation, hashes for id-keyed record tables, and lists
// for append-only indexes. HSetNX and SetNX give atomic insert-if-absent, which
// the ledger relies on for transfer uniqueness and the claims job for its lease.
//
// Example usage:
//
//	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	id, _ := store.IncrBy(ctx, "kong:requests:seq", 1)
//	_ = store.HSet(ctx, "kong:requests", strconv.FormatInt(id, 10), payload)
//
// Backends register themselves from their package init; import
// pkg/kv/memory and/or pkg/kv/redis for side effects before calling
// NewStoreFromConfig.
package kv
