// Package registry owns the token and pool maps. Pool reserves are only ever
// changed inside Update, which holds the registry write lock for the whole
// read-compute-write step and never calls out to external services.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kongswap/kong-backend/pkg/kv"
	"go.uber.org/zap"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExists   = errors.New("token already exists")
	ErrPoolNotFound  = errors.New("pool not found")
	ErrPoolExists    = errors.New("pool already exists")
	ErrPoolNotEmpty  = errors.New("pool has outstanding LP supply")
	ErrInvalidToken  = errors.New("invalid token")
)

const (
	keyTokens    = "kong:tokens"
	keyTokensSeq = "kong:tokens:seq"
	keyPools     = "kong:pools"
	keyPoolsSeq  = "kong:pools:seq"
)

// View is a consistent read-only snapshot of tokens and pools.
type View interface {
	Token(id uint32) (Token, bool)
	// PoolBetween finds the active pool for a pair in either token order.
	PoolBetween(a, b uint32) (Pool, bool)
}

type pairKey struct{ a, b uint32 }

type Registry struct {
	mu     sync.RWMutex
	store  kv.Store
	logger *zap.SugaredLogger

	tokens map[uint32]Token
	pools  map[uint32]Pool
	pairs  map[pairKey]uint32
}

// New loads every persisted token and pool from store.
func New(ctx context.Context, store kv.Store, logger *zap.SugaredLogger) (*Registry, error) {
	r := &Registry{
		store:  store,
		logger: logger,
		tokens: make(map[uint32]Token),
		pools:  make(map[uint32]Pool),
		pairs:  make(map[pairKey]uint32),
	}

	rawTokens, err := store.HGetAll(ctx, keyTokens)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	for field, raw := range rawTokens {
		var t Token
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decode token %s: %w", field, err)
		}
		r.tokens[t.ID] = t
	}

	rawPools, err := store.HGetAll(ctx, keyPools)
	if err != nil {
		return nil, fmt.Errorf("load pools: %w", err)
	}
	for field, raw := range rawPools {
		var p Pool
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode pool %s: %w", field, err)
		}
		r.pools[p.ID] = p
		r.pairs[pairKey{p.Token0, p.Token1}] = p.ID
	}

	logger.Infow("Registry loaded", "tokens", len(r.tokens), "pools", len(r.pools))
	return r, nil
}

func idField(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Token implements View.
func (r *Registry) Token(id uint32) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[id]
	return t, ok
}

// ResolveToken accepts a symbol, a chain-qualified symbol or address
// ("IC.ckUSDT", "IC.ryjl3-tyaaa-aaaaa-aaaba-cai"), a bare address, or "#<id>".
func (r *Registry) ResolveToken(ref string) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveTokenLocked(ref)
}

func (r *Registry) resolveTokenLocked(ref string) (Token, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Token{}, fmt.Errorf("%w: empty token", ErrTokenNotFound)
	}

	if strings.HasPrefix(ref, "#") {
		id, err := strconv.ParseUint(ref[1:], 10, 32)
		if err == nil {
			if t, ok := r.tokens[uint32(id)]; ok && !t.IsRemoved {
				return t, nil
			}
		}
		return Token{}, fmt.Errorf("%w: %s", ErrTokenNotFound, ref)
	}

	chain, rest := "", ref
	if i := strings.Index(ref, "."); i > 0 {
		chain, rest = ref[:i], ref[i+1:]
	}

	var candidates []Token
	for _, t := range r.tokens {
		if t.IsRemoved {
			continue
		}
		if chain != "" && !strings.EqualFold(t.Chain, chain) {
			continue
		}
		if t.Symbol == rest || (t.Address != "" && t.Address == rest) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 && chain != "" {
		// symbols may themselves contain dots
		for _, t := range r.tokens {
			if !t.IsRemoved && t.Symbol == ref {
				candidates = append(candidates, t)
			}
		}
	}
	if len(candidates) == 0 {
		return Token{}, fmt.Errorf("%w: %s", ErrTokenNotFound, ref)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates[0], nil
}

// Tokens lists registered tokens ordered by id.
func (r *Registry) Tokens() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Pool(id uint32) (Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[id]
	return p, ok
}

// Pools lists pools ordered by id, including suspended ones.
func (r *Registry) Pools() []Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResolvePool is order-sensitive: it only finds the pool stored as (a, b).
func (r *Registry) ResolvePool(a, b uint32) (Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolvePoolLocked(a, b)
}

func (r *Registry) resolvePoolLocked(a, b uint32) (Pool, bool) {
	id, ok := r.pairs[pairKey{a, b}]
	if !ok {
		return Pool{}, false
	}
	p := r.pools[id]
	if p.IsRemoved {
		return Pool{}, false
	}
	return p, true
}

// PoolBetween implements View.
func (r *Registry) PoolBetween(a, b uint32) (Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.resolvePoolLocked(a, b); ok {
		return p, true
	}
	return r.resolvePoolLocked(b, a)
}

// Read runs fn against a snapshot that no writer can change while fn runs.
func (r *Registry) Read(fn func(View) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(lockedView{r})
}

type lockedView struct{ r *Registry }

func (v lockedView) Token(id uint32) (Token, bool) {
	t, ok := v.r.tokens[id]
	return t, ok
}

func (v lockedView) PoolBetween(a, b uint32) (Pool, bool) {
	if p, ok := v.r.resolvePoolLocked(a, b); ok {
		return p, true
	}
	return v.r.resolvePoolLocked(b, a)
}

// Tx is the mutable view handed to Update. Reads observe earlier mutations in
// the same Tx; nothing is visible to other callers until Update commits.
type Tx struct {
	r       *Registry
	changed map[uint32]Pool
}

func (tx *Tx) Token(id uint32) (Token, bool) {
	t, ok := tx.r.tokens[id]
	return t, ok
}

func (tx *Tx) pool(id uint32) (Pool, bool) {
	if p, ok := tx.changed[id]; ok {
		return p, true
	}
	p, ok := tx.r.pools[id]
	return p, ok
}

func (tx *Tx) PoolBetween(a, b uint32) (Pool, bool) {
	for _, k := range []pairKey{{a, b}, {b, a}} {
		if id, ok := tx.r.pairs[k]; ok {
			if p, ok := tx.pool(id); ok && !p.IsRemoved {
				return p, true
			}
		}
	}
	return Pool{}, false
}

// MutatePool applies d to the staged copy of pool id.
func (tx *Tx) MutatePool(id uint32, d PoolDelta) error {
	p, ok := tx.pool(id)
	if !ok || p.IsRemoved {
		return fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	next, err := p.apply(d)
	if err != nil {
		return err
	}
	tx.changed[id] = next
	return nil
}

// Update runs fn under the registry write lock. If fn succeeds, every pool it
// mutated is persisted in one HMSet and then published in memory. If fn or the
// write fails, nothing changes.
func (r *Registry) Update(ctx context.Context, fn func(tx *Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &Tx{r: r, changed: make(map[uint32]Pool)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.changed) == 0 {
		return nil
	}
	if err := r.persistPoolsLocked(ctx, tx.changed); err != nil {
		return err
	}
	for id, p := range tx.changed {
		r.pools[id] = p
	}
	return nil
}

func (r *Registry) persistPoolsLocked(ctx context.Context, pools map[uint32]Pool) error {
	fields := make(map[string][]byte, len(pools))
	for id, p := range pools {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode pool %d: %w", id, err)
		}
		fields[idField(id)] = raw
	}
	if err := r.store.HMSet(ctx, keyPools, fields); err != nil {
		return fmt.Errorf("persist pools: %w", err)
	}
	return nil
}

func (r *Registry) persistTokenLocked(ctx context.Context, t Token) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode token %d: %w", t.ID, err)
	}
	if err := r.store.HSet(ctx, keyTokens, idField(t.ID), raw); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}
