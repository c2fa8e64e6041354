package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/kongswap/kong-backend/internal/natmath"
)

// AddToken registers a new token. Chain+symbol and chain+address must be unique.
func (r *Registry) AddToken(ctx context.Context, t Token) (Token, error) {
	t.Symbol = strings.TrimSpace(t.Symbol)
	t.Chain = strings.TrimSpace(t.Chain)
	if t.Symbol == "" || t.Chain == "" {
		return Token{}, fmt.Errorf("%w: symbol and chain are required", ErrInvalidToken)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.tokens {
		if !strings.EqualFold(existing.Chain, t.Chain) {
			continue
		}
		if existing.Symbol == t.Symbol || (t.Address != "" && existing.Address == t.Address) {
			return Token{}, fmt.Errorf("%w: %s", ErrTokenExists, t.ChainSymbol())
		}
	}

	id, err := r.store.IncrBy(ctx, keyTokensSeq, 1)
	if err != nil {
		return Token{}, fmt.Errorf("allocate token id: %w", err)
	}
	t.ID = uint32(id)
	t.IsRemoved = false
	if err := r.persistTokenLocked(ctx, t); err != nil {
		return Token{}, err
	}
	r.tokens[t.ID] = t

	r.logger.Infow("Token added", "tokenId", t.ID, "symbol", t.ChainSymbol(), "decimals", t.Decimals, "fee", t.Fee.String())
	return t, nil
}

// AddPool creates a pool for (token0, token1) seeded with the given reserves.
// The LP supply starts at floor(sqrt(balance0 * balance1)).
func (r *Registry) AddPool(ctx context.Context, token0, token1 uint32, balance0, balance1 natmath.Nat, lpFeeBps uint32) (Pool, error) {
	if token0 == token1 {
		return Pool{}, fmt.Errorf("%w: pool tokens must differ", ErrInvalidToken)
	}
	if lpFeeBps >= natmath.BasisPointDivisor {
		return Pool{}, fmt.Errorf("lp fee %d bps out of range", lpFeeBps)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t0, ok := r.tokens[token0]
	if !ok || t0.IsRemoved {
		return Pool{}, fmt.Errorf("%w: %d", ErrTokenNotFound, token0)
	}
	t1, ok := r.tokens[token1]
	if !ok || t1.IsRemoved {
		return Pool{}, fmt.Errorf("%w: %d", ErrTokenNotFound, token1)
	}
	if _, exists := r.pairs[pairKey{token0, token1}]; exists {
		return Pool{}, fmt.Errorf("%w: %s/%s", ErrPoolExists, t0.Symbol, t1.Symbol)
	}
	if _, exists := r.pairs[pairKey{token1, token0}]; exists {
		return Pool{}, fmt.Errorf("%w: %s/%s", ErrPoolExists, t1.Symbol, t0.Symbol)
	}

	id, err := r.store.IncrBy(ctx, keyPoolsSeq, 1)
	if err != nil {
		return Pool{}, fmt.Errorf("allocate pool id: %w", err)
	}
	p := Pool{
		ID:            uint32(id),
		Token0:        token0,
		Token1:        token1,
		Balance0:      balance0,
		Balance1:      balance1,
		LPFeeBps:      lpFeeBps,
		LPTokenSymbol: t0.Symbol + "_" + t1.Symbol,
		LPTotalSupply: balance0.Mul(balance1).Sqrt(),
	}
	if err := r.persistPoolsLocked(ctx, map[uint32]Pool{p.ID: p}); err != nil {
		return Pool{}, err
	}
	r.pools[p.ID] = p
	r.pairs[pairKey{token0, token1}] = p.ID

	r.logger.Infow("Pool added",
		"poolId", p.ID,
		"pair", p.LPTokenSymbol,
		"balance0", balance0.String(),
		"balance1", balance1.String(),
		"lpFeeBps", lpFeeBps,
	)
	return p, nil
}

// SetPoolSuspended hides (or restores) a pool from routing. Balances are retained.
func (r *Registry) SetPoolSuspended(ctx context.Context, id uint32, suspended bool) (Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[id]
	if !ok {
		return Pool{}, fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	p.IsRemoved = suspended
	if err := r.persistPoolsLocked(ctx, map[uint32]Pool{id: p}); err != nil {
		return Pool{}, err
	}
	r.pools[id] = p

	r.logger.Infow("Pool suspension changed", "poolId", id, "suspended", suspended)
	return p, nil
}

// RemovePool deletes a pool whose LP supply is zero.
func (r *Registry) RemovePool(ctx context.Context, id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	if !p.LPTotalSupply.IsZero() {
		return fmt.Errorf("%w: pool %d supply %s", ErrPoolNotEmpty, id, p.LPTotalSupply)
	}
	if _, err := r.store.HDel(ctx, keyPools, idField(id)); err != nil {
		return fmt.Errorf("delete pool: %w", err)
	}
	delete(r.pools, id)
	delete(r.pairs, pairKey{p.Token0, p.Token1})

	r.logger.Infow("Pool removed", "poolId", id, "pair", p.LPTokenSymbol)
	return nil
}
