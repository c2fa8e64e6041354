package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/pkg/kv/memory"
	"github.com/kongswap/kong-backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(context.Background(), memory.New(0), zap.NewNop().Sugar())
	require.NoError(t, err)
	return r
}

func mustToken(t *testing.T, r *Registry, symbol string) Token {
	t.Helper()
	tok, err := r.AddToken(context.Background(), Token{Symbol: symbol, Chain: "IC", Decimals: 8, Fee: natmath.FromUint64(10)})
	require.NoError(t, err)
	return tok
}

func TestAddTokenAndResolve(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	icp, err := r.AddToken(ctx, Token{Symbol: "ICP", Chain: "IC", Address: "ryjl3-tyaaa-aaaaa-aaaba-cai", Decimals: 8})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), icp.ID)

	for _, ref := range []string{"ICP", "IC.ICP", "ic.ICP", "IC.ryjl3-tyaaa-aaaaa-aaaba-cai", "ryjl3-tyaaa-aaaaa-aaaba-cai", "#1"} {
		got, err := r.ResolveToken(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, icp.ID, got.ID, ref)
	}

	_, err = r.ResolveToken("BTC")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = r.AddToken(ctx, Token{Symbol: "ICP", Chain: "IC"})
	assert.ErrorIs(t, err, ErrTokenExists)
}

func TestPoolLookupBothOrders(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	a := mustToken(t, r, "A")
	b := mustToken(t, r, "B")

	p, err := r.AddPool(ctx, a.ID, b.ID, natmath.FromUint64(1_000_000), natmath.FromUint64(2_000_000), 30)
	require.NoError(t, err)
	assert.Equal(t, "A_B", p.LPTokenSymbol)

	_, ok := r.ResolvePool(a.ID, b.ID)
	assert.True(t, ok)
	_, ok = r.ResolvePool(b.ID, a.ID)
	assert.False(t, ok, "ResolvePool is order-sensitive")

	got, ok := r.PoolBetween(b.ID, a.ID)
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)

	_, err = r.AddPool(ctx, b.ID, a.ID, natmath.Zero(), natmath.Zero(), 30)
	assert.ErrorIs(t, err, ErrPoolExists)
}

func TestUpdateIsAllOrNothing(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	a := mustToken(t, r, "A")
	b := mustToken(t, r, "B")
	c := mustToken(t, r, "C")
	p1, _ := r.AddPool(ctx, a.ID, b.ID, natmath.FromUint64(100), natmath.FromUint64(100), 30)
	p2, _ := r.AddPool(ctx, b.ID, c.ID, natmath.FromUint64(100), natmath.FromUint64(100), 30)

	err := r.Update(ctx, func(tx *Tx) error {
		if err := tx.MutatePool(p1.ID, PoolDelta{Credit0: natmath.FromUint64(10), Debit1: natmath.FromUint64(9)}); err != nil {
			return err
		}
		// second leg overdraws and must abort the first too
		return tx.MutatePool(p2.ID, PoolDelta{Debit1: natmath.FromUint64(101)})
	})
	require.ErrorIs(t, err, natmath.ErrUnderflow)

	after, _ := r.Pool(p1.ID)
	assert.Equal(t, "100", after.Balance0.String())
	assert.Equal(t, "100", after.Balance1.String())
}

func TestUpdatePersists(t *testing.T) {
	store := memory.New(0)
	ctx := context.Background()
	r, err := New(ctx, store, zap.NewNop().Sugar())
	require.NoError(t, err)
	a := mustToken(t, r, "A")
	b := mustToken(t, r, "B")
	p, _ := r.AddPool(ctx, a.ID, b.ID, natmath.FromUint64(100), natmath.FromUint64(100), 30)

	require.NoError(t, r.Update(ctx, func(tx *Tx) error {
		staged, ok := tx.PoolBetween(b.ID, a.ID)
		require.True(t, ok)
		d, err := SwapDelta(staged, b.ID, natmath.FromUint64(9), natmath.FromUint64(1), natmath.FromUint64(8))
		require.NoError(t, err)
		return tx.MutatePool(p.ID, d)
	}))

	reloaded, err := New(ctx, store, zap.NewNop().Sugar())
	require.NoError(t, err)
	got, ok := reloaded.Pool(p.ID)
	require.True(t, ok)
	assert.Equal(t, "92", got.Balance0.String())
	assert.Equal(t, "109", got.Balance1.String())
	assert.Equal(t, "1", got.LPFee1.String())
}

func TestUpdateSerializesWriters(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	a := mustToken(t, r, "A")
	b := mustToken(t, r, "B")
	p, _ := r.AddPool(ctx, a.ID, b.ID, natmath.FromUint64(0), natmath.FromUint64(0), 30)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Update(ctx, func(tx *Tx) error {
				return tx.MutatePool(p.ID, PoolDelta{Credit0: natmath.FromUint64(1)})
			})
		}()
	}
	wg.Wait()

	got, _ := r.Pool(p.ID)
	assert.Equal(t, "50", got.Balance0.String())
}

func TestSuspendAndRemove(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	a := mustToken(t, r, "A")
	b := mustToken(t, r, "B")
	funded, _ := r.AddPool(ctx, a.ID, b.ID, natmath.FromUint64(100), natmath.FromUint64(100), 30)

	_, err := r.SetPoolSuspended(ctx, funded.ID, true)
	require.NoError(t, err)
	_, ok := r.PoolBetween(a.ID, b.ID)
	assert.False(t, ok, "suspended pools are hidden from routing")
	kept, _ := r.Pool(funded.ID)
	assert.Equal(t, "100", kept.Balance0.String())

	err = r.RemovePool(ctx, funded.ID)
	assert.True(t, errors.Is(err, ErrPoolNotEmpty))

	c := mustToken(t, r, "C")
	empty, _ := r.AddPool(ctx, a.ID, c.ID, natmath.Zero(), natmath.Zero(), 30)
	require.NoError(t, r.RemovePool(ctx, empty.ID))
	_, ok = r.Pool(empty.ID)
	assert.False(t, ok)
}

func TestApplySeedIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tokens:
  - {symbol: ICP, chain: IC, address: ryjl3-tyaaa-aaaaa-aaaba-cai, decimals: 8, fee: "10000"}
  - {symbol: ckUSDT, chain: IC, decimals: 6, fee: "10000"}
pools:
  - {token_0: ICP, token_1: ckUSDT, balance_0: "1_000_000_000", balance_1: "9_000_000", lp_fee_bps: 30}
`), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)

	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.ApplySeed(ctx, seed))
	require.NoError(t, r.ApplySeed(ctx, seed))

	assert.Len(t, r.Tokens(), 2)
	pools := r.Pools()
	require.Len(t, pools, 1)
	assert.Equal(t, "1000000000", pools[0].Balance0.String())
	assert.Equal(t, uint32(30), pools[0].LPFeeBps)
}

func TestShippedSeedLoads(t *testing.T) {
	path, err := utils.RepoPath("config", "seed.yaml")
	require.NoError(t, err)

	seed, err := LoadSeed(path)
	require.NoError(t, err)

	r := newTestRegistry(t)
	require.NoError(t, r.ApplySeed(context.Background(), seed))
	assert.Len(t, r.Tokens(), len(seed.Tokens))
	assert.Len(t, r.Pools(), len(seed.Pools))

	// both default bridge tokens must be present
	for _, ref := range []string{"ckUSDT", "ICP"} {
		_, err := r.ResolveToken(ref)
		assert.NoError(t, err, ref)
	}
}
