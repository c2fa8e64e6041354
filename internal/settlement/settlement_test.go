package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kongswap/kong-backend/internal/address"
	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/registry"
	"github.com/kongswap/kong-backend/internal/swapcalc"
	"github.com/kongswap/kong-backend/internal/tokenledger"
	"github.com/kongswap/kong-backend/pkg/kv/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const exchange = "exchange"

type recordingArchiver struct {
	mu  sync.Mutex
	ids []uint64
}

func (a *recordingArchiver) Enqueue(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, id)
}

func (a *recordingArchiver) enqueued() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.ids...)
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	reg      *registry.Registry
	led      *ledger.Ledger
	chain    *tokenledger.Memory
	archiver *recordingArchiver
	svc      *Service

	icp  registry.Token
	usdt registry.Token
	pool registry.Pool
}

func newFixture(t *testing.T, adapter Adapter, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop().Sugar()
	store := memory.New(0)

	reg, err := registry.New(ctx, store, logger)
	require.NoError(t, err)
	f := &fixture{t: t, ctx: ctx, reg: reg, led: ledger.New(store, logger), chain: tokenledger.NewMemory(exchange), archiver: &recordingArchiver{}}

	f.icp, err = reg.AddToken(ctx, registry.Token{Symbol: "ICP", Chain: "IC", Decimals: 8, Fee: natmath.FromUint64(10)})
	require.NoError(t, err)
	f.usdt, err = reg.AddToken(ctx, registry.Token{Symbol: "ckUSDT", Chain: "IC", Decimals: 8, Fee: natmath.FromUint64(1)})
	require.NoError(t, err)
	f.pool, err = reg.AddPool(ctx, f.icp.ID, f.usdt.ID, natmath.FromUint64(1_000_000), natmath.FromUint64(2_000_000), 30)
	require.NoError(t, err)
	f.chain.Mint(f.icp.ID, exchange, natmath.FromUint64(1_000_000))
	f.chain.Mint(f.usdt.ID, exchange, natmath.FromUint64(2_000_000))

	if adapter == nil {
		adapter = f.chain
	}
	f.svc = NewService(cfg, reg, f.led, adapter, logger, WithArchiver(f.archiver))
	return f
}

func (f *fixture) deposit(from string, amount uint64) string {
	return f.chain.Deposit(f.icp.ID, from, natmath.FromUint64(amount))
}

func (f *fixture) swapRequest(caller, txRef string, amount uint64) SwapRequest {
	return SwapRequest{
		Caller:       caller,
		PayToken:     "ICP",
		PayAmount:    natmath.FromUint64(amount),
		PayTxRef:     txRef,
		ReceiveToken: "ckUSDT",
	}
}

func (f *fixture) currentPool() registry.Pool {
	p, ok := f.reg.Pool(f.pool.ID)
	require.True(f.t, ok)
	return p
}

func (f *fixture) statusCodes(requestID uint64) []ledger.StatusCode {
	f.t.Helper()
	r, err := f.led.GetRequest(f.ctx, requestID)
	require.NoError(f.t, err)
	codes := make([]ledger.StatusCode, 0, len(r.Statuses))
	for _, s := range r.Statuses {
		codes = append(codes, s.Code)
	}
	return codes
}

func TestSwapSuccess(t *testing.T) {
	f := newFixture(t, nil, Config{})
	ref := f.deposit("alice", 10_000)

	reply, err := f.svc.Swap(f.ctx, f.swapRequest("alice", ref, 10_000))
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusSuccess, reply.Status)
	assert.Equal(t, "19742", reply.ReceiveAmount.String())
	assert.Equal(t, "ICP", reply.PaySymbol)
	assert.Equal(t, "ckUSDT", reply.ReceiveSymbol)
	require.Len(t, reply.Txs, 1)
	assert.Equal(t, "30", reply.Txs[0].LPFee.String())
	assert.True(t, reply.Slippage.IsPositive())
	require.Len(t, reply.TransferIDs, 2)
	assert.Equal(t, ledger.DirectionIn, reply.TransferIDs[0].Direction)
	assert.Equal(t, ledger.DirectionOut, reply.TransferIDs[1].Direction)
	assert.Empty(t, reply.ClaimIDs)

	assert.Equal(t, []ledger.StatusCode{
		ledger.StatusStart,
		ledger.StatusVerifyPayToken,
		ledger.StatusVerifyPayTokenSuccess,
		ledger.StatusCalculatePoolAmounts,
		ledger.StatusCalculatePoolAmountsSuccess,
		ledger.StatusUpdatePoolAmountsSuccess,
		ledger.StatusSendReceiveToken,
		ledger.StatusSendReceiveTokenSuccess,
		ledger.StatusSuccess,
	}, f.statusCodes(reply.RequestID))

	// pay side gains pay - lp_fee, receive side loses receive + gas
	p := f.currentPool()
	assert.Equal(t, "1009970", p.Balance0.String())
	assert.Equal(t, "1980257", p.Balance1.String())
	assert.Equal(t, "30", p.LPFee0.String())
	assert.Equal(t, "19742", f.chain.Balance(f.usdt.ID, "alice").String())

	tx, err := f.led.TxByRequest(f.ctx, reply.RequestID)
	require.NoError(t, err)
	assert.Equal(t, reply.TxID, tx.ID)
	body, ok := tx.Body.(ledger.SwapTx)
	require.True(t, ok)
	assert.Equal(t, "19742", body.ReceiveAmount.String())

	stored, err := f.led.GetRequest(f.ctx, reply.RequestID)
	require.NoError(t, err)
	assert.Contains(t, string(stored.Reply), `"receive_amount":"19742"`)
	assert.Equal(t, []uint64{reply.RequestID}, f.archiver.enqueued())
}

func TestQuoteMatchesSettlement(t *testing.T) {
	f := newFixture(t, nil, Config{})

	quote, err := f.svc.Quote(f.ctx, "ICP", natmath.FromUint64(10_000), "IC.ckUSDT")
	require.NoError(t, err)
	assert.Equal(t, "1000000", f.currentPool().Balance0.String(), "quoting changes nothing")

	reply, err := f.svc.Swap(f.ctx, f.swapRequest("alice", f.deposit("alice", 10_000), 10_000))
	require.NoError(t, err)
	assert.Equal(t, quote.ReceiveAmount.String(), reply.ReceiveAmount.String())
	assert.True(t, quote.Price.Equal(reply.Price))

	_, err = f.svc.Quote(f.ctx, "ICP", natmath.FromUint64(10_000), "DOGE")
	assert.True(t, IsKind(err, KindValidation))
}

func TestDuplicatePayTransferIsRejected(t *testing.T) {
	f := newFixture(t, nil, Config{})
	ref := f.deposit("alice", 10_000)

	_, err := f.svc.Swap(f.ctx, f.swapRequest("alice", ref, 10_000))
	require.NoError(t, err)
	after := f.currentPool()

	reply, err := f.svc.Swap(f.ctx, f.swapRequest("alice", ref, 10_000))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDuplicateTransfer))
	assert.ErrorIs(t, err, ledger.ErrDuplicateTransfer)
	assert.Equal(t, "Swap #2 failed: Duplicate block id", err.Error())
	assert.Equal(t, ledger.StatusFailed, reply.Status)

	assert.Equal(t, after, f.currentPool())
	transfers, err := f.led.TransfersByRequest(f.ctx, reply.RequestID)
	require.NoError(t, err)
	assert.Empty(t, transfers, "a rejected duplicate neither records nor refunds anything")

	r, err := f.led.GetRequest(f.ctx, reply.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "Failed verifying pay token (Duplicate block id)", r.Statuses[len(r.Statuses)-2].Display())
}

func TestDepositCanOnlyBeSettledByItsSender(t *testing.T) {
	f := newFixture(t, nil, Config{})
	ref := f.deposit("alice", 10_000)
	before := f.currentPool()

	reply, err := f.svc.Swap(f.ctx, f.swapRequest("mallory", ref, 10_000))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindExternalTransfer))
	assert.ErrorIs(t, err, tokenledger.ErrWrongSender)
	assert.Equal(t, ledger.StatusFailed, reply.Status)
	codes := f.statusCodes(reply.RequestID)
	assert.Equal(t, ledger.StatusVerifyPayTokenFailed, codes[len(codes)-2])
	assert.Equal(t, before, f.currentPool())
	assert.True(t, f.chain.Balance(f.usdt.ID, "mallory").IsZero())

	exists, err := f.led.TransferExists(f.ctx, f.icp.ID, ref)
	require.NoError(t, err)
	assert.False(t, exists, "a rejected sender does not burn the deposit reference")

	reply, err = f.svc.Swap(f.ctx, f.swapRequest("alice", ref, 10_000))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, reply.Status)
	assert.Equal(t, "19742", f.chain.Balance(f.usdt.ID, "alice").String())
}

func TestConcurrentDuplicatesSettleOnce(t *testing.T) {
	f := newFixture(t, nil, Config{})
	ref := f.deposit("alice", 10_000)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Swap(f.ctx, f.swapRequest("alice", ref, 10_000))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, IsKind(err, KindDuplicateTransfer))
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, "1009970", f.currentPool().Balance0.String())
}

func TestSendFailureCreatesClaim(t *testing.T) {
	f := newFixture(t, nil, Config{})
	f.chain.FailSends(f.usdt.ID, errors.New("ledger down"))

	reply, err := f.svc.Swap(f.ctx, f.swapRequest("alice", f.deposit("alice", 10_000), 10_000))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindExternalTransfer))
	assert.Equal(t, ledger.StatusFailed, reply.Status)
	assert.Equal(t, "19742", reply.ReceiveAmount.String(), "the executed swap is still reported")

	// the pool change stands
	assert.Equal(t, "1009970", f.currentPool().Balance0.String())

	require.Len(t, reply.ClaimIDs, 1)
	c, err := f.led.GetClaim(f.ctx, reply.ClaimIDs[0])
	require.NoError(t, err)
	assert.Equal(t, ledger.ClaimUnclaimed, c.Status)
	assert.Equal(t, f.usdt.ID, c.TokenID)
	assert.Equal(t, "19742", c.Amount.String())
	require.NotNil(t, c.ToAddress)
	assert.Equal(t, "alice", c.ToAddress.Value)

	n, err := f.led.NumUnclaimedClaims(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	codes := f.statusCodes(reply.RequestID)
	assert.Equal(t, ledger.StatusSendReceiveTokenFailed, codes[len(codes)-2])
	assert.NotContains(t, codes, ledger.StatusReturnPayToken)

	tx, err := f.led.TxByRequest(f.ctx, reply.RequestID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, tx.Status)
	assert.Equal(t, reply.ClaimIDs, tx.ClaimIDs)
}

func TestRouteFailureRefundsPayToken(t *testing.T) {
	f := newFixture(t, nil, Config{})
	_, err := f.reg.AddToken(f.ctx, registry.Token{Symbol: "DOGE", Chain: "IC", Decimals: 8, Fee: natmath.FromUint64(1)})
	require.NoError(t, err)
	before := f.currentPool()

	req := f.swapRequest("alice", f.deposit("alice", 10_000), 10_000)
	req.ReceiveToken = "DOGE"
	reply, err := f.svc.Swap(f.ctx, req)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRouteNotFound))
	assert.ErrorIs(t, err, swapcalc.ErrNoRouteFound)

	assert.Equal(t, before, f.currentPool())
	assert.Equal(t, "9990", f.chain.Balance(f.icp.ID, "alice").String(), "refund is net of the transfer fee")
	require.Len(t, reply.TransferIDs, 2)
	assert.Equal(t, ledger.DirectionOut, reply.TransferIDs[1].Direction)
	assert.Empty(t, reply.ClaimIDs)

	codes := f.statusCodes(reply.RequestID)
	assert.Contains(t, codes, ledger.StatusCalculatePoolAmountsFailed)
	assert.Equal(t, ledger.StatusReturnPayTokenSuccess, codes[len(codes)-2])

	_, err = f.led.TxByRequest(f.ctx, reply.RequestID)
	assert.ErrorIs(t, err, ledger.ErrNotFound, "no tx is recorded when nothing executed")
}

func TestRefundFailureCreatesClaim(t *testing.T) {
	f := newFixture(t, nil, Config{})
	f.chain.FailSends(f.icp.ID, errors.New("ledger down"))

	req := f.swapRequest("alice", f.deposit("alice", 10_000), 10_000)
	req.ReceiveAddress = "not-an-address"
	reply, err := f.svc.Swap(f.ctx, req)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))

	require.Len(t, reply.ClaimIDs, 1)
	c, err := f.led.GetClaim(f.ctx, reply.ClaimIDs[0])
	require.NoError(t, err)
	assert.Equal(t, f.icp.ID, c.TokenID)
	assert.Equal(t, "10000", c.Amount.String())
	assert.Equal(t, "alice", c.ToAddress.Value)

	codes := f.statusCodes(reply.RequestID)
	assert.Contains(t, codes, ledger.StatusReceiveAddressNotFound)
	assert.Contains(t, codes, ledger.StatusReturnPayTokenFailed)
}

func TestLimitsTriggerRefund(t *testing.T) {
	tooLow := natmath.FromUint64(19_743)
	tight := uint32(100)

	tests := []struct {
		name string
		cfg  Config
		mod  func(*SwapRequest)
		err  error
	}{
		{name: "min receive", mod: func(r *SwapRequest) { r.ReceiveAmountMin = &tooLow }, err: swapcalc.ErrReceiveAmountTooLow},
		{name: "request slippage", mod: func(r *SwapRequest) { r.MaxSlippageBps = &tight }, err: swapcalc.ErrSlippageExceeded},
		{name: "default slippage", cfg: Config{DefaultMaxSlippageBps: 100}, mod: func(*SwapRequest) {}, err: swapcalc.ErrSlippageExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, tt.cfg)
			before := f.currentPool()
			req := f.swapRequest("alice", f.deposit("alice", 10_000), 10_000)
			tt.mod(&req)

			_, err := f.svc.Swap(f.ctx, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, IsKind(err, KindLiquidity))
			assert.Equal(t, before, f.currentPool())
			assert.Equal(t, "9990", f.chain.Balance(f.icp.ID, "alice").String())
		})
	}
}

func TestValidationFailures(t *testing.T) {
	t.Run("unknown pay token", func(t *testing.T) {
		f := newFixture(t, nil, Config{})
		req := f.swapRequest("alice", "0", 10_000)
		req.PayToken = "NOPE"
		reply, err := f.svc.Swap(f.ctx, req)
		assert.True(t, IsKind(err, KindValidation))
		assert.Equal(t, []ledger.StatusCode{ledger.StatusStart, ledger.StatusPayTokenNotFound, ledger.StatusFailed}, f.statusCodes(reply.RequestID))
	})

	t.Run("missing tx id", func(t *testing.T) {
		f := newFixture(t, nil, Config{})
		reply, err := f.svc.Swap(f.ctx, f.swapRequest("alice", "", 10_000))
		assert.True(t, IsKind(err, KindValidation))
		assert.Equal(t, []ledger.StatusCode{ledger.StatusStart, ledger.StatusPayTxIDNotFound, ledger.StatusFailed}, f.statusCodes(reply.RequestID))
	})

	t.Run("verification fails", func(t *testing.T) {
		f := newFixture(t, nil, Config{})
		ref := f.deposit("alice", 10_000)
		reply, err := f.svc.Swap(f.ctx, f.swapRequest("alice", ref, 20_000))
		assert.True(t, IsKind(err, KindExternalTransfer))
		assert.ErrorIs(t, err, tokenledger.ErrAmountMismatch)
		codes := f.statusCodes(reply.RequestID)
		assert.Equal(t, ledger.StatusVerifyPayTokenFailed, codes[len(codes)-2])
		assert.Empty(t, reply.TransferIDs)
	})

	t.Run("zero amount", func(t *testing.T) {
		f := newFixture(t, nil, Config{})
		reply, err := f.svc.Swap(f.ctx, f.swapRequest("alice", f.deposit("alice", 0), 0))
		assert.True(t, IsKind(err, KindValidation))
		codes := f.statusCodes(reply.RequestID)
		assert.Contains(t, codes, ledger.StatusPayTokenAmountIsZero)
		assert.Contains(t, codes, ledger.StatusReturnPayTokenFailed)
		assert.Empty(t, reply.ClaimIDs)
	})
}

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) VerifyTransfer(ctx context.Context, token registry.Token, txRef string, from address.Address, amount natmath.Nat) error {
	args := m.Called(ctx, token, txRef, from, amount)
	return args.Error(0)
}

func (m *mockAdapter) SendTransfer(ctx context.Context, token registry.Token, to address.Address, amount natmath.Nat) (string, error) {
	args := m.Called(ctx, token, to, amount)
	return args.String(0), args.Error(1)
}

func TestExplicitReceiveAddressAndRefundTarget(t *testing.T) {
	adapter := &mockAdapter{}
	f := newFixture(t, adapter, Config{})
	dest := "ryjl3-tyaaa-aaaaa-aaaba-cai"
	to, err := address.Parse(dest)
	require.NoError(t, err)

	adapter.On("VerifyTransfer", mock.Anything, f.icp, "77", address.PrincipalID("alice"), natmath.FromUint64(10_000)).Return(nil).Once()
	adapter.On("SendTransfer", mock.Anything, f.usdt, to, natmath.FromUint64(19_742)).Return("900", nil).Once()

	req := f.swapRequest("alice", "77", 10_000)
	req.ReceiveAddress = dest
	reply, err := f.svc.Swap(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "900", reply.TransferIDs[1].TxRef)
	adapter.AssertExpectations(t)

	adapter.On("VerifyTransfer", mock.Anything, f.icp, "78", address.PrincipalID("alice"), natmath.FromUint64(500)).Return(nil).Once()
	adapter.On("SendTransfer", mock.Anything, f.icp, address.PrincipalID("alice"), natmath.FromUint64(490)).Return("901", nil).Once()

	req = f.swapRequest("alice", "78", 500)
	req.ReceiveToken = "ICP"
	_, err = f.svc.Swap(f.ctx, req)
	assert.True(t, IsKind(err, KindRouteNotFound))
	assert.ErrorIs(t, err, swapcalc.ErrSameToken)
	adapter.AssertExpectations(t)
}

func TestMaintenanceMode(t *testing.T) {
	f := newFixture(t, nil, Config{})
	f.svc.SetMaintenance(true)

	_, err := f.svc.Swap(f.ctx, f.swapRequest("alice", f.deposit("alice", 10_000), 10_000))
	assert.ErrorIs(t, err, ErrMaintenance)
	_, err = f.svc.SwapAsync(f.ctx, f.swapRequest("alice", "1", 10_000))
	assert.ErrorIs(t, err, ErrMaintenance)

	_, err = f.led.GetRequest(f.ctx, 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound, "nothing is recorded in maintenance mode")

	f.svc.SetMaintenance(false)
	_, err = f.svc.Swap(f.ctx, f.swapRequest("alice", f.deposit("alice", 10_000), 10_000))
	assert.NoError(t, err)
}

func waitFinalized(t *testing.T, f *fixture, id uint64) ledger.Request {
	t.Helper()
	var r ledger.Request
	require.Eventually(t, func() bool {
		var err error
		r, err = f.led.GetRequest(f.ctx, id)
		return err == nil && r.Finalized() && len(r.Reply) > 0
	}, 2*time.Second, 5*time.Millisecond)
	return r
}

func TestSwapAsyncMatchesSwap(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture)
	}{
		{name: "success", setup: func(*fixture) {}},
		{name: "send fails", setup: func(f *fixture) { f.chain.FailSends(f.usdt.ID, errors.New("ledger down")) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			syncF := newFixture(t, nil, Config{})
			tc.setup(syncF)
			syncReply, _ := syncF.svc.Swap(syncF.ctx, syncF.swapRequest("alice", syncF.deposit("alice", 10_000), 10_000))

			asyncF := newFixture(t, nil, Config{Workers: 2})
			tc.setup(asyncF)
			asyncF.svc.Start(asyncF.ctx)
			id, err := asyncF.svc.SwapAsync(asyncF.ctx, asyncF.swapRequest("alice", asyncF.deposit("alice", 10_000), 10_000))
			require.NoError(t, err)
			assert.Equal(t, syncReply.RequestID, id)

			waitFinalized(t, asyncF, id)
			require.NoError(t, asyncF.svc.Shutdown(context.Background()))

			assert.Equal(t, syncF.statusCodes(syncReply.RequestID), asyncF.statusCodes(id))
			assert.Equal(t, syncF.currentPool(), asyncF.currentPool())

			syncClaims, err := syncF.led.ClaimsByRequest(syncF.ctx, syncReply.RequestID)
			require.NoError(t, err)
			asyncClaims, err := asyncF.led.ClaimsByRequest(asyncF.ctx, id)
			require.NoError(t, err)
			assert.Equal(t, len(syncClaims), len(asyncClaims))

			syncTx, err := syncF.led.TxByRequest(syncF.ctx, syncReply.RequestID)
			require.NoError(t, err)
			asyncTx, err := asyncF.led.TxByRequest(asyncF.ctx, id)
			require.NoError(t, err)
			assert.Equal(t, syncTx.Status, asyncTx.Status)
			assert.Equal(t, syncTx.Body, asyncTx.Body)
		})
	}
}

func TestSwapAsyncWithoutWorkersStillSettles(t *testing.T) {
	f := newFixture(t, nil, Config{})
	id, err := f.svc.SwapAsync(f.ctx, f.swapRequest("alice", f.deposit("alice", 10_000), 10_000))
	require.NoError(t, err)

	codes := f.statusCodes(id)
	require.NotEmpty(t, codes)
	assert.Equal(t, ledger.StatusStart, codes[0], "the request is recorded before SwapAsync returns")

	require.NoError(t, f.svc.Shutdown(context.Background()))
	r := waitFinalized(t, f, id)
	assert.Equal(t, ledger.StatusSuccess, r.Last().Code)
}

func TestShutdownRefusesNewRequests(t *testing.T) {
	f := newFixture(t, nil, Config{Workers: 1})
	f.svc.Start(f.ctx)
	require.NoError(t, f.svc.Shutdown(context.Background()))

	_, err := f.svc.SwapAsync(f.ctx, f.swapRequest("alice", f.deposit("alice", 10_000), 10_000))
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.True(t, IsKind(err, KindMaintenance))
	_, err = f.svc.Swap(f.ctx, f.swapRequest("alice", f.deposit("alice", 10_000), 10_000))
	assert.ErrorIs(t, err, ErrShuttingDown)

	_, err = f.led.GetRequest(f.ctx, 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound, "nothing is recorded after shutdown")
	assert.Equal(t, "1000000", f.currentPool().Balance0.String())
}

func TestQuoteZeroAmountIsValidation(t *testing.T) {
	f := newFixture(t, nil, Config{})
	_, err := f.svc.Quote(f.ctx, "ICP", natmath.Zero(), "ckUSDT")
	assert.True(t, IsKind(err, KindValidation))
	assert.ErrorIs(t, err, ErrZeroAmount)
	assert.NotErrorIs(t, err, natmath.ErrDivideByZero)
}

func TestConcurrentSwapsConserveReserves(t *testing.T) {
	f := newFixture(t, nil, Config{Workers: 4})
	f.svc.Start(f.ctx)

	const n = 20
	refs := make([]string, n)
	for i := range refs {
		refs[i] = f.deposit("alice", 1_000)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := f.svc.Swap(f.ctx, f.swapRequest("alice", refs[i], 1_000))
				assert.NoError(t, err)
				return
			}
			_, err := f.svc.SwapAsync(f.ctx, f.swapRequest("alice", refs[i], 1_000))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.NoError(t, f.svc.Shutdown(context.Background()))

	p := f.currentPool()
	// each 1_000 pays a 3 fee, 997 goes to the reserve
	assert.Equal(t, "1019940", p.Balance0.String())
	assert.Equal(t, "60", p.LPFee0.String())

	paid := f.chain.Balance(f.usdt.ID, "alice")
	outflow, err := natmath.FromUint64(2_000_000).Sub(p.Balance1)
	require.NoError(t, err)
	// every payout also cost the exchange one unit of fee
	assert.Equal(t, outflow.String(), paid.Add(natmath.FromUint64(n)).String())
	assert.Len(t, f.archiver.enqueued(), n)
}

func TestAddPoolRecordsRequestAndTx(t *testing.T) {
	f := newFixture(t, nil, Config{})
	_, err := f.reg.AddToken(f.ctx, registry.Token{Symbol: "ckBTC", Chain: "IC", Decimals: 8, Fee: natmath.FromUint64(10)})
	require.NoError(t, err)

	reply, err := f.svc.AddPool(f.ctx, AddPoolRequest{
		Caller:   "admin",
		Token0:   "ckBTC",
		Amount0:  natmath.FromUint64(400),
		Token1:   "ckUSDT",
		Amount1:  natmath.FromUint64(100),
		LPFeeBps: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, reply.Status)
	assert.Equal(t, "200", reply.LPTokenAmount.String())
	assert.Equal(t, "ckBTC_ckUSDT", reply.LPTokenSymbol)

	tx, err := f.led.TxByRequest(f.ctx, reply.RequestID)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindAddPool, tx.Body.Kind())
	assert.Equal(t, []ledger.StatusCode{ledger.StatusStart, ledger.StatusAddPool, ledger.StatusAddPoolSuccess, ledger.StatusSuccess}, f.statusCodes(reply.RequestID))

	_, err = f.svc.AddPool(f.ctx, AddPoolRequest{Caller: "admin", Token0: "ckBTC", Amount0: natmath.FromUint64(1), Token1: "ckUSDT", Amount1: natmath.FromUint64(1)})
	assert.ErrorIs(t, err, registry.ErrPoolExists)
}
