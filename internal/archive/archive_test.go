package archive

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/pkg/kv/memory"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSink struct {
	name string
	err  error

	mu      sync.Mutex
	records []Record
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *fakeSink) written() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

type countingMetrics struct {
	mu       sync.Mutex
	failures map[string]int
}

func (m *countingMetrics) RecordArchiveFailure(_ context.Context, sink string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = map[string]int{}
	}
	m.failures[sink]++
}

func (m *countingMetrics) count(sink string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[sink]
}

// seedSwap records a finished swap with one transfer each way and its tx.
func seedSwap(t *testing.T, ctx context.Context, led *ledger.Ledger) ledger.Request {
	t.Helper()
	user, err := led.EnsureUser(ctx, "alice", "")
	require.NoError(t, err)
	r, err := led.InsertRequest(ctx, user.ID, ledger.SwapArgs{
		PayToken:     "ICP",
		PayAmount:    natmath.FromUint64(10_000),
		PayTxRef:     "1",
		ReceiveToken: "ckUSDT",
	})
	require.NoError(t, err)
	_, err = led.InsertTransfer(ctx, ledger.Transfer{RequestID: r.ID, Direction: ledger.DirectionIn, TokenID: 1, Amount: natmath.FromUint64(10_000), TxRef: "1"})
	require.NoError(t, err)
	_, err = led.InsertTransfer(ctx, ledger.Transfer{RequestID: r.ID, Direction: ledger.DirectionOut, TokenID: 2, Amount: natmath.FromUint64(19_742), TxRef: "9"})
	require.NoError(t, err)
	_, err = led.InsertTx(ctx, ledger.Tx{UserID: user.ID, RequestID: r.ID, Status: ledger.StatusSuccess, Body: ledger.SwapTx{PayTokenID: 1, ReceiveTokenID: 2}})
	require.NoError(t, err)
	require.NoError(t, led.AppendStatus(ctx, r.ID, ledger.StatusSuccess, ""))

	r, err = led.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	return r
}

func TestLoadAssemblesRecord(t *testing.T) {
	ctx := context.Background()
	led := ledger.New(memory.New(0), zap.NewNop().Sugar())
	r := seedSwap(t, ctx, led)

	d := NewDispatcher(led, zap.NewNop().Sugar(), Config{}, nil)
	rec, err := d.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, rec.Request.ID)
	assert.Len(t, rec.Transfers, 2)
	assert.Empty(t, rec.Claims)
	require.NotNil(t, rec.Tx)
	assert.Equal(t, ledger.StatusSuccess, rec.Tx.Status)

	_, err = d.Load(ctx, 999)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestDispatcherFansOutAndSurvivesSinkFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New(0)
	led := ledger.New(store, zap.NewNop().Sugar())
	r := seedSwap(t, ctx, led)

	broken := &fakeSink{name: "broken", err: errors.New("unreachable")}
	good := &fakeSink{name: "good"}
	kvSink := NewKVSink(store)
	metrics := &countingMetrics{}

	d := NewDispatcher(led, zap.NewNop().Sugar(), Config{Workers: 1}, metrics, broken, kvSink, good)
	d.Start(ctx)
	d.Enqueue(r.ID)
	require.NoError(t, d.Close(ctx))

	assert.Len(t, broken.written(), 1)
	require.Len(t, good.written(), 1)
	assert.Equal(t, r.ID, good.written()[0].Request.ID)
	assert.Equal(t, 1, metrics.count("broken"))

	raw, err := kvSink.ArchivedRequest(ctx, r.ID)
	require.NoError(t, err)
	var archived ledger.Request
	require.NoError(t, json.Unmarshal(raw, &archived))
	assert.Equal(t, ledger.StatusSuccess, archived.Last().Code)
	assert.Equal(t, ledger.KindSwap, archived.Payload.Kind())

	// enqueueing after close is ignored
	d.Enqueue(r.ID)
}

func TestEnqueueNeverBlocks(t *testing.T) {
	led := ledger.New(memory.New(0), zap.NewNop().Sugar())
	metrics := &countingMetrics{}
	d := NewDispatcher(led, zap.NewNop().Sugar(), Config{QueueSize: 1}, metrics)

	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 5; i++ {
			d.Enqueue(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	assert.Equal(t, 4, metrics.count("queue"))
}

func TestUnknownRequestCountsLoadFailure(t *testing.T) {
	ctx := context.Background()
	led := ledger.New(memory.New(0), zap.NewNop().Sugar())
	metrics := &countingMetrics{}
	sink := &fakeSink{name: "good"}
	d := NewDispatcher(led, zap.NewNop().Sugar(), Config{}, metrics, sink)
	d.Start(ctx)
	d.Enqueue(42)
	require.NoError(t, d.Close(ctx))

	assert.Empty(t, sink.written())
	assert.Equal(t, 1, metrics.count("load"))
}

func TestNATSMessage(t *testing.T) {
	ctx := context.Background()
	led := ledger.New(memory.New(0), zap.NewNop().Sugar())
	r := seedSwap(t, ctx, led)
	d := NewDispatcher(led, zap.NewNop().Sugar(), Config{}, nil)
	rec, err := d.Load(ctx, r.ID)
	require.NoError(t, err)

	s := &NATSSink{subject: "kong.archive"}
	msg, err := s.message(rec)
	require.NoError(t, err)
	assert.Equal(t, "kong.archive.swap", msg.Subject)
	assert.Equal(t, MessageID(rec).String(), msg.Header.Get(nats.MsgIdHdr))

	again, err := s.message(rec)
	require.NoError(t, err)
	assert.Equal(t, msg.Header.Get(nats.MsgIdHdr), again.Header.Get(nats.MsgIdHdr), "republishing is deduplicated")

	rec.Request.Statuses = append(rec.Request.Statuses, ledger.Status{Code: ledger.StatusFailed})
	assert.NotEqual(t, msg.Header.Get(nats.MsgIdHdr), MessageID(rec).String())
}

func TestPostgresBatch(t *testing.T) {
	ctx := context.Background()
	led := ledger.New(memory.New(0), zap.NewNop().Sugar())
	r := seedSwap(t, ctx, led)
	d := NewDispatcher(led, zap.NewNop().Sugar(), Config{}, nil)
	rec, err := d.Load(ctx, r.ID)
	require.NoError(t, err)

	batch, err := buildBatch(rec)
	require.NoError(t, err)
	// request + two transfers + tx
	assert.Equal(t, 4, batch.Len())

	rec.Request.Payload = nil
	_, err = buildBatch(rec)
	assert.Error(t, err)
}
