// Package ledger is the durable audit trail: requests with their status
// history, transfers, claims, users and transaction records. Every map lives
// in a kv.Store hash keyed by a monotonically assigned id.
//
// All mutations are single critical sections. The transfer uniqueness guard
// uses HSetNX, so it holds across processes sharing a Redis backend; the
// read-modify-write paths (status append, claim lock) are serialized by an
// in-process mutex and assume one writer process per store.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kongswap/kong-backend/pkg/kv"
	"go.uber.org/zap"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateTransfer = errors.New("duplicate block id")
	ErrClaimAmountZero   = errors.New("claim amount is zero")
	ErrTerminalStatus    = errors.New("request already finalized")
)

const (
	keyRequests      = "kong:requests"
	keyRequestsSeq   = "kong:requests:seq"
	keyTransfers     = "kong:transfers"
	keyTransfersSeq  = "kong:transfers:seq"
	keyTransferIndex = "kong:transfers:index"
	keyClaims        = "kong:claims"
	keyClaimsSeq     = "kong:claims:seq"
	keyUsers         = "kong:users"
	keyUsersSeq      = "kong:users:seq"
	keyUserPrincipal = "kong:users:principal"
	keyUserReferral  = "kong:users:referral"
	keyTxs           = "kong:txs"
	keyTxsSeq        = "kong:txs:seq"

	// Secondary indexes. The by_* prefixes are lists of record ids suffixed
	// with the owning id; unclaimed is a hash of claim ids.
	keyRequestsByUser     = "kong:requests:by_user:"
	keyTransfersByRequest = "kong:transfers:by_request:"
	keyClaimsByUser       = "kong:claims:by_user:"
	keyClaimsByRequest    = "kong:claims:by_request:"
	keyClaimsUnclaimed    = "kong:claims:unclaimed"
	keyTxsByUser          = "kong:txs:by_user:"
	keyTxByRequest        = "kong:txs:by_request:"
)

type Ledger struct {
	store  kv.Store
	logger *zap.SugaredLogger
	now    func() time.Time

	requestsMu sync.Mutex
	claimsMu   sync.Mutex
	usersMu    sync.Mutex
}

type Option func(*Ledger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func New(store kv.Store, logger *zap.SugaredLogger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func field(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func (l *Ledger) nextID(ctx context.Context, seqKey string) (uint64, error) {
	n, err := l.store.IncrBy(ctx, seqKey, 1)
	if err != nil {
		return 0, fmt.Errorf("allocate id %s: %w", seqKey, err)
	}
	return uint64(n), nil
}

func (l *Ledger) put(ctx context.Context, key string, id uint64, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s #%d: %w", key, id, err)
	}
	if err := l.store.HSet(ctx, key, field(id), raw); err != nil {
		return fmt.Errorf("write %s #%d: %w", key, id, err)
	}
	return nil
}

func get[T any](ctx context.Context, store kv.Store, key string, id uint64) (T, error) {
	var out T
	raw, err := store.HGet(ctx, key, field(id))
	if errors.Is(err, kv.ErrNotFound) {
		return out, fmt.Errorf("%w: %s #%d", ErrNotFound, key, id)
	}
	if err != nil {
		return out, fmt.Errorf("read %s #%d: %w", key, id, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s #%d: %w", key, id, err)
	}
	return out, nil
}

func indexKey(prefix string, owner uint64) string {
	return prefix + field(owner)
}

// index appends id to the list at key. It runs after the record itself is
// written, so a listed id always resolves.
func (l *Ledger) index(ctx context.Context, key string, id uint64) error {
	if _, err := l.store.RPush(ctx, key, []byte(field(id))); err != nil {
		return fmt.Errorf("index %s: %w", key, err)
	}
	return nil
}

func parseIDs(key string, raw [][]byte) ([]uint64, error) {
	ids := make([]uint64, 0, len(raw))
	for _, b := range raw {
		id, err := strconv.ParseUint(string(b), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt index %s: %q", key, b)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// listed loads the records whose ids are in the list at key, oldest first.
func listed[T any](ctx context.Context, store kv.Store, key string, load func(context.Context, uint64) (T, error)) ([]T, error) {
	raw, err := store.LRange(ctx, key, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	ids, err := parseIDs(key, raw)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		v, err := load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
