package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/swapcalc"
	"github.com/kongswap/kong-backend/pkg/kv"
	"github.com/shopspring/decimal"
)

// TxBody is one of SwapTx, AddPoolTx, AddLiquidityTx, RemoveLiquidityTx or SendTx.
type TxBody interface {
	Kind() RequestKind
}

type SwapTx struct {
	PayTokenID     uint32          `json:"pay_token_id"`
	PayAmount      natmath.Nat     `json:"pay_amount"`
	ReceiveTokenID uint32          `json:"receive_token_id"`
	ReceiveAmount  natmath.Nat     `json:"receive_amount"`
	Price          decimal.Decimal `json:"price"`
	MidPrice       decimal.Decimal `json:"mid_price"`
	Slippage       decimal.Decimal `json:"slippage"`
	Legs           []swapcalc.Leg  `json:"txs"`
}

type AddPoolTx struct {
	PoolID   uint32      `json:"pool_id"`
	Amount0  natmath.Nat `json:"amount_0"`
	Amount1  natmath.Nat `json:"amount_1"`
	LPFeeBps uint32      `json:"lp_fee_bps"`
	LPAmount natmath.Nat `json:"add_lp_token_amount"`
}

type AddLiquidityTx struct {
	PoolID   uint32      `json:"pool_id"`
	Amount0  natmath.Nat `json:"amount_0"`
	Amount1  natmath.Nat `json:"amount_1"`
	LPAmount natmath.Nat `json:"add_lp_token_amount"`
}

type RemoveLiquidityTx struct {
	PoolID   uint32      `json:"pool_id"`
	Amount0  natmath.Nat `json:"amount_0"`
	Amount1  natmath.Nat `json:"amount_1"`
	LPAmount natmath.Nat `json:"remove_lp_token_amount"`
}

type SendTx struct {
	TokenID  uint32      `json:"token_id"`
	Amount   natmath.Nat `json:"amount"`
	ToUserID uint32      `json:"to_user_id"`
}

func (SwapTx) Kind() RequestKind            { return KindSwap }
func (AddPoolTx) Kind() RequestKind         { return KindAddPool }
func (AddLiquidityTx) Kind() RequestKind    { return KindAddLiquidity }
func (RemoveLiquidityTx) Kind() RequestKind { return KindRemoveLiquidity }
func (SendTx) Kind() RequestKind            { return KindSend }

// Tx is the queryable outcome of a request.
type Tx struct {
	ID          uint64     `json:"tx_id"`
	UserID      uint32     `json:"user_id"`
	RequestID   uint64     `json:"request_id"`
	Status      StatusCode `json:"status"`
	Body        TxBody     `json:"-"`
	TransferIDs []uint64   `json:"transfer_ids"`
	ClaimIDs    []uint64   `json:"claim_ids"`
	TS          time.Time  `json:"ts"`
}

type txJSON struct {
	ID          uint64          `json:"tx_id"`
	UserID      uint32          `json:"user_id"`
	RequestID   uint64          `json:"request_id"`
	Status      StatusCode      `json:"status"`
	Kind        RequestKind     `json:"kind"`
	Body        json.RawMessage `json:"body"`
	TransferIDs []uint64        `json:"transfer_ids"`
	ClaimIDs    []uint64        `json:"claim_ids"`
	TS          time.Time       `json:"ts"`
}

func (t Tx) MarshalJSON() ([]byte, error) {
	if t.Body == nil {
		return nil, fmt.Errorf("tx #%d has no body", t.ID)
	}
	body, err := json.Marshal(t.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(txJSON{
		ID:          t.ID,
		UserID:      t.UserID,
		RequestID:   t.RequestID,
		Status:      t.Status,
		Kind:        t.Body.Kind(),
		Body:        body,
		TransferIDs: t.TransferIDs,
		ClaimIDs:    t.ClaimIDs,
		TS:          t.TS,
	})
}

func (t *Tx) UnmarshalJSON(data []byte) error {
	var raw txJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var (
		body TxBody
		err  error
	)
	switch raw.Kind {
	case KindSwap:
		body, err = decodeBody[SwapTx](raw.Body)
	case KindAddPool:
		body, err = decodeBody[AddPoolTx](raw.Body)
	case KindAddLiquidity:
		body, err = decodeBody[AddLiquidityTx](raw.Body)
	case KindRemoveLiquidity:
		body, err = decodeBody[RemoveLiquidityTx](raw.Body)
	case KindSend:
		body, err = decodeBody[SendTx](raw.Body)
	default:
		return fmt.Errorf("tx #%d: unknown kind %q", raw.ID, raw.Kind)
	}
	if err != nil {
		return fmt.Errorf("tx #%d: %w", raw.ID, err)
	}
	*t = Tx{
		ID:          raw.ID,
		UserID:      raw.UserID,
		RequestID:   raw.RequestID,
		Status:      raw.Status,
		Body:        body,
		TransferIDs: raw.TransferIDs,
		ClaimIDs:    raw.ClaimIDs,
		TS:          raw.TS,
	}
	return nil
}

func decodeBody[T TxBody](raw json.RawMessage) (TxBody, error) {
	var b T
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return b, nil
}

// InsertTx records the outcome of a request.
func (l *Ledger) InsertTx(ctx context.Context, t Tx) (Tx, error) {
	id, err := l.nextID(ctx, keyTxsSeq)
	if err != nil {
		return Tx{}, err
	}
	t.ID = id
	t.TS = l.now()
	if t.TransferIDs == nil {
		t.TransferIDs = []uint64{}
	}
	if t.ClaimIDs == nil {
		t.ClaimIDs = []uint64{}
	}
	if err := l.put(ctx, keyTxs, id, t); err != nil {
		return Tx{}, err
	}
	if err := l.index(ctx, indexKey(keyTxsByUser, uint64(t.UserID)), id); err != nil {
		return Tx{}, err
	}
	if err := l.store.Set(ctx, indexKey(keyTxByRequest, t.RequestID), []byte(field(id))); err != nil {
		return Tx{}, fmt.Errorf("index tx #%d by request: %w", id, err)
	}
	return t, nil
}

func (l *Ledger) GetTx(ctx context.Context, id uint64) (Tx, error) {
	return get[Tx](ctx, l.store, keyTxs, id)
}

// TxsByUser lists a user's transactions, oldest first.
func (l *Ledger) TxsByUser(ctx context.Context, userID uint32) ([]Tx, error) {
	return listed(ctx, l.store, indexKey(keyTxsByUser, uint64(userID)), l.GetTx)
}

// TxByRequest returns the transaction recorded for a request.
func (l *Ledger) TxByRequest(ctx context.Context, requestID uint64) (Tx, error) {
	raw, err := l.store.Get(ctx, indexKey(keyTxByRequest, requestID))
	if errors.Is(err, kv.ErrNotFound) {
		return Tx{}, fmt.Errorf("%w: tx for request #%d", ErrNotFound, requestID)
	}
	if err != nil {
		return Tx{}, fmt.Errorf("read tx index for request #%d: %w", requestID, err)
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return Tx{}, fmt.Errorf("corrupt tx index for request #%d: %q", requestID, raw)
	}
	return l.GetTx(ctx, id)
}
