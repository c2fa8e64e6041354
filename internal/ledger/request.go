package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kongswap/kong-backend/internal/address"
	"github.com/kongswap/kong-backend/internal/natmath"
)

// RequestKind tags the variant held by a Request's payload.
type RequestKind string

const (
	KindSwap            RequestKind = "swap"
	KindAddPool         RequestKind = "add_pool"
	KindAddLiquidity    RequestKind = "add_liquidity"
	KindRemoveLiquidity RequestKind = "remove_liquidity"
	KindSend            RequestKind = "send"
	KindClaim           RequestKind = "claim"
)

// Payload is one of SwapArgs, AddPoolArgs, AddLiquidityArgs,
// RemoveLiquidityArgs, SendArgs or ClaimArgs.
type Payload interface {
	Kind() RequestKind
}

type SwapArgs struct {
	PayToken         string           `json:"pay_token"`
	PayAmount        natmath.Nat      `json:"pay_amount"`
	PayTxRef         string           `json:"pay_tx_id"`
	ReceiveToken     string           `json:"receive_token"`
	ReceiveAmountMin *natmath.Nat     `json:"receive_amount,omitempty"`
	MaxSlippageBps   *uint32          `json:"max_slippage_bps,omitempty"`
	ReceiveAddress   *address.Address `json:"receive_address,omitempty"`
	ReferredBy       string           `json:"referred_by,omitempty"`
}

type AddPoolArgs struct {
	Token0   string      `json:"token_0"`
	Amount0  natmath.Nat `json:"amount_0"`
	Token1   string      `json:"token_1"`
	Amount1  natmath.Nat `json:"amount_1"`
	LPFeeBps uint32      `json:"lp_fee_bps"`
}

type AddLiquidityArgs struct {
	Token0  string      `json:"token_0"`
	Amount0 natmath.Nat `json:"amount_0"`
	Token1  string      `json:"token_1"`
	Amount1 natmath.Nat `json:"amount_1"`
}

type RemoveLiquidityArgs struct {
	Token0              string      `json:"token_0"`
	Token1              string      `json:"token_1"`
	RemoveLPTokenAmount natmath.Nat `json:"remove_lp_token_amount"`
}

type SendArgs struct {
	Token     string          `json:"token"`
	Amount    natmath.Nat     `json:"amount"`
	ToAddress address.Address `json:"to_address"`
}

type ClaimArgs struct {
	ClaimID uint64 `json:"claim_id"`
}

func (SwapArgs) Kind() RequestKind            { return KindSwap }
func (AddPoolArgs) Kind() RequestKind         { return KindAddPool }
func (AddLiquidityArgs) Kind() RequestKind    { return KindAddLiquidity }
func (RemoveLiquidityArgs) Kind() RequestKind { return KindRemoveLiquidity }
func (SendArgs) Kind() RequestKind            { return KindSend }
func (ClaimArgs) Kind() RequestKind           { return KindClaim }

// Request tracks one user operation end to end. Statuses only grow; nothing
// follows a terminal status.
type Request struct {
	ID       uint64          `json:"request_id"`
	UserID   uint32          `json:"user_id"`
	Payload  Payload         `json:"-"`
	Statuses []Status        `json:"statuses"`
	Reply    json.RawMessage `json:"reply,omitempty"`
	TS       time.Time       `json:"ts"`
}

// Last returns the most recent status.
func (r Request) Last() Status {
	if len(r.Statuses) == 0 {
		return Status{}
	}
	return r.Statuses[len(r.Statuses)-1]
}

// Finalized reports whether a terminal status has been recorded.
func (r Request) Finalized() bool {
	return r.Last().Code.Terminal()
}

type requestJSON struct {
	ID       uint64          `json:"request_id"`
	UserID   uint32          `json:"user_id"`
	Kind     RequestKind     `json:"kind"`
	Args     json.RawMessage `json:"args"`
	Statuses []Status        `json:"statuses"`
	Reply    json.RawMessage `json:"reply,omitempty"`
	TS       time.Time       `json:"ts"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	if r.Payload == nil {
		return nil, fmt.Errorf("request #%d has no payload", r.ID)
	}
	args, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(requestJSON{
		ID:       r.ID,
		UserID:   r.UserID,
		Kind:     r.Payload.Kind(),
		Args:     args,
		Statuses: r.Statuses,
		Reply:    r.Reply,
		TS:       r.TS,
	})
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var raw requestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := decodePayload(raw.Kind, raw.Args)
	if err != nil {
		return fmt.Errorf("request #%d: %w", raw.ID, err)
	}
	*r = Request{
		ID:       raw.ID,
		UserID:   raw.UserID,
		Payload:  payload,
		Statuses: raw.Statuses,
		Reply:    raw.Reply,
		TS:       raw.TS,
	}
	return nil
}

func decodePayload(kind RequestKind, args json.RawMessage) (Payload, error) {
	switch kind {
	case KindSwap:
		return decodeArgs[SwapArgs](args)
	case KindAddPool:
		return decodeArgs[AddPoolArgs](args)
	case KindAddLiquidity:
		return decodeArgs[AddLiquidityArgs](args)
	case KindRemoveLiquidity:
		return decodeArgs[RemoveLiquidityArgs](args)
	case KindSend:
		return decodeArgs[SendArgs](args)
	case KindClaim:
		return decodeArgs[ClaimArgs](args)
	default:
		return nil, fmt.Errorf("unknown request kind %q", kind)
	}
}

func decodeArgs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// InsertRequest records a new request with a Start status.
func (l *Ledger) InsertRequest(ctx context.Context, userID uint32, payload Payload) (Request, error) {
	id, err := l.nextID(ctx, keyRequestsSeq)
	if err != nil {
		return Request{}, err
	}
	ts := l.now()
	req := Request{
		ID:       id,
		UserID:   userID,
		Payload:  payload,
		Statuses: []Status{{Code: StatusStart, TS: ts}},
		TS:       ts,
	}
	if err := l.put(ctx, keyRequests, id, req); err != nil {
		return Request{}, err
	}
	if err := l.index(ctx, indexKey(keyRequestsByUser, uint64(userID)), id); err != nil {
		return Request{}, err
	}
	return req, nil
}

// AppendStatus adds a status to request id. It fails with ErrTerminalStatus
// once Success or Failed has been recorded.
func (l *Ledger) AppendStatus(ctx context.Context, id uint64, code StatusCode, message string) error {
	l.requestsMu.Lock()
	defer l.requestsMu.Unlock()

	req, err := get[Request](ctx, l.store, keyRequests, id)
	if err != nil {
		return err
	}
	if req.Finalized() {
		return fmt.Errorf("%w: request #%d is %s, cannot append %s", ErrTerminalStatus, id, req.Last().Code, code)
	}
	req.Statuses = append(req.Statuses, Status{Code: code, Message: message, TS: l.now()})
	return l.put(ctx, keyRequests, id, req)
}

// SetReply stores the reply payload. It is allowed after finalization.
func (l *Ledger) SetReply(ctx context.Context, id uint64, reply any) error {
	raw, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode reply for request #%d: %w", id, err)
	}

	l.requestsMu.Lock()
	defer l.requestsMu.Unlock()

	req, err := get[Request](ctx, l.store, keyRequests, id)
	if err != nil {
		return err
	}
	req.Reply = raw
	return l.put(ctx, keyRequests, id, req)
}

func (l *Ledger) GetRequest(ctx context.Context, id uint64) (Request, error) {
	return get[Request](ctx, l.store, keyRequests, id)
}

// RequestsByUser lists a user's requests, oldest first.
func (l *Ledger) RequestsByUser(ctx context.Context, userID uint32) ([]Request, error) {
	return listed(ctx, l.store, indexKey(keyRequestsByUser, uint64(userID)), l.GetRequest)
}
