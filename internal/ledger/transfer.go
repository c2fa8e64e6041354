package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/pkg/kv"
)

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Transfer is an append-only record of value crossing the exchange boundary.
type Transfer struct {
	ID        uint64      `json:"transfer_id"`
	RequestID uint64      `json:"request_id"`
	Direction Direction   `json:"direction"`
	TokenID   uint32      `json:"token_id"`
	Amount    natmath.Nat `json:"amount"`
	TxRef     string      `json:"tx_id"`
	TS        time.Time   `json:"ts"`
}

// transferIndexField is the uniqueness key for incoming transfers. Outgoing
// transfers (payouts and refunds) are never indexed, so a refund can never
// collide with the deposit it returns.
func transferIndexField(tokenID uint32, txRef string) string {
	return string(DirectionIn) + ":" + strconv.FormatUint(uint64(tokenID), 10) + ":" + txRef
}

// InsertTransfer appends a transfer. An incoming transfer whose
// (token, tx ref) pair was already recorded fails with ErrDuplicateTransfer;
// the check and the reservation are one atomic HSetNX.
func (l *Ledger) InsertTransfer(ctx context.Context, t Transfer) (Transfer, error) {
	id, err := l.nextID(ctx, keyTransfersSeq)
	if err != nil {
		return Transfer{}, err
	}
	t.ID = id
	t.TS = l.now()

	if t.Direction == DirectionIn {
		ok, err := l.store.HSetNX(ctx, keyTransferIndex, transferIndexField(t.TokenID, t.TxRef), []byte(field(id)))
		if err != nil {
			return Transfer{}, fmt.Errorf("reserve transfer index: %w", err)
		}
		if !ok {
			l.logger.Warnw("Duplicate incoming transfer rejected", "requestId", t.RequestID, "tokenId", t.TokenID, "txId", t.TxRef)
			return Transfer{}, fmt.Errorf("%w: token %d tx %s", ErrDuplicateTransfer, t.TokenID, t.TxRef)
		}
	}

	if err := l.put(ctx, keyTransfers, id, t); err != nil {
		return Transfer{}, err
	}
	if err := l.index(ctx, indexKey(keyTransfersByRequest, t.RequestID), id); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

// TransferExists reports whether an incoming transfer with this reference was recorded.
func (l *Ledger) TransferExists(ctx context.Context, tokenID uint32, txRef string) (bool, error) {
	_, err := l.store.HGet(ctx, keyTransferIndex, transferIndexField(tokenID, txRef))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read transfer index: %w", err)
	}
	return true, nil
}

func (l *Ledger) GetTransfer(ctx context.Context, id uint64) (Transfer, error) {
	return get[Transfer](ctx, l.store, keyTransfers, id)
}

// TransfersByRequest lists the transfers recorded for a request, oldest first.
func (l *Ledger) TransfersByRequest(ctx context.Context, requestID uint64) ([]Transfer, error) {
	return listed(ctx, l.store, indexKey(keyTransfersByRequest, requestID), l.GetTransfer)
}
