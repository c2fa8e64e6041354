package settlement

import (
	"time"

	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/swapcalc"
	"github.com/shopspring/decimal"
)

// SwapRequest is a caller's instruction to swap a deposit they already made.
type SwapRequest struct {
	// Caller is the authenticated principal. Refunds always go back to it.
	Caller       string
	PayToken     string
	PayAmount    natmath.Nat
	PayTxRef     string
	ReceiveToken string
	// ReceiveAmountMin rejects fills below this amount.
	ReceiveAmountMin *natmath.Nat
	// MaxSlippageBps overrides the configured default.
	MaxSlippageBps *uint32
	// ReceiveAddress defaults to the caller's principal when empty.
	ReceiveAddress string
	ReferredBy     string
}

type TransferRef struct {
	TransferID uint64           `json:"transfer_id"`
	Direction  ledger.Direction `json:"direction"`
	TokenID    uint32           `json:"token_id"`
	Amount     natmath.Nat      `json:"amount"`
	TxRef      string           `json:"tx_id"`
}

func transferRef(t ledger.Transfer) TransferRef {
	return TransferRef{TransferID: t.ID, Direction: t.Direction, TokenID: t.TokenID, Amount: t.Amount, TxRef: t.TxRef}
}

// SwapReply is stored as the request's reply and returned to the caller. On a
// failed request it carries whatever was known when the request stopped.
type SwapReply struct {
	TxID          uint64            `json:"tx_id"`
	RequestID     uint64            `json:"request_id"`
	Status        ledger.StatusCode `json:"status"`
	PayChain      string            `json:"pay_chain"`
	PaySymbol     string            `json:"pay_symbol"`
	PayAmount     natmath.Nat       `json:"pay_amount"`
	ReceiveChain  string            `json:"receive_chain"`
	ReceiveSymbol string            `json:"receive_symbol"`
	ReceiveAmount natmath.Nat       `json:"receive_amount"`
	MidPrice      decimal.Decimal   `json:"mid_price"`
	Price         decimal.Decimal   `json:"price"`
	Slippage      decimal.Decimal   `json:"slippage"`
	Txs           []swapcalc.Leg    `json:"txs"`
	TransferIDs   []TransferRef     `json:"transfer_ids"`
	ClaimIDs      []uint64          `json:"claim_ids"`
	TS            time.Time         `json:"ts"`
}

// SwapAmountsReply is a read-only quote.
type SwapAmountsReply struct {
	PayChain       string          `json:"pay_chain"`
	PaySymbol      string          `json:"pay_symbol"`
	PayAddress     string          `json:"pay_address"`
	PayAmount      natmath.Nat     `json:"pay_amount"`
	ReceiveChain   string          `json:"receive_chain"`
	ReceiveSymbol  string          `json:"receive_symbol"`
	ReceiveAddress string          `json:"receive_address"`
	ReceiveAmount  natmath.Nat     `json:"receive_amount"`
	Price          decimal.Decimal `json:"price"`
	MidPrice       decimal.Decimal `json:"mid_price"`
	Slippage       decimal.Decimal `json:"slippage"`
	Txs            []swapcalc.Leg  `json:"txs"`
}

type AddPoolRequest struct {
	Caller   string
	Token0   string
	Amount0  natmath.Nat
	Token1   string
	Amount1  natmath.Nat
	LPFeeBps uint32
}

type AddPoolReply struct {
	TxID          uint64            `json:"tx_id"`
	RequestID     uint64            `json:"request_id"`
	Status        ledger.StatusCode `json:"status"`
	PoolID        uint32            `json:"pool_id"`
	Symbol        string            `json:"symbol"`
	Amount0       natmath.Nat       `json:"amount_0"`
	Amount1       natmath.Nat       `json:"amount_1"`
	LPFeeBps      uint32            `json:"lp_fee_bps"`
	LPTokenSymbol string            `json:"lp_token_symbol"`
	LPTokenAmount natmath.Nat       `json:"add_lp_token_amount"`
	TS            time.Time         `json:"ts"`
}
