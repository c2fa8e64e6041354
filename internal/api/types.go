package api

import (
	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID uint64 `json:"request_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// SwapRequestDTO is the body of POST /v1/swap and /v1/swap/async and the
// params of the swap JSON-RPC methods.
type SwapRequestDTO struct {
	PayToken       string       `json:"pay_token"`
	PayAmount      natmath.Nat  `json:"pay_amount"`
	PayTxID        string       `json:"pay_tx_id"`
	ReceiveToken   string       `json:"receive_token"`
	ReceiveAmount  *natmath.Nat `json:"receive_amount,omitempty"`
	ReceiveAddress string       `json:"receive_address,omitempty"`
	MaxSlippageBps *uint32      `json:"max_slippage_bps,omitempty"`
	ReferredBy     string       `json:"referred_by,omitempty"`

	// MaxSlippage is a percentage, e.g. "0.5"; mutually exclusive with MaxSlippageBps.
	MaxSlippage *decimal.Decimal `json:"max_slippage,omitempty"`
}

type SwapAsyncResponse struct {
	RequestID uint64 `json:"request_id"`
}

type QuoteParams struct {
	PayToken     string      `json:"pay_token"`
	PayAmount    natmath.Nat `json:"pay_amount"`
	ReceiveToken string      `json:"receive_token"`
}

type AddTokenRequest struct {
	Symbol   string      `json:"symbol"`
	Name     string      `json:"name"`
	Chain    string      `json:"chain"`
	Address  string      `json:"address"`
	Decimals uint8       `json:"decimals"`
	Fee      natmath.Nat `json:"fee"`
}

type AddPoolRequestDTO struct {
	Token0   string      `json:"token_0"`
	Amount0  natmath.Nat `json:"amount_0"`
	Token1   string      `json:"token_1"`
	Amount1  natmath.Nat `json:"amount_1"`
	LPFeeBps uint32      `json:"lp_fee_bps"`
}

type MaintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

type MaintenanceResponse struct {
	Enabled bool `json:"enabled"`
}

type RequestsParams struct {
	RequestID *uint64 `json:"request_id,omitempty"`
}

type ClaimParams struct {
	ClaimID *uint64 `json:"claim_id,omitempty"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
