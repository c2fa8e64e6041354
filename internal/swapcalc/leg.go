// Package swapcalc computes constant-product swap legs and multi-hop routes.
//
// The same functions serve read-only quotes (under a registry read snapshot)
// and settlement (inside registry.Update), so quoted and executed amounts
// cannot drift apart.
package swapcalc

import (
	"errors"
	"fmt"

	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/registry"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidPrice          = errors.New("invalid price")
	ErrNoRouteFound          = errors.New("no route found")
	ErrSameToken             = errors.New("pay and receive tokens are the same")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrReceiveAmountTooLow   = errors.New("receive amount below minimum")
)

const (
	// PriceScale is the number of decimal places prices and mid-prices are reported with.
	PriceScale = 8
	// SlippageScale is the number of decimal places slippage is reported with.
	SlippageScale = 2
)

// LegOptions overrides pool defaults for one leg of a route.
type LegOptions struct {
	// LPFeeBps replaces the pool's fee rate (used for the per-hop share of multi-hop routes).
	LPFeeBps *uint32
	// GasFee replaces the receive token's transfer fee. Intermediate legs use zero.
	GasFee *natmath.Nat
}

// Leg is one pool hop. ReceiveAmount is net of GasFee; the pool's receive side
// loses ReceiveAmount + GasFee and its pay side gains PayAmount - LPFee.
type Leg struct {
	PoolID        uint32          `json:"pool_id"`
	PoolSymbol    string          `json:"pool_symbol"`
	PayToken      uint32          `json:"pay_token_id"`
	PaySymbol     string          `json:"pay_symbol"`
	PayAmount     natmath.Nat     `json:"pay_amount"`
	ReceiveToken  uint32          `json:"receive_token_id"`
	ReceiveSymbol string          `json:"receive_symbol"`
	ReceiveAmount natmath.Nat     `json:"receive_amount"`
	LPFeeBps      uint32          `json:"lp_fee_bps"`
	LPFee         natmath.Nat     `json:"lp_fee"`
	GasFee        natmath.Nat     `json:"gas_fee"`
	Price         decimal.Decimal `json:"price"`
	MidPrice      decimal.Decimal `json:"mid_price"`
}

// PayNet is the amount credited to the pool's pay-side reserve.
func (l Leg) PayNet() natmath.Nat {
	out, _ := l.PayAmount.Sub(l.LPFee)
	return out
}

// Outflow is the amount debited from the pool's receive-side reserve.
func (l Leg) Outflow() natmath.Nat {
	return l.ReceiveAmount.Add(l.GasFee)
}

// ComputeLeg prices paying amount of payToken into pool.
func ComputeLeg(v registry.View, pool registry.Pool, payToken uint32, amount natmath.Nat, opts LegOptions) (Leg, error) {
	receiveToken := pool.Other(payToken)
	payTok, ok := v.Token(payToken)
	if !ok {
		return Leg{}, fmt.Errorf("%w: %d", registry.ErrTokenNotFound, payToken)
	}
	recvTok, ok := v.Token(receiveToken)
	if !ok {
		return Leg{}, fmt.Errorf("%w: %d", registry.ErrTokenNotFound, receiveToken)
	}

	reserveIn, reserveOut, err := pool.Reserves(payToken)
	if err != nil {
		return Leg{}, err
	}
	if amount.IsZero() {
		return Leg{}, fmt.Errorf("%w: pay amount is zero", ErrInsufficientLiquidity)
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return Leg{}, fmt.Errorf("%w: pool %s is empty", ErrInsufficientLiquidity, pool.LPTokenSymbol)
	}

	bps := pool.LPFeeBps
	if opts.LPFeeBps != nil {
		bps = *opts.LPFeeBps
	}
	lpFee := natmath.BpsOf(amount, bps)
	payNet, err := amount.Sub(lpFee)
	if err != nil {
		return Leg{}, err
	}

	// reserve_out * net / (reserve_in + net)
	gross, err := reserveOut.Mul(payNet).Div(reserveIn.Add(payNet))
	if err != nil {
		return Leg{}, err
	}
	if !gross.LessThan(reserveOut) {
		return Leg{}, fmt.Errorf("%w: output exceeds reserves", ErrInsufficientLiquidity)
	}

	gasFee := recvTok.Fee
	if opts.GasFee != nil {
		gasFee = *opts.GasFee
	}
	receive, err := gross.Sub(gasFee)
	if err != nil || receive.IsZero() {
		return Leg{}, fmt.Errorf("%w: receive amount %s does not cover gas fee %s", ErrInsufficientLiquidity, gross, gasFee)
	}

	price, err := ratio(receive, recvTok.Decimals, amount, payTok.Decimals)
	if err != nil {
		return Leg{}, err
	}
	mid, err := ratio(reserveOut, recvTok.Decimals, reserveIn, payTok.Decimals)
	if err != nil {
		return Leg{}, err
	}

	return Leg{
		PoolID:        pool.ID,
		PoolSymbol:    pool.LPTokenSymbol,
		PayToken:      payToken,
		PaySymbol:     payTok.ChainSymbol(),
		PayAmount:     amount,
		ReceiveToken:  receiveToken,
		ReceiveSymbol: recvTok.ChainSymbol(),
		ReceiveAmount: receive,
		LPFeeBps:      bps,
		LPFee:         lpFee,
		GasFee:        gasFee,
		Price:         price,
		MidPrice:      mid,
	}, nil
}

// ratio returns (num / 10^numDec) / (den / 10^denDec).
func ratio(num natmath.Nat, numDec uint8, den natmath.Nat, denDec uint8) (decimal.Decimal, error) {
	d := den.Decimal(denDec)
	if d.IsZero() {
		return decimal.Zero, ErrInvalidPrice
	}
	return num.Decimal(numDec).Div(d), nil
}

// Slippage returns (mid - price) / mid as a percentage, clamped at zero and
// not rounded.
func Slippage(price, mid decimal.Decimal) (decimal.Decimal, error) {
	if !mid.IsPositive() {
		return decimal.Zero, ErrInvalidPrice
	}
	s := mid.Sub(price).Div(mid).Mul(decimal.NewFromInt(100))
	if s.IsNegative() {
		return decimal.Zero, nil
	}
	return s, nil
}
