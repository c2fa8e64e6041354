package swapcalc

import (
	"fmt"

	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/registry"
	"github.com/shopspring/decimal"
)

// Limits are the caller's protection against an unfavourable fill.
type Limits struct {
	// MinReceive rejects routes delivering less than this amount.
	MinReceive *natmath.Nat
	// MaxSlippageBps rejects routes whose slippage percentage exceeds bps/100.
	// Zero disables the check.
	MaxSlippageBps uint32
}

// Check validates r against the limits.
func (l Limits) Check(r Route) error {
	if l.MinReceive != nil && r.ReceiveAmount.LessThan(*l.MinReceive) {
		return fmt.Errorf("%w: %s < %s", ErrReceiveAmountTooLow, r.ReceiveAmount, *l.MinReceive)
	}
	if l.MaxSlippageBps > 0 {
		maxPct := decimal.New(int64(l.MaxSlippageBps), -2)
		if r.exactSlippage.GreaterThan(maxPct) {
			return fmt.Errorf("%w: %s%% > %s%%", ErrSlippageExceeded, r.exactSlippage.StringFixed(4), maxPct.StringFixed(2))
		}
	}
	return nil
}

// ExecuteRoute recomputes the route against the transaction's current reserves,
// checks limits, and applies every leg. It must run inside registry.Update so
// the reserves it prices against are the ones it writes.
func ExecuteRoute(tx *registry.Tx, bridges Bridges, pay, recv uint32, amount natmath.Nat, limits Limits) (Route, error) {
	route, err := FindRoute(tx, bridges, pay, recv, amount)
	if err != nil {
		return Route{}, err
	}
	if err := limits.Check(route); err != nil {
		return Route{}, err
	}
	for _, leg := range route.Legs {
		pool, ok := tx.PoolBetween(leg.PayToken, leg.ReceiveToken)
		if !ok || pool.ID != leg.PoolID {
			return Route{}, fmt.Errorf("%w: %d", registry.ErrPoolNotFound, leg.PoolID)
		}
		delta, err := registry.SwapDelta(pool, leg.PayToken, leg.PayNet(), leg.LPFee, leg.Outflow())
		if err != nil {
			return Route{}, err
		}
		if err := tx.MutatePool(leg.PoolID, delta); err != nil {
			return Route{}, err
		}
	}
	return route, nil
}
