package swapcalc

import (
	"fmt"

	"github.com/kongswap/kong-backend/internal/natmath"
	"github.com/kongswap/kong-backend/internal/registry"
	"github.com/shopspring/decimal"
)

// Bridges are the two high-liquidity intermediate tokens multi-hop routes may
// pass through. Primary wins ties between equally good 2-hop routes.
type Bridges struct {
	Primary   uint32
	Secondary uint32
}

func (b Bridges) ordered() []uint32 {
	out := make([]uint32, 0, 2)
	if b.Primary != 0 {
		out = append(out, b.Primary)
	}
	if b.Secondary != 0 && b.Secondary != b.Primary {
		out = append(out, b.Secondary)
	}
	return out
}

// Route is a complete pay -> receive path of one to three legs.
type Route struct {
	PayToken      uint32          `json:"pay_token_id"`
	PayAmount     natmath.Nat     `json:"pay_amount"`
	ReceiveToken  uint32          `json:"receive_token_id"`
	ReceiveAmount natmath.Nat     `json:"receive_amount"`
	Legs          []Leg           `json:"txs"`
	Price         decimal.Decimal `json:"price"`
	MidPrice      decimal.Decimal `json:"mid_price"`
	Slippage      decimal.Decimal `json:"slippage"`

	// exactSlippage is Slippage before rounding; limits are checked against it.
	exactSlippage decimal.Decimal
}

// Hops is the number of pools the route passes through.
func (r Route) Hops() int { return len(r.Legs) }

// FindRoute picks the route for paying amount of pay to receive recv:
//  1. a direct pool (stored in either token order)
//  2. two hops through a bridge token, best output wins, ties go to the primary bridge
//  3. three hops pay -> primary -> secondary -> recv, then pay -> secondary -> primary -> recv
//
// The asymmetric two-hop cases (paying or receiving a bridge token whose own
// pool goes through the other bridge) are covered by step 2 because pool
// lookup ignores token order.
func FindRoute(v registry.View, bridges Bridges, pay, recv uint32, amount natmath.Nat) (Route, error) {
	if pay == recv {
		return Route{}, ErrSameToken
	}

	if _, ok := v.PoolBetween(pay, recv); ok {
		return computePath(v, []uint32{pay, recv}, amount)
	}

	var (
		best     *Route
		firstErr error
	)
	for _, bridge := range bridges.ordered() {
		if bridge == pay || bridge == recv {
			continue
		}
		path := []uint32{pay, bridge, recv}
		if !pathExists(v, path) {
			continue
		}
		route, err := computePath(v, path, amount)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if best == nil || route.ReceiveAmount.Cmp(best.ReceiveAmount) > 0 {
			r := route
			best = &r
		}
	}
	if best != nil {
		return *best, nil
	}
	if firstErr != nil {
		return Route{}, firstErr
	}

	if bridges.Primary != 0 && bridges.Secondary != 0 && bridges.Primary != bridges.Secondary {
		for _, path := range [][]uint32{
			{pay, bridges.Primary, bridges.Secondary, recv},
			{pay, bridges.Secondary, bridges.Primary, recv},
		} {
			if !distinct(path) || !pathExists(v, path) {
				continue
			}
			return computePath(v, path, amount)
		}
	}

	return Route{}, fmt.Errorf("%w: token %d -> token %d", ErrNoRouteFound, pay, recv)
}

func distinct(path []uint32) bool {
	seen := make(map[uint32]struct{}, len(path))
	for _, id := range path {
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

func pathExists(v registry.View, path []uint32) bool {
	for i := 0; i+1 < len(path); i++ {
		if _, ok := v.PoolBetween(path[i], path[i+1]); !ok {
			return false
		}
	}
	return true
}

// computePath chains legs along path. Each leg's fee is the pool's rate split
// with natmath.SplitBps across the hop count; only the final leg pays gas.
func computePath(v registry.View, path []uint32, amount natmath.Nat) (Route, error) {
	hops := len(path) - 1
	legs := make([]Leg, 0, hops)
	price := decimal.NewFromInt(1)
	mid := decimal.NewFromInt(1)
	zero := natmath.Zero()

	in := amount
	for i := 0; i < hops; i++ {
		pool, ok := v.PoolBetween(path[i], path[i+1])
		if !ok {
			return Route{}, fmt.Errorf("%w: token %d -> token %d", registry.ErrPoolNotFound, path[i], path[i+1])
		}

		var opts LegOptions
		if hops > 1 {
			share := natmath.SplitBps(pool.LPFeeBps, hops)
			opts.LPFeeBps = &share
		}
		if i < hops-1 {
			opts.GasFee = &zero
		}

		leg, err := ComputeLeg(v, pool, path[i], in, opts)
		if err != nil {
			return Route{}, err
		}
		legs = append(legs, leg)
		price = price.Mul(leg.Price)
		mid = mid.Mul(leg.MidPrice)
		in = leg.ReceiveAmount
	}

	slippage, err := Slippage(price, mid)
	if err != nil {
		return Route{}, err
	}

	return Route{
		PayToken:      path[0],
		PayAmount:     amount,
		ReceiveToken:  path[hops],
		ReceiveAmount: in,
		Legs:          legs,
		Price:         price.Round(PriceScale),
		MidPrice:      mid.Round(PriceScale),
		Slippage:      slippage.Round(SlippageScale),
		exactSlippage: slippage,
	}, nil
}
