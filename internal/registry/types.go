package registry

import (
	"fmt"

	"github.com/kongswap/kong-backend/internal/natmath"
)

// Token is immutable once registered apart from the IsRemoved flag.
type Token struct {
	ID        uint32      `json:"token_id"`
	Symbol    string      `json:"symbol"`
	Name      string      `json:"name"`
	Chain     string      `json:"chain"`
	Address   string      `json:"address"`
	Decimals  uint8       `json:"decimals"`
	Fee       natmath.Nat `json:"fee"`
	IsRemoved bool        `json:"is_removed"`
}

// ChainSymbol is the qualified form used in replies, e.g. "IC.ckUSDT".
func (t Token) ChainSymbol() string {
	return t.Chain + "." + t.Symbol
}

// Pool holds reserves for an ordered token pair. Balances change only through
// Registry.Update and the pool administration methods.
type Pool struct {
	ID            uint32      `json:"pool_id"`
	Token0        uint32      `json:"token_id_0"`
	Token1        uint32      `json:"token_id_1"`
	Balance0      natmath.Nat `json:"balance_0"`
	Balance1      natmath.Nat `json:"balance_1"`
	LPFee0        natmath.Nat `json:"lp_fee_0"`
	LPFee1        natmath.Nat `json:"lp_fee_1"`
	LPFeeBps      uint32      `json:"lp_fee_bps"`
	LPTokenSymbol string      `json:"lp_token_symbol"`
	LPTotalSupply natmath.Nat `json:"lp_total_supply"`
	IsRemoved     bool        `json:"is_removed"`
}

// Has reports whether the pool trades token id.
func (p Pool) Has(id uint32) bool {
	return p.Token0 == id || p.Token1 == id
}

// Other returns the counterpart of id in the pair.
func (p Pool) Other(id uint32) uint32 {
	if p.Token0 == id {
		return p.Token1
	}
	return p.Token0
}

// Reserves returns (reserve_in, reserve_out) for a trade paying payToken.
func (p Pool) Reserves(payToken uint32) (in, out natmath.Nat, err error) {
	switch payToken {
	case p.Token0:
		return p.Balance0, p.Balance1, nil
	case p.Token1:
		return p.Balance1, p.Balance0, nil
	default:
		return natmath.Nat{}, natmath.Nat{}, fmt.Errorf("%w: token %d not in pool %d", ErrPoolNotFound, payToken, p.ID)
	}
}

// PoolDelta describes one atomic reserve change. Debits use checked subtraction.
type PoolDelta struct {
	Credit0 natmath.Nat
	Debit0  natmath.Nat
	Credit1 natmath.Nat
	Debit1  natmath.Nat
	LPFee0  natmath.Nat
	LPFee1  natmath.Nat
}

// SwapDelta builds the delta for a trade paying payToken into the pool.
// The pay side gains payNet and its lp fee; the receive side loses out.
func SwapDelta(p Pool, payToken uint32, payNet, lpFee, out natmath.Nat) (PoolDelta, error) {
	switch payToken {
	case p.Token0:
		return PoolDelta{Credit0: payNet, LPFee0: lpFee, Debit1: out}, nil
	case p.Token1:
		return PoolDelta{Credit1: payNet, LPFee1: lpFee, Debit0: out}, nil
	default:
		return PoolDelta{}, fmt.Errorf("%w: token %d not in pool %d", ErrPoolNotFound, payToken, p.ID)
	}
}

func (p Pool) apply(d PoolDelta) (Pool, error) {
	b0, err := p.Balance0.Add(d.Credit0).Sub(d.Debit0)
	if err != nil {
		return Pool{}, fmt.Errorf("pool %d balance_0: %w", p.ID, err)
	}
	b1, err := p.Balance1.Add(d.Credit1).Sub(d.Debit1)
	if err != nil {
		return Pool{}, fmt.Errorf("pool %d balance_1: %w", p.ID, err)
	}
	p.Balance0 = b0
	p.Balance1 = b1
	p.LPFee0 = p.LPFee0.Add(d.LPFee0)
	p.LPFee1 = p.LPFee1.Add(d.LPFee1)
	return p, nil
}
