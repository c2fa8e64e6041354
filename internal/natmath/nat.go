// Package natmath implements the non-negative arbitrary precision integers used
// for every token amount, reserve and fee in the exchange.
//
// A Nat is immutable: every operation returns a new value and never aliases the
// receiver's storage, so Nats can be copied freely between records.
package natmath

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnderflow    = errors.New("underflow")
	ErrDivideByZero = errors.New("divide by zero")
	ErrInvalidNat   = errors.New("invalid natural number")
)

// Nat is a non-negative integer of unbounded size. The zero value is 0.
type Nat struct {
	v *big.Int
}

func Zero() Nat { return Nat{} }

func FromUint64(n uint64) Nat {
	return Nat{v: new(big.Int).SetUint64(n)}
}

// FromBig copies b. Negative inputs are rejected.
func FromBig(b *big.Int) (Nat, error) {
	if b == nil {
		return Nat{}, nil
	}
	if b.Sign() < 0 {
		return Nat{}, fmt.Errorf("%w: %s", ErrInvalidNat, b.String())
	}
	return Nat{v: new(big.Int).Set(b)}, nil
}

// Parse accepts base-10 digits, optionally with '_' separators.
func Parse(s string) (Nat, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if clean == "" {
		return Nat{}, fmt.Errorf("%w: empty", ErrInvalidNat)
	}
	b, ok := new(big.Int).SetString(clean, 10)
	if !ok || b.Sign() < 0 {
		return Nat{}, fmt.Errorf("%w: %q", ErrInvalidNat, s)
	}
	return Nat{v: b}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Nat {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

func (n Nat) big() *big.Int {
	if n.v == nil {
		return new(big.Int)
	}
	return n.v
}

func (n Nat) IsZero() bool {
	return n.v == nil || n.v.Sign() == 0
}

func (n Nat) Cmp(o Nat) int {
	return n.big().Cmp(o.big())
}

func (n Nat) Equal(o Nat) bool { return n.Cmp(o) == 0 }

func (n Nat) LessThan(o Nat) bool { return n.Cmp(o) < 0 }

func (n Nat) Add(o Nat) Nat {
	return Nat{v: new(big.Int).Add(n.big(), o.big())}
}

// Sub returns n - o and fails with ErrUnderflow instead of wrapping.
func (n Nat) Sub(o Nat) (Nat, error) {
	if n.Cmp(o) < 0 {
		return Nat{}, fmt.Errorf("%w: %s - %s", ErrUnderflow, n, o)
	}
	return Nat{v: new(big.Int).Sub(n.big(), o.big())}, nil
}

func (n Nat) Mul(o Nat) Nat {
	return Nat{v: new(big.Int).Mul(n.big(), o.big())}
}

// Div is floor division.
func (n Nat) Div(o Nat) (Nat, error) {
	if o.IsZero() {
		return Nat{}, ErrDivideByZero
	}
	return Nat{v: new(big.Int).Quo(n.big(), o.big())}, nil
}

// DivCeil rounds the quotient up.
func (n Nat) DivCeil(o Nat) (Nat, error) {
	if o.IsZero() {
		return Nat{}, ErrDivideByZero
	}
	q, r := new(big.Int).QuoRem(n.big(), o.big(), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return Nat{v: q}, nil
}

func (n Nat) Uint64() (uint64, bool) {
	b := n.big()
	if !b.IsUint64() {
		return 0, false
	}
	return b.Uint64(), true
}

func (n Nat) String() string {
	return n.big().String()
}

// Decimal converts n to a decimal scaled down by 10^decimals.
func (n Nat) Decimal(decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(n.big(), -int32(decimals))
}

// FromDecimal scales d up by 10^decimals and truncates. Negative values are rejected.
func FromDecimal(d decimal.Decimal, decimals uint8) (Nat, error) {
	if d.IsNegative() {
		return Nat{}, fmt.Errorf("%w: %s", ErrInvalidNat, d.String())
	}
	return FromBig(d.Shift(int32(decimals)).Truncate(0).BigInt())
}

// Nats travel as JSON strings so amounts above 2^53 survive JavaScript clients.
func (n Nat) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

func (n *Nat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// bare numbers are accepted too
		var num json.Number
		if err2 := json.Unmarshal(data, &num); err2 != nil {
			return fmt.Errorf("%w: %s", ErrInvalidNat, string(data))
		}
		s = num.String()
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

func (n Nat) MarshalYAML() (interface{}, error) {
	return n.String(), nil
}

// Sqrt returns floor(sqrt(n)).
func (n Nat) Sqrt() Nat {
	return Nat{v: new(big.Int).Sqrt(n.big())}
}
