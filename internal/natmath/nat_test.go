package natmath

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubUnderflow(t *testing.T) {
	_, err := FromUint64(5).Sub(FromUint64(6))
	require.ErrorIs(t, err, ErrUnderflow)

	out, err := FromUint64(6).Sub(FromUint64(6))
	require.NoError(t, err)
	assert.True(t, out.IsZero())
}

func TestDivByZero(t *testing.T) {
	_, err := FromUint64(1).Div(Zero())
	assert.ErrorIs(t, err, ErrDivideByZero)

	_, err = FromUint64(1).DivCeil(Zero())
	assert.ErrorIs(t, err, ErrDivideByZero)
}

func TestBeyondUint64(t *testing.T) {
	big := MustParse("340282366920938463463374607431768211456") // 2^128
	sq := big.Mul(big)
	back, err := sq.Div(big)
	require.NoError(t, err)
	assert.True(t, back.Equal(big))

	_, ok := big.Uint64()
	assert.False(t, ok)
}

func TestDivCeil(t *testing.T) {
	tests := []struct {
		a, b, want uint64
	}{
		{10, 3, 4},
		{9, 3, 3},
		{0, 7, 0},
		{1, 10_000, 1},
	}
	for _, tt := range tests {
		got, err := FromUint64(tt.a).DivCeil(FromUint64(tt.b))
		require.NoError(t, err)
		assert.Equal(t, FromUint64(tt.want).String(), got.String(), "%d/%d", tt.a, tt.b)
	}
}

func TestBpsOf(t *testing.T) {
	assert.Equal(t, "30", BpsOf(FromUint64(10_000), 30).String())
	assert.Equal(t, "0", BpsOf(FromUint64(333), 30).String())
	assert.Equal(t, "1", BpsOfCeil(FromUint64(333), 30).String())
}

func TestSplitBps(t *testing.T) {
	tests := []struct {
		bps  uint32
		hops int
		want uint32
	}{
		{30, 1, 30},
		{30, 2, 15},
		{31, 2, 16},
		{30, 3, 10},
		{31, 3, 11},
		{1, 3, 1},
		{0, 3, 0},
	}
	for _, tt := range tests {
		got := SplitBps(tt.bps, tt.hops)
		assert.Equal(t, tt.want, got, "bps=%d hops=%d", tt.bps, tt.hops)

		sum := got * uint32(tt.hops)
		assert.GreaterOrEqual(t, sum, tt.bps, "shares never under-charge")
		assert.LessOrEqual(t, sum-tt.bps, uint32(tt.hops-1), "overcharge bounded by hops-1")
	}
}

func TestParse(t *testing.T) {
	n, err := Parse("1_000_000")
	require.NoError(t, err)
	assert.Equal(t, "1000000", n.String())

	for _, bad := range []string{"", "-1", "1.5", "abc"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidNat, bad)
	}
}

func TestJSON(t *testing.T) {
	type wrap struct {
		Amount Nat `json:"amount"`
	}
	raw, err := json.Marshal(wrap{Amount: MustParse("18446744073709551617")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"18446744073709551617"}`, string(raw))

	var w wrap
	require.NoError(t, json.Unmarshal([]byte(`{"amount":42}`), &w))
	assert.Equal(t, "42", w.Amount.String())
}

func TestDecimalRoundTrip(t *testing.T) {
	n := FromUint64(150_000_000)
	d := n.Decimal(8)
	assert.True(t, decimal.RequireFromString("1.5").Equal(d))

	back, err := FromDecimal(d, 8)
	require.NoError(t, err)
	assert.True(t, back.Equal(n))

	_, err = FromDecimal(decimal.NewFromInt(-1), 8)
	assert.ErrorIs(t, err, ErrInvalidNat)
}
