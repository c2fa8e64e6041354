package natmath

// BasisPointDivisor is 100% expressed in basis points.
const BasisPointDivisor = 10_000

var bpsDivisor = FromUint64(BasisPointDivisor)

// BpsOf returns floor(amount * bps / 10_000).
func BpsOf(amount Nat, bps uint32) Nat {
	out, _ := amount.Mul(FromUint64(uint64(bps))).Div(bpsDivisor)
	return out
}

// BpsOfCeil returns ceil(amount * bps / 10_000).
func BpsOfCeil(amount Nat, bps uint32) Nat {
	out, _ := amount.Mul(FromUint64(uint64(bps))).DivCeil(bpsDivisor)
	return out
}

// SplitBps divides a fee rate across hops, rounding each share up so the
// shares never sum to less than bps. hops < 1 is treated as 1.
func SplitBps(bps uint32, hops int) uint32 {
	if hops <= 1 {
		return bps
	}
	k := uint32(hops)
	return (bps + k - 1) / k
}
