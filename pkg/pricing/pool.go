package pricing

// DefaultSyntheticSupply is the default share denominator for the
// holdings-weighted spot price.
const DefaultSyntheticSupply = 10_000.0

// SignedSize returns +size for a long position and -size for a short,
// matching the holdings-weighted spot price formula's sign convention.
func SignedSize(side PerpSide, size float64) float64 {
	if side == Long {
		return size
	}
	return -size
}

// SpotPrice computes the holdings-weighted current price for a pool-backed
// ticker: current_price = (P0*S + sum(signed_size)) / S, clamped to
// [max(0.01, P0*0.01), P0*100].
func SpotPrice(p0, syntheticSupply, sumSignedSize float64) float64 {
	if syntheticSupply <= 0 {
		syntheticSupply = DefaultSyntheticSupply
	}
	raw := (p0*syntheticSupply + sumSignedSize) / syntheticSupply
	lo := p0 * 0.01
	if lo < 0.01 {
		lo = 0.01
	}
	hi := p0 * 100
	if raw < lo {
		return lo
	}
	if raw > hi {
		return hi
	}
	return raw
}
