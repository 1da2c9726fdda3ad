package pricing

import "simengine/pkg/engineerr"

// PerpSide identifies a perpetual position's directional exposure.
type PerpSide string

const (
	Long  PerpSide = "long"
	Short PerpSide = "short"
)

// DefaultMaintenanceMargin is used when a caller does not override m.
const DefaultMaintenanceMargin = 0.005

// UnrealizedPnL computes the pure P&L of an open position at the given
// mark price. size is notional in cash units; entry is the position's
// entry price.
func UnrealizedPnL(side PerpSide, entry, mark, size float64) float64 {
	if entry <= 0 {
		return 0
	}
	if side == Long {
		return (mark - entry) * size / entry
	}
	return (entry - mark) * size / entry
}

// LiquidationPrice computes the price at which a position's margin is
// exactly exhausted, given the maintenance margin fraction m.
func LiquidationPrice(side PerpSide, entry float64, leverage int, m float64) (float64, error) {
	if entry <= 0 {
		return 0, engineerr.New(engineerr.InvariantViolation, "pricing: entry price must be positive")
	}
	if leverage < 1 || leverage > 100 {
		return 0, engineerr.New(engineerr.LeverageOutOfRange, "pricing: leverage must be in [1,100]")
	}
	if m <= 0 {
		m = DefaultMaintenanceMargin
	}
	inv := 1.0 / float64(leverage)
	if side == Long {
		return entry * (1 - inv + m), nil
	}
	return entry * (1 + inv - m), nil
}

// IsLiquidatable reports whether mark has crossed liq in the adverse
// direction for side.
func IsLiquidatable(side PerpSide, mark, liq float64) bool {
	if side == Long {
		return mark <= liq
	}
	return mark >= liq
}

// FundingRate computes the funding rate from long/short open interest
// skew: funding_rate = k * (OI_long - OI_short) / (OI_long + OI_short + eps).
func FundingRate(k, oiLong, oiShort float64) float64 {
	const eps = 1e-9
	denom := oiLong + oiShort + eps
	return k * (oiLong - oiShort) / denom
}

// FundingPayment returns the signed cash amount a position accrues for one
// funding application at the given rate: positive when the position's
// holder receives funding, negative when it pays.
//
// When rate > 0, shorts receive and longs pay; when rate < 0, longs
// receive and shorts pay.
func FundingPayment(side PerpSide, rate, size float64) float64 {
	signed := rate * size
	if side == Long {
		return -signed
	}
	return signed
}
