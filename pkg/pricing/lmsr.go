// Package pricing implements the engine's pure price math: LMSR share
// pricing for prediction markets, funding/liquidation math for perpetual
// futures, and holdings-weighted spot pricing for pool-backed tickers. No
// component in this package performs I/O.
package pricing

import (
	"math"

	"simengine/pkg/engineerr"
)

// Side identifies which outcome of a binary prediction market a quote or
// position refers to.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

const (
	bisectionTolerance = 1e-9
	bisectionMaxIter   = 64
)

// cost evaluates the LMSR cost function C = b*ln(e^(qYes/b) + e^(qNo/b)).
// Computed in a shifted form to avoid overflow for large q/b.
func cost(qYes, qNo, b float64) float64 {
	m := math.Max(qYes, qNo) / b
	sum := math.Exp(qYes/b-m) + math.Exp(qNo/b-m)
	return b * (m + math.Log(sum))
}

// Prices returns (priceYes, priceNo) for the given market state. The two
// always sum to 1 by construction.
func Prices(qYes, qNo, b float64) (priceYes, priceNo float64) {
	m := math.Max(qYes, qNo) / b
	eYes := math.Exp(qYes/b - m)
	eNo := math.Exp(qNo/b - m)
	priceYes = eYes / (eYes + eNo)
	return priceYes, 1 - priceYes
}

// Quote is the result of a trade against the LMSR market maker.
type Quote struct {
	Shares   float64 // shares acquired; never negative (negative inputs are rejected)
	Cash     float64 // cash cost, strictly positive for a non-zero trade
	NewQYes  float64
	NewQNo   float64
	NewPYes  float64
	NewPNo   float64
}

// QuoteShares computes the cash cost of buying sharesIn shares of side, and
// returns the resulting market state. sharesIn == 0 is a no-op: zero cash,
// unchanged state.
func QuoteShares(qYes, qNo, b float64, side Side, sharesIn float64) (Quote, error) {
	if b <= 0 {
		return Quote{}, engineerr.New(engineerr.InvariantViolation, "pricing: liquidity parameter b must be positive")
	}
	if sharesIn == 0 {
		py, pn := Prices(qYes, qNo, b)
		return Quote{NewQYes: qYes, NewQNo: qNo, NewPYes: py, NewPNo: pn}, nil
	}
	if sharesIn < 0 {
		return Quote{}, engineerr.New(engineerr.InvariantViolation, "pricing: shares_in must be non-negative; use the opposite side to sell")
	}

	before := cost(qYes, qNo, b)
	newQYes, newQNo := qYes, qNo
	if side == SideYes {
		newQYes += sharesIn
	} else {
		newQNo += sharesIn
	}
	after := cost(newQYes, newQNo, b)
	cash := after - before
	if cash <= 0 {
		return Quote{}, engineerr.New(engineerr.InvariantViolation, "pricing: quoted cash must be strictly positive")
	}

	py, pn := Prices(newQYes, newQNo, b)
	return Quote{Shares: sharesIn, Cash: cash, NewQYes: newQYes, NewQNo: newQNo, NewPYes: py, NewPNo: pn}, nil
}

// QuoteCash computes how many shares of side cashIn currency buys, via
// bisection search on the monotone cost function, converging to
// bisectionTolerance within bisectionMaxIter iterations.
func QuoteCash(qYes, qNo, b float64, side Side, cashIn float64) (Quote, error) {
	if b <= 0 {
		return Quote{}, engineerr.New(engineerr.InvariantViolation, "pricing: liquidity parameter b must be positive")
	}
	if cashIn == 0 {
		py, pn := Prices(qYes, qNo, b)
		return Quote{NewQYes: qYes, NewQNo: qNo, NewPYes: py, NewPNo: pn}, nil
	}
	if cashIn < 0 {
		return Quote{}, engineerr.New(engineerr.InvariantViolation, "pricing: cash_in must be non-negative")
	}

	before := cost(qYes, qNo, b)
	target := before + cashIn

	// f(shares) = cost(q+shares on side) - target; monotone increasing in
	// shares, f(0) < 0, so bracket upward until f(hi) >= 0.
	f := func(shares float64) float64 {
		qy, qn := qYes, qNo
		if side == SideYes {
			qy += shares
		} else {
			qn += shares
		}
		return cost(qy, qn, b) - target
	}

	lo, hi := 0.0, 1.0
	for i := 0; i < bisectionMaxIter && f(hi) < 0; i++ {
		hi *= 2
	}

	var mid float64
	for i := 0; i < bisectionMaxIter; i++ {
		mid = (lo + hi) / 2
		v := f(mid)
		if math.Abs(v) < bisectionTolerance {
			break
		}
		if v < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}

	newQYes, newQNo := qYes, qNo
	if side == SideYes {
		newQYes += mid
	} else {
		newQNo += mid
	}
	py, pn := Prices(newQYes, newQNo, b)
	return Quote{Shares: mid, Cash: cashIn, NewQYes: newQYes, NewQNo: newQNo, NewPYes: py, NewPNo: pn}, nil
}
