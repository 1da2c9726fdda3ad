// Package priceupdater recomputes quoted prices after a batch of trade
// impacts: each affected ticker's current price from the
// holdings-weighted formula, clamped, with a price-history sample
// appended at most once per tick. It also recomputes perpetual funding rate
// from long/short open-interest skew.
package priceupdater

import (
	"context"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"simengine/pkg/marketstore"
	"simengine/pkg/pricing"
	"simengine/pkg/tradeexec"
)

// FundingRateK is the constant k in
// funding_rate = k*(OI_long-OI_short)/(OI_long+OI_short+eps).
const FundingRateK = 0.01

// Updater recomputes quoted prices after a tick's trade batch. Per-ticker
// updates are serialized by a sharded mutex so concurrent
// callers never interleave a read-modify-write on the same organization
// row.
type Updater struct {
	store marketstore.Store

	defaultSupply float64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(store marketstore.Store) *Updater {
	return &Updater{store: store, locks: make(map[string]*sync.Mutex)}
}

// WithDefaultSupply sets the synthetic-supply denominator used for
// organizations whose row carries none (SYNTHETIC_SUPPLY). Returns the
// updater for chaining at construction time.
func (u *Updater) WithDefaultSupply(supply float64) *Updater {
	u.defaultSupply = supply
	return u
}

func (u *Updater) lockFor(ticker string) *sync.Mutex {
	u.locksMu.Lock()
	defer u.locksMu.Unlock()
	m, ok := u.locks[ticker]
	if !ok {
		m = &sync.Mutex{}
		u.locks[ticker] = m
	}
	return m
}

// ApplyImpacts recomputes current_price for every ticker named in impacts,
// writing at most one price-history sample per ticker for tickNo.
func (u *Updater) ApplyImpacts(ctx context.Context, impacts []tradeexec.TradeImpact, tickNo int64) {
	seen := make(map[string]bool)
	for _, impact := range impacts {
		if impact.Ref == "" || seen[impact.Ref] {
			continue
		}
		seen[impact.Ref] = true
		if err := u.refreshTicker(ctx, impact.Ref, tickNo); err != nil {
			logx.WithContext(ctx).Errorf("priceupdater: refresh %s: %v", impact.Ref, err)
		}
	}
}

func (u *Updater) refreshTicker(ctx context.Context, ticker string, tickNo int64) error {
	mu := u.lockFor(ticker)
	mu.Lock()
	defer mu.Unlock()

	org, err := u.store.GetOrganization(ctx, ticker)
	if err != nil {
		return nil // not every impacted ref is a pool-backed ticker (prediction markets price via LMSR, not holdings)
	}

	positions, err := u.store.OpenPerpPositionsByTicker(ctx, ticker)
	if err != nil {
		return err
	}
	var sum float64
	var oiLong, oiShort float64
	for _, p := range positions {
		side := pricing.Long
		if p.Side == marketstore.SideShort {
			side = pricing.Short
			oiShort += p.Size
		} else {
			oiLong += p.Size
		}
		sum += pricing.SignedSize(side, p.Size)
	}

	supply := org.SyntheticSupply
	if supply <= 0 {
		supply = u.defaultSupply
	}
	newPrice := pricing.SpotPrice(org.InitialPrice, supply, sum)
	if err := u.store.UpdateCurrentPrice(ctx, ticker, newPrice); err != nil {
		return err
	}

	if err := u.writePriceHistoryOnce(ctx, ticker, newPrice, tickNo); err != nil {
		return err
	}

	rate := pricing.FundingRate(FundingRateK, oiLong, oiShort)
	return u.store.UpsertPerpMarket(ctx, marketstore.PerpMarket{
		Ticker: ticker, MarkPrice: newPrice, FundingRate: rate, OILong: oiLong, OIShort: oiShort,
	})
}

func (u *Updater) writePriceHistoryOnce(ctx context.Context, ticker string, price float64, tickNo int64) error {
	latest, err := u.store.LatestPriceHistoryTick(ctx, ticker)
	if err != nil {
		return err
	}
	if latest == tickNo {
		return nil
	}
	return u.store.AppendPriceHistory(ctx, marketstore.PriceHistorySample{Ticker: ticker, Price: price, TickNo: tickNo, At: time.Now()})
}

// ApplyFunding applies one funding-rate application to every open position
// on ticker, crediting/debiting via the supplied sink. fraction scales
// the stored hourly rate down to whatever slice of the funding cadence this
// call covers (1.0 for a call that represents the whole cadence; callers on
// a tick interval that doesn't divide the cadence evenly pass the pro-rated
// fraction instead).
func (u *Updater) ApplyFunding(ctx context.Context, ticker string, fraction float64, sink FundingSink) error {
	market, err := u.store.GetPerpMarket(ctx, ticker)
	if err != nil {
		return err
	}
	positions, err := u.store.OpenPerpPositionsByTicker(ctx, ticker)
	if err != nil {
		return err
	}
	rate := market.FundingRate * fraction
	for _, p := range positions {
		side := pricing.Long
		if p.Side == marketstore.SideShort {
			side = pricing.Short
		}
		payment := pricing.FundingPayment(side, rate, p.Size)
		if err := sink.ApplyFunding(ctx, p, payment); err != nil {
			logx.WithContext(ctx).Errorf("priceupdater: funding for %s: %v", p.ID, err)
			continue
		}
		if err := u.store.AccrueFunding(ctx, p.ID, payment); err != nil {
			logx.WithContext(ctx).Errorf("priceupdater: accrue funding for %s: %v", p.ID, err)
		}
	}
	return nil
}

// FundingSink moves cash for a funding payment; pkg/ledger.Ledger satisfies
// this via a thin adapter in the tick scheduler so priceupdater stays
// decoupled from decimal.Decimal and ledger account semantics.
type FundingSink interface {
	ApplyFunding(ctx context.Context, pos marketstore.PerpPosition, amount float64) error
}
