// Package tradeexec validates and commits trade intents produced by the
// NPC Decision Engine or the Autonomous Coordinator against the Ledger
// and Market Store, emitting one TradeImpact event per success.
package tradeexec

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"simengine/pkg/engineerr"
	"simengine/pkg/ledger"
	"simengine/pkg/marketstore"
	"simengine/pkg/pricing"
)

// Action is the set of trade actions an intent may request.
type Action string

const (
	ActionBuyYes    Action = "buy_yes"
	ActionBuyNo     Action = "buy_no"
	ActionOpenLong  Action = "open_long"
	ActionOpenShort Action = "open_short"
	ActionClose     Action = "close"
)

// Intent is one trade to validate and execute. OwnerID is a user or pool
// id; pools trade exactly like users.
type Intent struct {
	ID          string
	OwnerID     string
	Action      Action
	MarketID    string // prediction markets
	Ticker      string // perpetual markets
	PositionID  string // required for Action == ActionClose
	CashAmount  float64
	Leverage    int
	RefPrice    float64 // the price the decision was made against
	MaxSlippage float64 // fraction; 0 disables the staleness check
}

// TradeImpact summarizes one successful execution for the Price Updater.
type TradeImpact struct {
	Ref        string // ticker or market id
	Side       string
	CashDelta  float64
	ShareDelta float64
}

// Result is the per-intent outcome: failures never
// abort the batch, and each carries the intent id plus a typed Kind.
type Result struct {
	IntentID string
	Success  bool
	Impact   *TradeImpact
	Err      error
}

const defaultMaintenanceMargin = pricing.DefaultMaintenanceMargin

// Executor validates and commits intents. It has no internal concurrency:
// callers execute intents in the order they must be applied
// (lexicographic by (ticker|market_id, npc_id) within one tick), which
// trivially satisfies "same market processed serially".
type Executor struct {
	store  marketstore.Store
	ledger *ledger.Ledger
	m      float64 // maintenance margin fraction
}

func New(store marketstore.Store, led *ledger.Ledger, maintenanceMargin float64) *Executor {
	if maintenanceMargin <= 0 {
		maintenanceMargin = defaultMaintenanceMargin
	}
	return &Executor{store: store, ledger: led, m: maintenanceMargin}
}

// Ledger exposes the executor's underlying ledger so collaborators that
// must move cash outside a trade intent (e.g. the tick scheduler's funding
// application) can reuse the same instance rather than being handed a
// second one.
func (e *Executor) Ledger() *ledger.Ledger { return e.ledger }

// Execute runs each intent in order and returns (successes, failures); a
// failing intent never aborts the remaining batch.
func (e *Executor) Execute(ctx context.Context, intents []Intent) (successes, failures []Result) {
	for _, in := range intents {
		res := e.executeOne(ctx, in)
		if res.Success {
			successes = append(successes, res)
		} else {
			logx.WithContext(ctx).Infof("tradeexec: intent %s failed: %v", in.ID, res.Err)
			failures = append(failures, res)
		}
	}
	return successes, failures
}

func (e *Executor) executeOne(ctx context.Context, in Intent) Result {
	switch in.Action {
	case ActionBuyYes, ActionBuyNo:
		return e.executePredictionBuy(ctx, in)
	case ActionOpenLong, ActionOpenShort:
		return e.executePerpOpen(ctx, in)
	case ActionClose:
		if in.Ticker != "" {
			return e.executePerpClose(ctx, in)
		}
		return e.executePredictionClose(ctx, in)
	default:
		return Result{IntentID: in.ID, Err: engineerr.Newf(engineerr.InvariantViolation, "tradeexec: unknown action %q", in.Action)}
	}
}

func (e *Executor) executePredictionBuy(ctx context.Context, in Intent) Result {
	market, err := e.store.GetPredictionMarket(ctx, in.MarketID)
	if err != nil {
		return Result{IntentID: in.ID, Err: err}
	}
	if market.Resolved {
		return Result{IntentID: in.ID, Err: engineerr.New(engineerr.MarketClosed, "tradeexec: prediction market already resolved").WithRelated(in.MarketID)}
	}

	side := pricing.SideYes
	posSide := marketstore.SideYes
	if in.Action == ActionBuyNo {
		side, posSide = pricing.SideNo, marketstore.SideNo
	}

	if in.RefPrice > 0 && in.MaxSlippage > 0 {
		py, pn := pricing.Prices(market.QYes, market.QNo, market.B)
		cur := py
		if side == pricing.SideNo {
			cur = pn
		}
		if staleBeyond(in.RefPrice, cur, in.MaxSlippage) {
			return Result{IntentID: in.ID, Err: engineerr.New(engineerr.StalePrice, "tradeexec: reference price moved beyond tolerance").WithRelated(in.MarketID)}
		}
	}

	quote, err := pricing.QuoteCash(market.QYes, market.QNo, market.B, side, in.CashAmount)
	if err != nil {
		return Result{IntentID: in.ID, Err: err}
	}
	if quote.Shares == 0 {
		return Result{IntentID: in.ID, Success: true, Impact: &TradeImpact{Ref: in.MarketID, Side: string(posSide)}}
	}

	if _, err := e.ledger.Debit(ctx, in.OwnerID, ledger.AccountVirtualBalance, decimal.NewFromFloat(quote.Cash), ledger.KindPredictionBuy, in.MarketID); err != nil {
		return Result{IntentID: in.ID, Err: err}
	}

	if err := e.store.MutateShares(ctx, in.MarketID, quote.NewQYes, quote.NewQNo); err != nil {
		return Result{IntentID: in.ID, Err: err}
	}

	existing, _, err := e.store.GetPredictionPosition(ctx, in.OwnerID, in.MarketID, posSide)
	if err != nil {
		return Result{IntentID: in.ID, Err: err}
	}
	newShares := existing.Shares + quote.Shares
	newAvg := (existing.Shares*existing.AvgPrice + quote.Cash) / newShares
	if _, err := e.store.UpsertPredictionPosition(ctx, marketstore.PredictionPosition{
		ID: existing.ID, UserID: in.OwnerID, MarketID: in.MarketID, Side: posSide, Shares: newShares, AvgPrice: newAvg,
	}); err != nil {
		return Result{IntentID: in.ID, Err: err}
	}

	e.settlePool(ctx, in.OwnerID, 0)
	return Result{IntentID: in.ID, Success: true, Impact: &TradeImpact{Ref: in.MarketID, Side: string(posSide), CashDelta: quote.Cash, ShareDelta: quote.Shares}}
}

func (e *Executor) executePredictionClose(ctx context.Context, in Intent) Result {
	pos, ok, err := e.lookupPredictionPosition(ctx, in)
	if err != nil {
		return Result{IntentID: in.ID, Err: err}
	}
	if !ok || pos.Shares <= 0 {
		return Result{IntentID: in.ID, Err: engineerr.New(engineerr.PositionNotFound, "tradeexec: no open prediction position").WithRelated(in.PositionID)}
	}
	market, err := e.store.GetPredictionMarket(ctx, pos.MarketID)
	if err != nil {
		return Result{IntentID: in.ID, Err: err}
	}
	if market.Resolved {
		return Result{IntentID: in.ID, Err: engineerr.New(engineerr.MarketClosed, "tradeexec: prediction market already resolved").WithRelated(pos.MarketID)}
	}

	side := pricing.SideYes
	if pos.Side == marketstore.SideNo {
		side = pricing.SideNo
	}
	quote, err := pricing.QuoteShares(market.QYes, market.QNo, market.B, oppositeSide(side), pos.Shares)
	if err != nil {
		return Result{IntentID: in.ID, Err: err}
	}
	proceeds := quote.Cash

	if err := e.store.MutateShares(ctx, pos.MarketID, quote.NewQYes, quote.NewQNo); err != nil {
		return Result{IntentID: in.ID, Err: err}
	}
	if _, err := e.ledger.Credit(ctx, in.OwnerID, ledger.AccountVirtualBalance, decimal.NewFromFloat(proceeds), ledger.KindTradeClose, pos.ID); err != nil {
		return Result{IntentID: in.ID, Err: err}
	}
	if err := e.store.ClosePredictionPosition(ctx, pos.ID); err != nil {
		return Result{IntentID: in.ID, Err: err}
	}

	e.settlePool(ctx, in.OwnerID, proceeds-pos.Shares*pos.AvgPrice)
	return Result{IntentID: in.ID, Success: true, Impact: &TradeImpact{Ref: pos.MarketID, Side: string(pos.Side), CashDelta: -proceeds, ShareDelta: -pos.Shares}}
}

func oppositeSide(s pricing.Side) pricing.Side {
	if s == pricing.SideYes {
		return pricing.SideNo
	}
	return pricing.SideYes
}

func (e *Executor) lookupPredictionPosition(ctx context.Context, in Intent) (marketstore.PredictionPosition, bool, error) {
	if in.PositionID == "" {
		return marketstore.PredictionPosition{}, false, engineerr.New(engineerr.PositionNotFound, "tradeexec: close intent missing position id")
	}
	positions, err := e.store.OpenPredictionPositionsByMarket(ctx, in.MarketID)
	if err != nil {
		return marketstore.PredictionPosition{}, false, err
	}
	for _, p := range positions {
		if p.ID == in.PositionID {
			return p, true, nil
		}
	}
	return marketstore.PredictionPosition{}, false, nil
}

func (e *Executor) executePerpOpen(ctx context.Context, in Intent) Result {
	market, err := e.store.GetPerpMarket(ctx, in.Ticker)
	if err != nil {
		return Result{IntentID: in.ID, Err: err}
	}
	if in.Leverage < 1 || in.Leverage > 100 {
		return Result{IntentID: in.ID, Err: engineerr.New(engineerr.LeverageOutOfRange, "tradeexec: leverage out of range").WithRelated(in.Ticker)}
	}
	if in.RefPrice > 0 && in.MaxSlippage > 0 && staleBeyond(in.RefPrice, market.MarkPrice, in.MaxSlippage) {
		return Result{IntentID: in.ID, Err: engineerr.New(engineerr.StalePrice, "tradeexec: reference price moved beyond tolerance").WithRelated(in.Ticker)}
	}

	side := pricing.Long
	psSide := marketstore.SideLong
	if in.Action == ActionOpenShort {
		side, psSide = pricing.Short, marketstore.SideShort
	}

	liq, err := pricing.LiquidationPrice(side, market.MarkPrice, in.Leverage, e.m)
	if err != nil {
		return Result{IntentID: in.ID, Err: err}
	}

	margin := in.CashAmount / float64(in.Leverage)
	if _, err := e.ledger.Debit(ctx, in.OwnerID, ledger.AccountVirtualBalance, decimal.NewFromFloat(margin), ledger.KindTradeOpen, in.Ticker); err != nil {
		return Result{IntentID: in.ID, Err: err}
	}

	pos, err := e.store.CreatePerpPosition(ctx, marketstore.PerpPosition{
		OwnerID: in.OwnerID, Ticker: in.Ticker, Side: psSide, Size: in.CashAmount,
		Leverage: in.Leverage, EntryPrice: market.MarkPrice, LiquidationPrice: liq, OpenedAt: time.Now(),
	})
	if err != nil {
		return Result{IntentID: in.ID, Err: err}
	}

	e.settlePool(ctx, in.OwnerID, 0)
	return Result{IntentID: in.ID, Success: true, Impact: &TradeImpact{Ref: in.Ticker, Side: string(psSide), CashDelta: -margin, ShareDelta: pricing.SignedSize(side, pos.Size)}}
}

func (e *Executor) executePerpClose(ctx context.Context, in Intent) Result {
	if in.PositionID == "" {
		return Result{IntentID: in.ID, Err: engineerr.New(engineerr.PositionNotFound, "tradeexec: close intent missing position id")}
	}
	positions, err := e.store.OpenPerpPositionsByTicker(ctx, in.Ticker)
	if err != nil {
		return Result{IntentID: in.ID, Err: err}
	}
	var pos marketstore.PerpPosition
	found := false
	for _, p := range positions {
		if p.ID == in.PositionID {
			pos, found = p, true
			break
		}
	}
	if !found {
		return Result{IntentID: in.ID, Err: engineerr.New(engineerr.PositionNotFound, "tradeexec: perp position not found").WithRelated(in.PositionID)}
	}
	market, err := e.store.GetPerpMarket(ctx, in.Ticker)
	if err != nil {
		return Result{IntentID: in.ID, Err: err}
	}

	side := pricing.Long
	if pos.Side == marketstore.SideShort {
		side = pricing.Short
	}
	pnl := pricing.UnrealizedPnL(side, pos.EntryPrice, market.MarkPrice, pos.Size)
	margin := pos.Size / float64(pos.Leverage)
	credit := margin + pnl
	if credit < 0 {
		credit = 0
	}

	if credit > 0 {
		if _, err := e.ledger.Credit(ctx, in.OwnerID, ledger.AccountVirtualBalance, decimal.NewFromFloat(credit), ledger.KindTradeClose, pos.ID); err != nil {
			return Result{IntentID: in.ID, Err: err}
		}
	}
	if err := e.store.ClosePerpPosition(ctx, pos.ID, time.Now()); err != nil {
		return Result{IntentID: in.ID, Err: err}
	}

	e.settlePool(ctx, in.OwnerID, pnl)
	return Result{IntentID: in.ID, Success: true, Impact: &TradeImpact{Ref: in.Ticker, Side: string(pos.Side), CashDelta: credit, ShareDelta: -pricing.SignedSize(side, pos.Size)}}
}

// LiquidateAll closes every liquidatable position at the given mark
// prices. The liquidator debits nothing
// further and credits nothing (margin is fully consumed), recording a
// KindPerpLiquidation entry with amount 0.
func (e *Executor) LiquidateAll(ctx context.Context, markPrices map[string]float64) (liquidated []Result) {
	positions, err := e.store.LiquidatablePositions(ctx, markPrices)
	if err != nil {
		logx.WithContext(ctx).Errorf("tradeexec: liquidatable query failed: %v", err)
		return nil
	}
	for _, pos := range positions {
		if err := e.store.ClosePerpPosition(ctx, pos.ID, time.Now()); err != nil {
			logx.WithContext(ctx).Errorf("tradeexec: liquidate %s: %v", pos.ID, err)
			continue
		}
		if _, err := e.ledger.RecordZero(ctx, pos.OwnerID, ledger.KindPerpLiquidation, pos.ID); err != nil {
			logx.WithContext(ctx).Errorf("tradeexec: record liquidation %s: %v", pos.ID, err)
		}
		e.settlePool(ctx, pos.OwnerID, -pos.Size/float64(pos.Leverage))
		logx.WithContext(ctx).Infof("tradeexec: liquidated %s owner=%s ticker=%s", pos.ID, pos.OwnerID, pos.Ticker)
		liquidated = append(liquidated, Result{IntentID: pos.ID, Success: true, Impact: &TradeImpact{Ref: pos.Ticker, Side: string(pos.Side)}})
	}
	return liquidated
}

func staleBeyond(ref, cur, tolerance float64) bool {
	if ref == 0 {
		return false
	}
	delta := (cur - ref) / ref
	if delta < 0 {
		delta = -delta
	}
	return delta > tolerance
}
