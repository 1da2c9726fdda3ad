package marketstore

import (
	"context"
	"time"
)

// Store is the full typed-persistence contract used by the tick
// pipeline. No Store method writes a ledger entry: the Trade Executor
// makes its ledger calls (pkg/ledger) and its Store calls one after the
// other, and the two are not wrapped in a shared transaction.
type Store interface {
	// Prediction markets.
	CreatePredictionMarket(ctx context.Context, m PredictionMarket) (PredictionMarket, error)
	GetPredictionMarket(ctx context.Context, marketID string) (PredictionMarket, error)
	OpenPredictionMarkets(ctx context.Context) ([]PredictionMarket, error)
	MaturedUnresolvedMarkets(ctx context.Context, now time.Time) ([]PredictionMarket, error)
	SetOracleSession(ctx context.Context, marketID, sessionID string) error
	MutateShares(ctx context.Context, marketID string, newQYes, newQNo float64) error
	MarkMarketResolved(ctx context.Context, marketID string, outcome Outcome) error

	// Prediction positions.
	GetPredictionPosition(ctx context.Context, userID, marketID string, side PredictionSide) (PredictionPosition, bool, error)
	UpsertPredictionPosition(ctx context.Context, pos PredictionPosition) (PredictionPosition, error)
	OpenPredictionPositionsByMarket(ctx context.Context, marketID string) ([]PredictionPosition, error)
	OpenPredictionPositionsForUser(ctx context.Context, userID string) ([]PredictionPosition, error)
	ClosePredictionPosition(ctx context.Context, positionID string) error

	// Perp markets & positions.
	GetPerpMarket(ctx context.Context, ticker string) (PerpMarket, error)
	UpsertPerpMarket(ctx context.Context, m PerpMarket) error
	ListPerpMarkets(ctx context.Context) ([]PerpMarket, error)
	OpenPerpPositionsByTicker(ctx context.Context, ticker string) ([]PerpPosition, error)
	OpenPerpPositionsForOwner(ctx context.Context, ownerID string) ([]PerpPosition, error)
	LiquidatablePositions(ctx context.Context, markPrices map[string]float64) ([]PerpPosition, error)
	CreatePerpPosition(ctx context.Context, pos PerpPosition) (PerpPosition, error)
	ClosePerpPosition(ctx context.Context, positionID string, closedAt time.Time) error
	AccrueFunding(ctx context.Context, positionID string, payment float64) error

	// Organizations / tickers.
	GetOrganization(ctx context.Context, ticker string) (Organization, error)
	UpdateCurrentPrice(ctx context.Context, ticker string, price float64) error
	AppendPriceHistory(ctx context.Context, sample PriceHistorySample) error
	LatestPriceHistoryTick(ctx context.Context, ticker string) (int64, error)

	// Pools.
	GetPool(ctx context.Context, poolID string) (Pool, error)
	UpdatePoolBalances(ctx context.Context, poolID string, availableBalance, totalValue, lifetimePnL float64) error

	// Tick summaries.
	WriteTickSummary(ctx context.Context, summary TickSummary) error

	// Tick lock: the persisted half of the single-writer coordinator.
	// AcquireTickLock atomically flips the lock from free to held and returns a strictly-increasing fencing token; it returns
	// acquired=false without error if another holder already has it.
	// ReleaseTickLock frees the lock only if token still matches the
	// current holder's token, so a stale writer can never release a lock
	// it no longer owns.
	AcquireTickLock(ctx context.Context, holder string) (token int64, acquired bool, err error)
	ReleaseTickLock(ctx context.Context, token int64) error
}
