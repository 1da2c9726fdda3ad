// Package marketstore is the typed persistence layer for prediction
// markets, perpetual markets/positions, organizations/tickers, pools, and
// price history.
package marketstore

import "time"

type Outcome string

const (
	OutcomeUnresolved Outcome = "UNRESOLVED"
	OutcomeYes        Outcome = "YES"
	OutcomeNo         Outcome = "NO"
)

type PredictionSide string

const (
	SideYes PredictionSide = "YES"
	SideNo  PredictionSide = "NO"
)

type PerpSide string

const (
	SideLong  PerpSide = "LONG"
	SideShort PerpSide = "SHORT"
)

// PredictionMarket is one binary-outcome LMSR market.
type PredictionMarket struct {
	ID             string
	Prompt         string
	Category       string
	ResolutionTime time.Time
	Resolved       bool
	Outcome        Outcome
	B              float64
	QYes           float64
	QNo            float64
	OracleSession  string // set once oracle.commit has been called
	CreatedAt      time.Time
}

// PredictionPosition is one user's holding on one side of a market.
type PredictionPosition struct {
	ID       string
	UserID   string
	MarketID string
	Side     PredictionSide
	Shares   float64
	AvgPrice float64
	ClosedAt *time.Time
}

// PerpMarket is the per-ticker perpetual market state.
type PerpMarket struct {
	Ticker      string
	MarkPrice   float64
	FundingRate float64
	OILong      float64
	OIShort     float64
}

// PerpPosition is one leveraged long/short position.
type PerpPosition struct {
	ID               string
	OwnerID          string // a user id or a pool id
	Ticker           string
	Side             PerpSide
	Size             float64
	Leverage         int
	EntryPrice       float64
	LiquidationPrice float64
	FundingPaid      float64
	OpenedAt         time.Time
	ClosedAt         *time.Time
}

func (p PerpPosition) IsOpen() bool { return p.ClosedAt == nil }

// Organization is a tradable entity behind a ticker.
type Organization struct {
	Ticker          string
	Name            string
	InitialPrice    float64
	CurrentPrice    float64
	SyntheticSupply float64
}

// Pool is a managed portfolio owned by one NPC actor; it holds positions
// exactly like a user.
type Pool struct {
	ID                 string
	OwnerNPCID         string
	TotalValue         float64
	AvailableBalance   float64
	LifetimePnL        float64
	PerformanceFeeRate float64
}

// PriceHistorySample is one row of the price_history table, written at
// most once per tick per ticker.
type PriceHistorySample struct {
	Ticker string
	Price  float64
	TickNo int64
	At     time.Time
}

// TickSummary is the per-tick summary row the scheduler persists.
type TickSummary struct {
	TickNo              int64
	StartedAt           time.Time
	FinishedAt          time.Time
	NPCsDecided         int
	TradesAttempted     int
	TradesSucceeded     int
	MarketsResolved     int
	PositionsLiquidated int
	FundingApplied      int
}
