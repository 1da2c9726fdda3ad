package marketstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/sqlc"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// SQLStore is the Postgres-backed Store.
//
// The in-memory MemStore (memstore.go) is what every other package is
// actually tested against; SQLStore is the production swap-in behind the
// same Store interface and is exercised by the `integration` build-tagged
// tests in sqlstore_integration_test.go against a live Postgres instance.
type SQLStore struct {
	conn sqlx.SqlConn
}

// NewSQLStore wraps conn (typically built with
// sqlx.NewSqlConn("pgx", dsn)) in a Store.
func NewSQLStore(conn sqlx.SqlConn) *SQLStore {
	return &SQLStore{conn: conn}
}

var _ Store = (*SQLStore)(nil)

type predictionMarketRow struct {
	ID             string         `db:"id"`
	Prompt         string         `db:"prompt"`
	Category       string         `db:"category"`
	ResolutionTime time.Time      `db:"resolution_time"`
	Resolved       bool           `db:"resolved"`
	Outcome        string         `db:"outcome"`
	B              float64        `db:"liquidity_b"`
	QYes           float64        `db:"q_yes"`
	QNo            float64        `db:"q_no"`
	OracleSession  sql.NullString `db:"oracle_session"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r predictionMarketRow) toDomain() PredictionMarket {
	m := PredictionMarket{
		ID: r.ID, Prompt: r.Prompt, Category: r.Category, ResolutionTime: r.ResolutionTime,
		Resolved: r.Resolved, Outcome: Outcome(r.Outcome), B: r.B, QYes: r.QYes, QNo: r.QNo,
		CreatedAt: r.CreatedAt,
	}
	if r.OracleSession.Valid {
		m.OracleSession = r.OracleSession.String
	}
	return m
}

func (s *SQLStore) CreatePredictionMarket(ctx context.Context, m PredictionMarket) (PredictionMarket, error) {
	const query = `
INSERT INTO public.prediction_markets (id, prompt, category, resolution_time, resolved, outcome, liquidity_b, q_yes, q_no, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
RETURNING created_at`
	if err := s.conn.QueryRowCtx(ctx, &m.CreatedAt, query,
		m.ID, m.Prompt, m.Category, m.ResolutionTime, m.Resolved, string(m.Outcome), m.B, m.QYes, m.QNo); err != nil {
		return PredictionMarket{}, fmt.Errorf("marketstore: create prediction market: %w", err)
	}
	return m, nil
}

func (s *SQLStore) GetPredictionMarket(ctx context.Context, marketID string) (PredictionMarket, error) {
	const query = `
SELECT id, prompt, category, resolution_time, resolved, outcome, liquidity_b, q_yes, q_no, oracle_session, created_at
FROM public.prediction_markets WHERE id = $1`
	var row predictionMarketRow
	if err := s.conn.QueryRowCtx(ctx, &row, query, marketID); err != nil {
		return PredictionMarket{}, fmt.Errorf("marketstore: get prediction market %s: %w", marketID, err)
	}
	return row.toDomain(), nil
}

func (s *SQLStore) OpenPredictionMarkets(ctx context.Context) ([]PredictionMarket, error) {
	const query = `
SELECT id, prompt, category, resolution_time, resolved, outcome, liquidity_b, q_yes, q_no, oracle_session, created_at
FROM public.prediction_markets WHERE resolved = false ORDER BY id`
	var rows []predictionMarketRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("marketstore: open prediction markets: %w", err)
	}
	out := make([]PredictionMarket, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *SQLStore) MaturedUnresolvedMarkets(ctx context.Context, now time.Time) ([]PredictionMarket, error) {
	const query = `
SELECT id, prompt, category, resolution_time, resolved, outcome, liquidity_b, q_yes, q_no, oracle_session, created_at
FROM public.prediction_markets WHERE resolved = false AND resolution_time <= $1 ORDER BY id`
	var rows []predictionMarketRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, query, now); err != nil {
		return nil, fmt.Errorf("marketstore: matured unresolved markets: %w", err)
	}
	out := make([]PredictionMarket, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *SQLStore) SetOracleSession(ctx context.Context, marketID, sessionID string) error {
	const query = `UPDATE public.prediction_markets SET oracle_session = $2 WHERE id = $1`
	_, err := s.conn.ExecCtx(ctx, query, marketID, sessionID)
	if err != nil {
		return fmt.Errorf("marketstore: set oracle session for %s: %w", marketID, err)
	}
	return nil
}

func (s *SQLStore) MutateShares(ctx context.Context, marketID string, newQYes, newQNo float64) error {
	const query = `UPDATE public.prediction_markets SET q_yes = $2, q_no = $3 WHERE id = $1`
	_, err := s.conn.ExecCtx(ctx, query, marketID, newQYes, newQNo)
	if err != nil {
		return fmt.Errorf("marketstore: mutate shares for %s: %w", marketID, err)
	}
	return nil
}

func (s *SQLStore) MarkMarketResolved(ctx context.Context, marketID string, outcome Outcome) error {
	const query = `UPDATE public.prediction_markets SET resolved = true, outcome = $2 WHERE id = $1`
	_, err := s.conn.ExecCtx(ctx, query, marketID, string(outcome))
	if err != nil {
		return fmt.Errorf("marketstore: mark market resolved %s: %w", marketID, err)
	}
	return nil
}

type predictionPositionRow struct {
	ID       string       `db:"id"`
	UserID   string       `db:"user_id"`
	MarketID string       `db:"market_id"`
	Side     string       `db:"side"`
	Shares   float64      `db:"shares"`
	AvgPrice float64      `db:"avg_price"`
	ClosedAt sql.NullTime `db:"closed_at"`
}

func (r predictionPositionRow) toDomain() PredictionPosition {
	p := PredictionPosition{
		ID: r.ID, UserID: r.UserID, MarketID: r.MarketID, Side: PredictionSide(r.Side),
		Shares: r.Shares, AvgPrice: r.AvgPrice,
	}
	if r.ClosedAt.Valid {
		t := r.ClosedAt.Time
		p.ClosedAt = &t
	}
	return p
}

func (s *SQLStore) GetPredictionPosition(ctx context.Context, userID, marketID string, side PredictionSide) (PredictionPosition, bool, error) {
	const query = `
SELECT id, user_id, market_id, side, shares, avg_price, closed_at
FROM public.prediction_positions
WHERE user_id = $1 AND market_id = $2 AND side = $3 AND closed_at IS NULL`
	var row predictionPositionRow
	err := s.conn.QueryRowCtx(ctx, &row, query, userID, marketID, string(side))
	if err == sqlc.ErrNotFound {
		return PredictionPosition{}, false, nil
	}
	if err != nil {
		return PredictionPosition{}, false, fmt.Errorf("marketstore: get prediction position: %w", err)
	}
	return row.toDomain(), true, nil
}

func (s *SQLStore) UpsertPredictionPosition(ctx context.Context, pos PredictionPosition) (PredictionPosition, error) {
	const query = `
INSERT INTO public.prediction_positions (id, user_id, market_id, side, shares, avg_price)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, market_id, side) WHERE closed_at IS NULL
DO UPDATE SET shares = EXCLUDED.shares, avg_price = EXCLUDED.avg_price`
	_, err := s.conn.ExecCtx(ctx, query, pos.ID, pos.UserID, pos.MarketID, string(pos.Side), pos.Shares, pos.AvgPrice)
	if err != nil {
		return PredictionPosition{}, fmt.Errorf("marketstore: upsert prediction position: %w", err)
	}
	return pos, nil
}

func (s *SQLStore) OpenPredictionPositionsByMarket(ctx context.Context, marketID string) ([]PredictionPosition, error) {
	const query = `
SELECT id, user_id, market_id, side, shares, avg_price, closed_at
FROM public.prediction_positions WHERE market_id = $1 AND closed_at IS NULL ORDER BY id`
	var rows []predictionPositionRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, query, marketID); err != nil {
		return nil, fmt.Errorf("marketstore: open prediction positions by market: %w", err)
	}
	out := make([]PredictionPosition, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *SQLStore) OpenPredictionPositionsForUser(ctx context.Context, userID string) ([]PredictionPosition, error) {
	const query = `
SELECT id, user_id, market_id, side, shares, avg_price, closed_at
FROM public.prediction_positions WHERE user_id = $1 AND closed_at IS NULL ORDER BY id`
	var rows []predictionPositionRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("marketstore: open prediction positions for user: %w", err)
	}
	out := make([]PredictionPosition, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *SQLStore) ClosePredictionPosition(ctx context.Context, positionID string) error {
	const query = `UPDATE public.prediction_positions SET closed_at = NOW() WHERE id = $1`
	_, err := s.conn.ExecCtx(ctx, query, positionID)
	if err != nil {
		return fmt.Errorf("marketstore: close prediction position %s: %w", positionID, err)
	}
	return nil
}

type perpMarketRow struct {
	Ticker      string  `db:"ticker"`
	MarkPrice   float64 `db:"mark_price"`
	FundingRate float64 `db:"funding_rate"`
	OILong      float64 `db:"oi_long"`
	OIShort     float64 `db:"oi_short"`
}

func (s *SQLStore) GetPerpMarket(ctx context.Context, ticker string) (PerpMarket, error) {
	const query = `SELECT ticker, mark_price, funding_rate, oi_long, oi_short FROM public.perp_markets WHERE ticker = $1`
	var row perpMarketRow
	if err := s.conn.QueryRowCtx(ctx, &row, query, ticker); err != nil {
		return PerpMarket{}, fmt.Errorf("marketstore: get perp market %s: %w", ticker, err)
	}
	return PerpMarket{Ticker: row.Ticker, MarkPrice: row.MarkPrice, FundingRate: row.FundingRate, OILong: row.OILong, OIShort: row.OIShort}, nil
}

func (s *SQLStore) UpsertPerpMarket(ctx context.Context, m PerpMarket) error {
	const query = `
INSERT INTO public.perp_markets (ticker, mark_price, funding_rate, oi_long, oi_short)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (ticker) DO UPDATE SET mark_price = EXCLUDED.mark_price, funding_rate = EXCLUDED.funding_rate,
  oi_long = EXCLUDED.oi_long, oi_short = EXCLUDED.oi_short`
	_, err := s.conn.ExecCtx(ctx, query, m.Ticker, m.MarkPrice, m.FundingRate, m.OILong, m.OIShort)
	if err != nil {
		return fmt.Errorf("marketstore: upsert perp market %s: %w", m.Ticker, err)
	}
	return nil
}

type perpPositionRow struct {
	ID               string       `db:"id"`
	OwnerID          string       `db:"owner_id"`
	Ticker           string       `db:"ticker"`
	Side             string       `db:"side"`
	Size             float64      `db:"size"`
	Leverage         int          `db:"leverage"`
	EntryPrice       float64      `db:"entry_price"`
	LiquidationPrice float64      `db:"liquidation_price"`
	FundingPaid      float64      `db:"funding_paid"`
	OpenedAt         time.Time    `db:"opened_at"`
	ClosedAt         sql.NullTime `db:"closed_at"`
}

func (r perpPositionRow) toDomain() PerpPosition {
	p := PerpPosition{
		ID: r.ID, OwnerID: r.OwnerID, Ticker: r.Ticker, Side: PerpSide(r.Side), Size: r.Size,
		Leverage: r.Leverage, EntryPrice: r.EntryPrice, LiquidationPrice: r.LiquidationPrice,
		FundingPaid: r.FundingPaid, OpenedAt: r.OpenedAt,
	}
	if r.ClosedAt.Valid {
		t := r.ClosedAt.Time
		p.ClosedAt = &t
	}
	return p
}

func (s *SQLStore) ListPerpMarkets(ctx context.Context) ([]PerpMarket, error) {
	const query = `SELECT ticker, mark_price, funding_rate, oi_long, oi_short FROM public.perp_markets ORDER BY ticker`
	var rows []perpMarketRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("marketstore: list perp markets: %w", err)
	}
	out := make([]PerpMarket, len(rows))
	for i, r := range rows {
		out[i] = PerpMarket{Ticker: r.Ticker, MarkPrice: r.MarkPrice, FundingRate: r.FundingRate, OILong: r.OILong, OIShort: r.OIShort}
	}
	return out, nil
}

func (s *SQLStore) OpenPerpPositionsByTicker(ctx context.Context, ticker string) ([]PerpPosition, error) {
	const query = `
SELECT id, owner_id, ticker, side, size, leverage, entry_price, liquidation_price, funding_paid, opened_at, closed_at
FROM public.perp_positions WHERE ticker = $1 AND closed_at IS NULL ORDER BY id`
	var rows []perpPositionRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, query, ticker); err != nil {
		return nil, fmt.Errorf("marketstore: open perp positions by ticker: %w", err)
	}
	out := make([]PerpPosition, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *SQLStore) OpenPerpPositionsForOwner(ctx context.Context, ownerID string) ([]PerpPosition, error) {
	const query = `
SELECT id, owner_id, ticker, side, size, leverage, entry_price, liquidation_price, funding_paid, opened_at, closed_at
FROM public.perp_positions WHERE owner_id = $1 AND closed_at IS NULL ORDER BY id`
	var rows []perpPositionRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, query, ownerID); err != nil {
		return nil, fmt.Errorf("marketstore: open perp positions for owner: %w", err)
	}
	out := make([]PerpPosition, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// LiquidatablePositions fetches every open perp position on any ticker
// present in markPrices with one batched `= ANY($1)` query, then filters in Go
// against each position's own liquidation_price and the corresponding
// mark — a mixed SQL+Go filter because "adverse direction" depends on
// side, which is cheaper to express once in Go than duplicated per-side
// in SQL.
func (s *SQLStore) LiquidatablePositions(ctx context.Context, markPrices map[string]float64) ([]PerpPosition, error) {
	if len(markPrices) == 0 {
		return nil, nil
	}
	tickers := make([]string, 0, len(markPrices))
	for t := range markPrices {
		tickers = append(tickers, t)
	}
	const query = `
SELECT id, owner_id, ticker, side, size, leverage, entry_price, liquidation_price, funding_paid, opened_at, closed_at
FROM public.perp_positions WHERE ticker = ANY($1) AND closed_at IS NULL ORDER BY id`
	var rows []perpPositionRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, query, pq.Array(tickers)); err != nil {
		return nil, fmt.Errorf("marketstore: liquidatable positions query: %w", err)
	}
	var out []PerpPosition
	for _, r := range rows {
		pos := r.toDomain()
		mark, ok := markPrices[pos.Ticker]
		if !ok {
			continue
		}
		if pos.Side == SideLong && mark <= pos.LiquidationPrice {
			out = append(out, pos)
		} else if pos.Side == SideShort && mark >= pos.LiquidationPrice {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *SQLStore) CreatePerpPosition(ctx context.Context, pos PerpPosition) (PerpPosition, error) {
	const query = `
INSERT INTO public.perp_positions (id, owner_id, ticker, side, size, leverage, entry_price, liquidation_price, funding_paid, opened_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
RETURNING opened_at`
	if err := s.conn.QueryRowCtx(ctx, &pos.OpenedAt, query,
		pos.ID, pos.OwnerID, pos.Ticker, string(pos.Side), pos.Size, pos.Leverage, pos.EntryPrice, pos.LiquidationPrice, pos.FundingPaid); err != nil {
		return PerpPosition{}, fmt.Errorf("marketstore: create perp position: %w", err)
	}
	return pos, nil
}

func (s *SQLStore) ClosePerpPosition(ctx context.Context, positionID string, closedAt time.Time) error {
	const query = `UPDATE public.perp_positions SET closed_at = $2 WHERE id = $1`
	_, err := s.conn.ExecCtx(ctx, query, positionID, closedAt)
	if err != nil {
		return fmt.Errorf("marketstore: close perp position %s: %w", positionID, err)
	}
	return nil
}

func (s *SQLStore) AccrueFunding(ctx context.Context, positionID string, payment float64) error {
	const query = `UPDATE public.perp_positions SET funding_paid = funding_paid + $2 WHERE id = $1`
	_, err := s.conn.ExecCtx(ctx, query, positionID, payment)
	if err != nil {
		return fmt.Errorf("marketstore: accrue funding for %s: %w", positionID, err)
	}
	return nil
}

type organizationRow struct {
	Ticker          string  `db:"ticker"`
	Name            string  `db:"name"`
	InitialPrice    float64 `db:"initial_price"`
	CurrentPrice    float64 `db:"current_price"`
	SyntheticSupply float64 `db:"synthetic_supply"`
}

func (s *SQLStore) GetOrganization(ctx context.Context, ticker string) (Organization, error) {
	const query = `SELECT ticker, name, initial_price, current_price, synthetic_supply FROM public.organizations WHERE ticker = $1`
	var row organizationRow
	if err := s.conn.QueryRowCtx(ctx, &row, query, ticker); err != nil {
		return Organization{}, fmt.Errorf("marketstore: get organization %s: %w", ticker, err)
	}
	return Organization{
		Ticker: row.Ticker, Name: row.Name, InitialPrice: row.InitialPrice,
		CurrentPrice: row.CurrentPrice, SyntheticSupply: row.SyntheticSupply,
	}, nil
}

func (s *SQLStore) UpdateCurrentPrice(ctx context.Context, ticker string, price float64) error {
	const query = `UPDATE public.organizations SET current_price = $2 WHERE ticker = $1`
	_, err := s.conn.ExecCtx(ctx, query, ticker, price)
	if err != nil {
		return fmt.Errorf("marketstore: update current price for %s: %w", ticker, err)
	}
	return nil
}

func (s *SQLStore) AppendPriceHistory(ctx context.Context, sample PriceHistorySample) error {
	const query = `
INSERT INTO public.price_history (ticker, price, tick_no, at)
VALUES ($1, $2, $3, $4)`
	_, err := s.conn.ExecCtx(ctx, query, sample.Ticker, sample.Price, sample.TickNo, sample.At)
	if err != nil {
		return fmt.Errorf("marketstore: append price history for %s: %w", sample.Ticker, err)
	}
	return nil
}

func (s *SQLStore) LatestPriceHistoryTick(ctx context.Context, ticker string) (int64, error) {
	const query = `SELECT COALESCE(MAX(tick_no), 0) FROM public.price_history WHERE ticker = $1`
	var tickNo int64
	if err := s.conn.QueryRowCtx(ctx, &tickNo, query, ticker); err != nil {
		return 0, fmt.Errorf("marketstore: latest price history tick for %s: %w", ticker, err)
	}
	return tickNo, nil
}

type poolRow struct {
	ID                 string  `db:"id"`
	OwnerNPCID         string  `db:"owner_npc_id"`
	TotalValue         float64 `db:"total_value"`
	AvailableBalance   float64 `db:"available_balance"`
	LifetimePnL        float64 `db:"lifetime_pnl"`
	PerformanceFeeRate float64 `db:"performance_fee_rate"`
}

func (s *SQLStore) GetPool(ctx context.Context, poolID string) (Pool, error) {
	const query = `
SELECT id, owner_npc_id, total_value, available_balance, lifetime_pnl, performance_fee_rate
FROM public.pools WHERE id = $1`
	var row poolRow
	if err := s.conn.QueryRowCtx(ctx, &row, query, poolID); err != nil {
		return Pool{}, fmt.Errorf("marketstore: get pool %s: %w", poolID, err)
	}
	return Pool{
		ID: row.ID, OwnerNPCID: row.OwnerNPCID, TotalValue: row.TotalValue,
		AvailableBalance: row.AvailableBalance, LifetimePnL: row.LifetimePnL,
		PerformanceFeeRate: row.PerformanceFeeRate,
	}, nil
}

func (s *SQLStore) UpdatePoolBalances(ctx context.Context, poolID string, availableBalance, totalValue, lifetimePnL float64) error {
	const query = `
UPDATE public.pools SET available_balance = $2, total_value = $3, lifetime_pnl = $4 WHERE id = $1`
	_, err := s.conn.ExecCtx(ctx, query, poolID, availableBalance, totalValue, lifetimePnL)
	if err != nil {
		return fmt.Errorf("marketstore: update pool balances for %s: %w", poolID, err)
	}
	return nil
}

// AcquireTickLock and ReleaseTickLock implement the persisted single-writer
// lock against one singleton row (id = 1) in
// public.tick_locks. The UPDATE... WHERE locked = false RETURNING is the
// CAS: it only ever affects a row, and only ever returns a fencing token,
// when no other process currently holds the lock, so two concurrent
// enginectl tick.run-once processes (or a restarted process racing a still
// -running one) can never both observe acquired=true for the same token.
func (s *SQLStore) AcquireTickLock(ctx context.Context, holder string) (int64, bool, error) {
	const query = `
UPDATE public.tick_locks
SET locked = true, fencing_token = fencing_token + 1, holder = $1, locked_at = NOW()
WHERE id = 1 AND locked = false
RETURNING fencing_token`
	var token int64
	err := s.conn.QueryRowCtx(ctx, &token, query, holder)
	if err == sqlc.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("marketstore: acquire tick lock: %w", err)
	}
	return token, true, nil
}

func (s *SQLStore) ReleaseTickLock(ctx context.Context, token int64) error {
	const query = `UPDATE public.tick_locks SET locked = false, holder = '' WHERE id = 1 AND fencing_token = $1`
	_, err := s.conn.ExecCtx(ctx, query, token)
	if err != nil {
		return fmt.Errorf("marketstore: release tick lock token=%d: %w", token, err)
	}
	return nil
}

func (s *SQLStore) WriteTickSummary(ctx context.Context, summary TickSummary) error {
	const query = `
INSERT INTO public.tick_summaries (tick_no, started_at, finished_at, npcs_decided, trades_attempted, trades_succeeded, markets_resolved, positions_liquidated, funding_applied)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (tick_no) DO UPDATE SET finished_at = EXCLUDED.finished_at, npcs_decided = EXCLUDED.npcs_decided,
  trades_attempted = EXCLUDED.trades_attempted, trades_succeeded = EXCLUDED.trades_succeeded,
  markets_resolved = EXCLUDED.markets_resolved, positions_liquidated = EXCLUDED.positions_liquidated,
  funding_applied = EXCLUDED.funding_applied`
	_, err := s.conn.ExecCtx(ctx, query, summary.TickNo, summary.StartedAt, summary.FinishedAt,
		summary.NPCsDecided, summary.TradesAttempted, summary.TradesSucceeded, summary.MarketsResolved,
		summary.PositionsLiquidated, summary.FundingApplied)
	if err != nil {
		return fmt.Errorf("marketstore: write tick summary %d: %w", summary.TickNo, err)
	}
	return nil
}
