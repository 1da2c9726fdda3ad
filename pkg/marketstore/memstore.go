package marketstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"simengine/pkg/engineerr"
)

// MemStore is an in-process Store used by package tests and by
// enginectl's one-shot commands when no Postgres DSN is configured. The
// production SQLStore wraps sqlx.SqlConn with the same contract.
type MemStore struct {
	mu sync.Mutex

	predictionMarkets   map[string]PredictionMarket
	predictionPositions map[string]PredictionPosition // key: userID|marketID|side
	perpMarkets         map[string]PerpMarket
	perpPositions       map[string]PerpPosition
	organizations       map[string]Organization
	pools               map[string]Pool
	priceHistory        map[string][]PriceHistorySample
	tickSummaries       []TickSummary

	tickLocked bool
	tickToken  int64
	tickHolder string

	seq int
}

func NewMemStore() *MemStore {
	return &MemStore{
		predictionMarkets:   make(map[string]PredictionMarket),
		predictionPositions: make(map[string]PredictionPosition),
		perpMarkets:         make(map[string]PerpMarket),
		perpPositions:       make(map[string]PerpPosition),
		organizations:       make(map[string]Organization),
		pools:               make(map[string]Pool),
		priceHistory:        make(map[string][]PriceHistorySample),
	}
}

func (s *MemStore) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func predKey(userID, marketID string, side PredictionSide) string {
	return userID + "|" + marketID + "|" + string(side)
}

// SeedOrganization and SeedPool are test/bootstrap helpers; production
// organizations and pools are created through their own admin paths, which
// are out of scope for the tick pipeline itself.
func (s *MemStore) SeedOrganization(o Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizations[o.Ticker] = o
}

func (s *MemStore) SeedPool(p Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[p.ID] = p
}

func (s *MemStore) CreatePredictionMarket(_ context.Context, m PredictionMarket) (PredictionMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = s.nextID("mkt")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.Outcome = OutcomeUnresolved
	s.predictionMarkets[m.ID] = m
	return m, nil
}

func (s *MemStore) GetPredictionMarket(_ context.Context, marketID string) (PredictionMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.predictionMarkets[marketID]
	if !ok {
		return PredictionMarket{}, engineerr.New(engineerr.NotFound, "marketstore: prediction market not found").WithRelated(marketID)
	}
	return m, nil
}

func (s *MemStore) OpenPredictionMarkets(_ context.Context) ([]PredictionMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PredictionMarket
	for _, m := range s.predictionMarkets {
		if !m.Resolved {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemStore) MaturedUnresolvedMarkets(_ context.Context, now time.Time) ([]PredictionMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PredictionMarket
	for _, m := range s.predictionMarkets {
		if !m.Resolved && !m.ResolutionTime.After(now) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemStore) SetOracleSession(_ context.Context, marketID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.predictionMarkets[marketID]
	if !ok {
		return engineerr.New(engineerr.NotFound, "marketstore: prediction market not found").WithRelated(marketID)
	}
	m.OracleSession = sessionID
	s.predictionMarkets[marketID] = m
	return nil
}

func (s *MemStore) MutateShares(_ context.Context, marketID string, newQYes, newQNo float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.predictionMarkets[marketID]
	if !ok {
		return engineerr.New(engineerr.NotFound, "marketstore: prediction market not found").WithRelated(marketID)
	}
	m.QYes, m.QNo = newQYes, newQNo
	s.predictionMarkets[marketID] = m
	return nil
}

func (s *MemStore) MarkMarketResolved(_ context.Context, marketID string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.predictionMarkets[marketID]
	if !ok {
		return engineerr.New(engineerr.NotFound, "marketstore: prediction market not found").WithRelated(marketID)
	}
	m.Resolved = true
	m.Outcome = outcome
	s.predictionMarkets[marketID] = m
	return nil
}

func (s *MemStore) GetPredictionPosition(_ context.Context, userID, marketID string, side PredictionSide) (PredictionPosition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictionPositions[predKey(userID, marketID, side)]
	return p, ok, nil
}

// UpsertPredictionPosition enforces the never-negative-shares invariant
// and stores the position as given; the caller computes Shares and
// AvgPrice. Closing trades call ClosePredictionPosition.
func (s *MemStore) UpsertPredictionPosition(_ context.Context, pos PredictionPosition) (PredictionPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos.Shares < 0 {
		return PredictionPosition{}, engineerr.New(engineerr.InvariantViolation, "marketstore: prediction position shares must not be negative")
	}
	if pos.ID == "" {
		pos.ID = s.nextID("ppos")
	}
	s.predictionPositions[predKey(pos.UserID, pos.MarketID, pos.Side)] = pos
	return pos, nil
}

func (s *MemStore) OpenPredictionPositionsByMarket(_ context.Context, marketID string) ([]PredictionPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PredictionPosition
	for _, p := range s.predictionPositions {
		if p.MarketID == marketID && p.ClosedAt == nil && p.Shares > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemStore) OpenPredictionPositionsForUser(_ context.Context, userID string) ([]PredictionPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PredictionPosition
	for _, p := range s.predictionPositions {
		if p.UserID == userID && p.ClosedAt == nil && p.Shares > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemStore) ClosePredictionPosition(_ context.Context, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, p := range s.predictionPositions {
		if p.ID == positionID {
			now := time.Now()
			p.ClosedAt = &now
			s.predictionPositions[key] = p
			return nil
		}
	}
	return engineerr.New(engineerr.PositionNotFound, "marketstore: prediction position not found").WithRelated(positionID)
}

func (s *MemStore) GetPerpMarket(_ context.Context, ticker string) (PerpMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.perpMarkets[ticker]
	if !ok {
		return PerpMarket{}, engineerr.New(engineerr.NotFound, "marketstore: perp market not found").WithRelated(ticker)
	}
	return m, nil
}

func (s *MemStore) UpsertPerpMarket(_ context.Context, m PerpMarket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perpMarkets[m.Ticker] = m
	return nil
}

// ListPerpMarkets returns every perp market sorted by ticker, matching
// the lexicographic replay-determinism ordering the tick pipeline fans
// out over.
func (s *MemStore) ListPerpMarkets(_ context.Context) ([]PerpMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PerpMarket, 0, len(s.perpMarkets))
	for _, m := range s.perpMarkets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (s *MemStore) OpenPerpPositionsByTicker(_ context.Context, ticker string) ([]PerpPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PerpPosition
	for _, p := range s.perpPositions {
		if p.Ticker == ticker && p.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemStore) OpenPerpPositionsForOwner(_ context.Context, ownerID string) ([]PerpPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PerpPosition
	for _, p := range s.perpPositions {
		if p.OwnerID == ownerID && p.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemStore) LiquidatablePositions(_ context.Context, markPrices map[string]float64) ([]PerpPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PerpPosition
	for _, p := range s.perpPositions {
		if !p.IsOpen() {
			continue
		}
		mark, ok := markPrices[p.Ticker]
		if !ok {
			continue
		}
		liquidatable := (p.Side == SideLong && mark <= p.LiquidationPrice) || (p.Side == SideShort && mark >= p.LiquidationPrice)
		if liquidatable {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemStore) CreatePerpPosition(_ context.Context, pos PerpPosition) (PerpPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos.Size <= 0 {
		return PerpPosition{}, engineerr.New(engineerr.InvariantViolation, "marketstore: perp position size must be positive")
	}
	if pos.ID == "" {
		pos.ID = s.nextID("perp")
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now()
	}
	s.perpPositions[pos.ID] = pos
	return pos, nil
}

func (s *MemStore) ClosePerpPosition(_ context.Context, positionID string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perpPositions[positionID]
	if !ok {
		return engineerr.New(engineerr.PositionNotFound, "marketstore: perp position not found").WithRelated(positionID)
	}
	p.ClosedAt = &closedAt
	s.perpPositions[positionID] = p
	return nil
}

func (s *MemStore) AccrueFunding(_ context.Context, positionID string, payment float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perpPositions[positionID]
	if !ok {
		return engineerr.New(engineerr.PositionNotFound, "marketstore: perp position not found").WithRelated(positionID)
	}
	p.FundingPaid += payment
	s.perpPositions[positionID] = p
	return nil
}

func (s *MemStore) GetOrganization(_ context.Context, ticker string) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.organizations[ticker]
	if !ok {
		return Organization{}, engineerr.New(engineerr.NotFound, "marketstore: organization not found").WithRelated(ticker)
	}
	return o, nil
}

func (s *MemStore) UpdateCurrentPrice(_ context.Context, ticker string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.organizations[ticker]
	if !ok {
		return engineerr.New(engineerr.NotFound, "marketstore: organization not found").WithRelated(ticker)
	}
	o.CurrentPrice = price
	s.organizations[ticker] = o
	return nil
}

func (s *MemStore) AppendPriceHistory(_ context.Context, sample PriceHistorySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.priceHistory[sample.Ticker] {
		if existing.TickNo == sample.TickNo {
			return engineerr.Newf(engineerr.Conflict, "marketstore: price history for %s tick %d already recorded", sample.Ticker, sample.TickNo)
		}
	}
	s.priceHistory[sample.Ticker] = append(s.priceHistory[sample.Ticker], sample)
	return nil
}

func (s *MemStore) LatestPriceHistoryTick(_ context.Context, ticker string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest int64 = -1
	for _, sample := range s.priceHistory[ticker] {
		if sample.TickNo > latest {
			latest = sample.TickNo
		}
	}
	return latest, nil
}

func (s *MemStore) GetPool(_ context.Context, poolID string) (Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[poolID]
	if !ok {
		return Pool{}, engineerr.New(engineerr.NotFound, "marketstore: pool not found").WithRelated(poolID)
	}
	return p, nil
}

func (s *MemStore) UpdatePoolBalances(_ context.Context, poolID string, availableBalance, totalValue, lifetimePnL float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[poolID]
	if !ok {
		return engineerr.New(engineerr.NotFound, "marketstore: pool not found").WithRelated(poolID)
	}
	p.AvailableBalance = availableBalance
	p.TotalValue = totalValue
	p.LifetimePnL = lifetimePnL
	s.pools[poolID] = p
	return nil
}

func (s *MemStore) WriteTickSummary(_ context.Context, summary TickSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickSummaries = append(s.tickSummaries, summary)
	return nil
}

// TickSummaries is a test/debug accessor; production reads go through a
// dedicated query once the CLI surface needs them.
func (s *MemStore) TickSummaries() []TickSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TickSummary, len(s.tickSummaries))
	copy(out, s.tickSummaries)
	return out
}

// AcquireTickLock and ReleaseTickLock back the persisted single-writer
// lock with one shared lock row guarded by the same
// mutex every other write in this store uses, so a CAS here is as atomic
// as any other MemStore mutation.
func (s *MemStore) AcquireTickLock(_ context.Context, holder string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickLocked {
		return 0, false, nil
	}
	s.tickLocked = true
	s.tickToken++
	s.tickHolder = holder
	return s.tickToken, true, nil
}

func (s *MemStore) ReleaseTickLock(_ context.Context, token int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickLocked && s.tickToken == token {
		s.tickLocked = false
		s.tickHolder = ""
	}
	return nil
}
