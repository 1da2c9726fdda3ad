// Package tick implements the tick scheduler: a single-writer state
// machine that drives one game tick through context-building, decisions,
// execution, pricing, resolution, and persistence.
package tick

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"simengine/pkg/engineerr"
	"simengine/pkg/journal"
	"simengine/pkg/ledger"
	"simengine/pkg/marketstore"
	"simengine/pkg/npc"
	"simengine/pkg/oracle"
	"simengine/pkg/priceupdater"
	"simengine/pkg/tradeexec"
)

// State is one node of the IDLE ->... -> IDLE state machine.
type State string

const (
	StateIdle            State = "IDLE"
	StateBuildingContext State = "BUILDING_CONTEXT"
	StateDeciding        State = "DECIDING"
	StateExecuting       State = "EXECUTING"
	StatePricing         State = "PRICING"
	StateResolving       State = "RESOLVING"
	StatePersisting      State = "PERSISTING"
)

// DefaultInterval matches TICK_INTERVAL_MS=60000; the hard timeout
// defaults to 3x the interval (TICK_HARD_TIMEOUT_MS).
const (
	DefaultInterval   = 60 * time.Second
	DefaultLeverage   = 1
	hardTimeoutFactor = 3

	// DefaultFundingCadence is one hour of wall-clock. Ticks shorter than
	// this apply a pro-rated slice of the stored hourly rate each time.
	DefaultFundingCadence = time.Hour
)

// ContextSource builds the per-NPC context for one tick.
type ContextSource interface {
	BuildContexts(ctx context.Context) ([]npc.MarketContext, error)
}

// Decider runs the NPC Decision Engine for a batch of contexts.
type Decider interface {
	DecideAll(ctx context.Context, npcs []npc.MarketContext) map[string][]npc.Decision
}

// Scheduler drives one tick at a time across the engine. It is the only
// process-wide mutable singleton besides the runtime manager map.
type Scheduler struct {
	store    marketstore.Store
	ctxSrc   ContextSource
	decider  Decider
	exec     *tradeexec.Executor
	updater  *priceupdater.Updater
	resolver *oracle.Resolver

	interval       time.Duration
	hardTimeout    time.Duration
	fundingCadence time.Duration

	journal *journal.Writer // optional; nil disables the flat-file tick journal

	// holder identifies this process to the persisted tick lock; generated once per Scheduler so a crashed-and-restarted process
	// shows up as a new holder rather than silently reusing the old one.
	holder string

	busy         int32
	fencingToken int64
	tickNo       int64

	stateMu sync.RWMutex
	state   State
}

type Config struct {
	Interval       time.Duration
	HardTimeout    time.Duration
	FundingCadence time.Duration

	// Journal, when set, receives one flat-file record per tick in
	// addition to the Market Store's tick-summary row.
	Journal *journal.Writer
}

func New(store marketstore.Store, ctxSrc ContextSource, decider Decider, exec *tradeexec.Executor, updater *priceupdater.Updater, resolver *oracle.Resolver, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = hardTimeoutFactor * cfg.Interval
	}
	if cfg.FundingCadence <= 0 {
		cfg.FundingCadence = DefaultFundingCadence
	}
	return &Scheduler{
		store: store, ctxSrc: ctxSrc, decider: decider, exec: exec, updater: updater, resolver: resolver,
		interval: cfg.Interval, hardTimeout: cfg.HardTimeout, fundingCadence: cfg.FundingCadence, state: StateIdle,
		journal: cfg.Journal,
		holder:  uuid.New().String(),
	}
}

// ledgerFundingSink adapts pkg/ledger.Ledger to priceupdater.FundingSink,
// crediting a position's owner when amount is positive and debiting when
// negative.
type ledgerFundingSink struct {
	ledger *ledger.Ledger
}

func (s *ledgerFundingSink) ApplyFunding(ctx context.Context, pos marketstore.PerpPosition, amount float64) error {
	if amount == 0 {
		return nil
	}
	amt := decimal.NewFromFloat(amount)
	if amt.Sign() > 0 {
		_, err := s.ledger.Credit(ctx, pos.OwnerID, ledger.AccountVirtualBalance, amt, ledger.KindFunding, pos.ID)
		return err
	}
	_, err := s.ledger.Debit(ctx, pos.OwnerID, ledger.AccountVirtualBalance, amt.Neg(), ledger.KindFunding, pos.ID)
	return err
}

// Status returns the scheduler's current phase, for progress reporting.
func (s *Scheduler) Status() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// FencingToken returns the token the persisted tick lock (marketstore.Store
// .AcquireTickLock) assigned to the most recently started tick, for
// rejecting writes from a stale process.
func (s *Scheduler) FencingToken() int64 { return atomic.LoadInt64(&s.fencingToken) }

// RunOnce executes exactly one tick. If a tick is already in flight —
// whether in this process (the in-memory busy flag, checked first so a
// same-process double-call never even reaches the store) or in another
// one (the persisted tick_lock row, checked second so a restarted or
// concurrent enginectl process is rejected too) — it returns
// engineerr.Busy immediately without blocking.
func (s *Scheduler) RunOnce(ctx context.Context) (marketstore.TickSummary, error) {
	if !atomic.CompareAndSwapInt32(&s.busy, 0, 1) {
		return marketstore.TickSummary{}, engineerr.New(engineerr.Busy, "tick: a tick is already in flight")
	}
	defer atomic.StoreInt32(&s.busy, 0)

	token, acquired, err := s.store.AcquireTickLock(ctx, s.holder)
	if err != nil {
		return marketstore.TickSummary{}, fmt.Errorf("tick: acquire persisted tick lock: %w", err)
	}
	if !acquired {
		return marketstore.TickSummary{}, engineerr.New(engineerr.Busy, "tick: a tick is already in flight (persisted lock held by another process)")
	}
	atomic.StoreInt64(&s.fencingToken, token)
	defer func() {
		if err := s.store.ReleaseTickLock(context.Background(), token); err != nil {
			logx.WithContext(ctx).Errorf("tick: release persisted tick lock token=%d: %v", token, err)
		}
	}()

	tickNo := atomic.AddInt64(&s.tickNo, 1)
	hardCtx, cancel := context.WithTimeout(ctx, s.hardTimeout)
	defer cancel()

	summary := marketstore.TickSummary{TickNo: tickNo, StartedAt: time.Now()}
	logx.WithContext(ctx).Infof("tick: starting tick=%d token=%d", tickNo, token)

	defer func() {
		s.setState(StateIdle)
	}()

	s.setState(StateBuildingContext)
	npcs, err := s.ctxSrc.BuildContexts(hardCtx)
	if err != nil {
		return s.rollback(ctx, summary, "build_context", err)
	}
	if hardCtx.Err() != nil {
		return s.rollback(ctx, summary, "build_context", hardCtx.Err())
	}

	s.setState(StateDeciding)
	decisionsByNPC := s.decider.DecideAll(hardCtx, npcs)
	summary.NPCsDecided = len(decisionsByNPC)
	if hardCtx.Err() != nil {
		return s.rollback(ctx, summary, "deciding", hardCtx.Err())
	}

	s.setState(StateExecuting)
	intents := toIntents(npcs, decisionsByNPC)
	summary.TradesAttempted = len(intents)
	successes, failures := s.exec.Execute(hardCtx, intents)
	summary.TradesSucceeded = len(successes)
	failedIDs := make([]string, 0, len(failures))
	for _, f := range failures {
		logx.WithContext(ctx).Infof("tick: intent %s failed: %v", f.IntentID, f.Err)
		failedIDs = append(failedIDs, f.IntentID)
	}
	if hardCtx.Err() != nil {
		return s.rollback(ctx, summary, "executing", hardCtx.Err())
	}

	s.setState(StatePricing)
	impacts := make([]tradeexec.TradeImpact, 0, len(successes))
	for _, r := range successes {
		if r.Impact != nil {
			impacts = append(impacts, *r.Impact)
		}
	}
	s.updater.ApplyImpacts(hardCtx, impacts, tickNo)

	markets, err := s.store.ListPerpMarkets(hardCtx)
	if err != nil {
		logx.WithContext(ctx).Errorf("tick: list perp markets failed: %v", err)
	} else {
		markPrices := make(map[string]float64, len(markets))
		for _, m := range markets {
			markPrices[m.Ticker] = m.MarkPrice
		}
		liquidated := s.exec.LiquidateAll(hardCtx, markPrices)
		summary.PositionsLiquidated = len(liquidated)

		fraction := float64(s.interval) / float64(s.fundingCadence)
		sink := &ledgerFundingSink{ledger: s.exec.Ledger()}
		for _, m := range markets {
			if err := s.updater.ApplyFunding(hardCtx, m.Ticker, fraction, sink); err != nil {
				logx.WithContext(ctx).Errorf("tick: apply funding %s: %v", m.Ticker, err)
			}
		}
		summary.FundingApplied = len(markets)
	}
	if hardCtx.Err() != nil {
		return s.rollback(ctx, summary, "pricing", hardCtx.Err())
	}

	s.setState(StateResolving)
	if s.resolver != nil {
		resolved, err := s.resolver.Sweep(hardCtx, time.Now())
		if err != nil {
			logx.WithContext(ctx).Errorf("tick: resolution sweep error: %v", err)
		}
		summary.MarketsResolved = resolved
	}
	if hardCtx.Err() != nil {
		return s.rollback(ctx, summary, "resolving", hardCtx.Err())
	}

	s.setState(StatePersisting)
	summary.FinishedAt = time.Now()
	if err := s.store.WriteTickSummary(ctx, summary); err != nil {
		logx.WithContext(ctx).Errorf("tick: write summary failed: %v", err)
		return summary, err
	}
	s.writeJournal(ctx, summary, token, failedIDs, "")

	logx.WithContext(ctx).Infof("tick: finished tick=%d npcs=%d attempted=%d succeeded=%d resolved=%d liquidated=%d funded=%d duration=%s",
		tickNo, summary.NPCsDecided, summary.TradesAttempted, summary.TradesSucceeded, summary.MarketsResolved,
		summary.PositionsLiquidated, summary.FundingApplied, summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

// rollback handles a hard-deadline breach: each phase commits
// independently, so there is nothing to undo. Rollback means simply not
// proceeding into later phases; whatever mutated already stays
// committed.
func (s *Scheduler) rollback(ctx context.Context, summary marketstore.TickSummary, phase string, cause error) (marketstore.TickSummary, error) {
	summary.FinishedAt = time.Now()
	logx.WithContext(ctx).Errorf("tick: hard deadline exceeded during %s, rolling back to last phase boundary: %v", phase, cause)
	if err := s.store.WriteTickSummary(ctx, summary); err != nil {
		logx.WithContext(ctx).Errorf("tick: write partial summary failed: %v", err)
	}
	s.writeJournal(ctx, summary, atomic.LoadInt64(&s.fencingToken), nil, fmt.Sprintf("phase %s exceeded hard deadline: %v", phase, cause))
	return summary, fmt.Errorf("tick: phase %s exceeded hard deadline: %w", phase, cause)
}

// writeJournal mirrors the tick summary into the optional flat-file
// journal; a write failure is logged, never escalated.
func (s *Scheduler) writeJournal(ctx context.Context, summary marketstore.TickSummary, token int64, failedIDs []string, errMsg string) {
	if s.journal == nil {
		return
	}
	_, err := s.journal.WriteTick(&journal.TickRecord{
		Timestamp:           summary.StartedAt,
		TickNo:              summary.TickNo,
		FencingToken:        token,
		NPCsDecided:         summary.NPCsDecided,
		TradesAttempted:     summary.TradesAttempted,
		TradesSucceeded:     summary.TradesSucceeded,
		MarketsResolved:     summary.MarketsResolved,
		PositionsLiquidated: summary.PositionsLiquidated,
		FundingApplied:      summary.FundingApplied,
		DurationMs:          summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
		FailedIntents:       failedIDs,
		Success:             errMsg == "",
		ErrorMessage:        errMsg,
	})
	if err != nil {
		logx.WithContext(ctx).Errorf("tick: write journal record: %v", err)
	}
}

// toIntents flattens the per-NPC decision map into one intent batch,
// ordered lexicographically by (ref, npc_id) within one tick so that
// multiple intents against the same market are processed serially.
func toIntents(npcs []npc.MarketContext, byNPC map[string][]npc.Decision) []tradeexec.Intent {
	poolOf := make(map[string]string, len(npcs))
	for _, mc := range npcs {
		poolOf[mc.NPCID] = mc.PoolID
	}

	type keyed struct {
		ref, npcID string
		intent     tradeexec.Intent
	}
	var all []keyed
	for npcID, decisions := range byNPC {
		owner := poolOf[npcID]
		for i, d := range decisions {
			id := fmt.Sprintf("%s-%d", npcID, i)
			all = append(all, keyed{ref: refOf(d), npcID: npcID, intent: d.ToIntent(id, owner, DefaultLeverage)})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ref != all[j].ref {
			return all[i].ref < all[j].ref
		}
		return all[i].npcID < all[j].npcID
	})
	out := make([]tradeexec.Intent, len(all))
	for i, k := range all {
		out[i] = k.intent
	}
	return out
}

func refOf(d npc.Decision) string {
	if d.Ticker != "" {
		return d.Ticker
	}
	return d.MarketID
}
