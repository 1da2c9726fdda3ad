package tick_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"simengine/pkg/engineerr"
	"simengine/pkg/journal"
	"simengine/pkg/ledger"
	"simengine/pkg/marketstore"
	"simengine/pkg/npc"
	"simengine/pkg/oracle"
	"simengine/pkg/priceupdater"
	"simengine/pkg/tick"
	"simengine/pkg/tradeexec"
)

type staticSource struct{ contexts []npc.MarketContext }

func (s staticSource) BuildContexts(context.Context) ([]npc.MarketContext, error) { return s.contexts, nil }

type staticDecider struct{ decisions map[string][]npc.Decision }

func (s staticDecider) DecideAll(context.Context, []npc.MarketContext) map[string][]npc.Decision {
	return s.decisions
}

func TestScheduler_RunOnce_FullPipeline(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	_, err := store.CreatePredictionMarket(ctx, marketstore.PredictionMarket{ID: "m1", B: 100})
	require.NoError(t, err)

	led := ledger.New(ledger.NewMemStore())
	_, err = led.Credit(ctx, "pool-1", ledger.AccountVirtualBalance, decimal.NewFromFloat(1000), ledger.KindDeposit, "seed")
	require.NoError(t, err)

	exec := tradeexec.New(store, led, 0)
	updater := priceupdater.New(store)
	resolver := oracle.NewResolver(store, oracle.NewMemClient(), led, 0)

	src := staticSource{contexts: []npc.MarketContext{{NPCID: "npc-1", PoolID: "pool-1", AvailableBalance: 1000}}}
	decider := staticDecider{decisions: map[string][]npc.Decision{
		"npc-1": {{Action: npc.ActionBuyYes, MarketID: "m1", Amount: 10, Confidence: 0.9}},
	}}

	sched := tick.New(store, src, decider, exec, updater, resolver, tick.Config{})
	require.Equal(t, tick.StateIdle, sched.Status())

	summary, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.TickNo)
	require.Equal(t, 1, summary.NPCsDecided)
	require.Equal(t, 1, summary.TradesAttempted)
	require.Equal(t, 1, summary.TradesSucceeded)
	require.Equal(t, tick.StateIdle, sched.Status())

	summaries := store.TickSummaries()
	require.Len(t, summaries, 1)
}

type blockingSource struct{ release chan struct{} }

func (s blockingSource) BuildContexts(ctx context.Context) ([]npc.MarketContext, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil, nil
}

func TestScheduler_RunOnce_BusyWhileTickInFlight(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	led := ledger.New(ledger.NewMemStore())
	exec := tradeexec.New(store, led, 0)
	updater := priceupdater.New(store)
	src := blockingSource{release: make(chan struct{})}
	decider := staticDecider{decisions: map[string][]npc.Decision{}}

	sched := tick.New(store, src, decider, exec, updater, nil, tick.Config{})

	done := make(chan error, 1)
	go func() {
		_, err := sched.RunOnce(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return sched.Status() != tick.StateIdle }, time.Second, time.Millisecond)

	start := time.Now()
	_, err := sched.RunOnce(ctx)
	require.True(t, engineerr.Is(err, engineerr.Busy), "second invocation while in flight must return busy, got %v", err)
	require.Less(t, time.Since(start), 50*time.Millisecond, "busy must be reported without blocking")

	close(src.release)
	require.NoError(t, <-done)
}

func TestScheduler_RunOnce_BusyWhenPersistedLockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	_, acquired, err := store.AcquireTickLock(ctx, "other-process")
	require.NoError(t, err)
	require.True(t, acquired)

	led := ledger.New(ledger.NewMemStore())
	exec := tradeexec.New(store, led, 0)
	updater := priceupdater.New(store)
	src := staticSource{}
	decider := staticDecider{decisions: map[string][]npc.Decision{}}

	sched := tick.New(store, src, decider, exec, updater, nil, tick.Config{})
	_, err = sched.RunOnce(ctx)
	require.True(t, engineerr.Is(err, engineerr.Busy), "a lock held by another process must reject the tick, got %v", err)
}

func TestScheduler_RunOnce_WritesJournalRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := marketstore.NewMemStore()
	led := ledger.New(ledger.NewMemStore())
	exec := tradeexec.New(store, led, 0)
	updater := priceupdater.New(store)
	src := staticSource{}
	decider := staticDecider{decisions: map[string][]npc.Decision{}}

	sched := tick.New(store, src, decider, exec, updater, nil, tick.Config{Journal: journal.NewWriter(dir)})
	_, err := sched.RunOnce(ctx)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "one journal file per tick")
}

func TestScheduler_RunOnce_FencingTokenAdvancesEachTick(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	led := ledger.New(ledger.NewMemStore())
	exec := tradeexec.New(store, led, 0)
	updater := priceupdater.New(store)
	resolver := oracle.NewResolver(store, oracle.NewMemClient(), led, 0)
	src := staticSource{}
	decider := staticDecider{decisions: map[string][]npc.Decision{}}

	sched := tick.New(store, src, decider, exec, updater, resolver, tick.Config{})

	_, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	first := sched.FencingToken()

	_, err = sched.RunOnce(ctx)
	require.NoError(t, err)
	require.Greater(t, sched.FencingToken(), first, "fencing token must strictly increase each tick")
}

func TestScheduler_RunOnce_LiquidatesAndAppliesFunding(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	led := ledger.New(ledger.NewMemStore())
	_, err := led.Credit(ctx, "u1", ledger.AccountVirtualBalance, decimal.NewFromFloat(1000), ledger.KindDeposit, "seed")
	require.NoError(t, err)

	require.NoError(t, store.UpsertPerpMarket(ctx, marketstore.PerpMarket{Ticker: "T", MarkPrice: 110, FundingRate: 0.01}))
	_, err = store.CreatePerpPosition(ctx, marketstore.PerpPosition{
		ID: "p1", OwnerID: "u1", Ticker: "T", Side: marketstore.SideShort,
		Size: 100, Leverage: 10, EntryPrice: 100, LiquidationPrice: 109.5,
	})
	require.NoError(t, err)

	exec := tradeexec.New(store, led, 0)
	updater := priceupdater.New(store)
	resolver := oracle.NewResolver(store, oracle.NewMemClient(), led, 0)
	src := staticSource{}
	decider := staticDecider{decisions: map[string][]npc.Decision{}}

	sched := tick.New(store, src, decider, exec, updater, resolver, tick.Config{})
	summary, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.PositionsLiquidated, "the short at entry=100 is liquidatable once mark reaches 109.5")
	require.Equal(t, 1, summary.FundingApplied, "funding is swept over every perp market each tick")

	positions, err := store.OpenPerpPositionsForOwner(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, positions, "the liquidated position must no longer be open")
}

func TestScheduler_RunOnce_FundingAppliesWithoutLiquidation(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	led := ledger.New(ledger.NewMemStore())
	_, err := led.Credit(ctx, "u1", ledger.AccountVirtualBalance, decimal.NewFromFloat(1000), ledger.KindDeposit, "seed")
	require.NoError(t, err)

	require.NoError(t, store.UpsertPerpMarket(ctx, marketstore.PerpMarket{Ticker: "T", MarkPrice: 100, FundingRate: 0.01}))
	_, err = store.CreatePerpPosition(ctx, marketstore.PerpPosition{
		ID: "p1", OwnerID: "u1", Ticker: "T", Side: marketstore.SideLong,
		Size: 10, Leverage: 1, EntryPrice: 100, LiquidationPrice: 1,
	})
	require.NoError(t, err)

	preBalance, err := led.Balance(ctx, "u1")
	require.NoError(t, err)

	exec := tradeexec.New(store, led, 0)
	updater := priceupdater.New(store)
	resolver := oracle.NewResolver(store, oracle.NewMemClient(), led, 0)
	src := staticSource{}
	decider := staticDecider{decisions: map[string][]npc.Decision{}}

	sched := tick.New(store, src, decider, exec, updater, resolver, tick.Config{Interval: 15 * time.Minute})
	summary, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, summary.PositionsLiquidated)
	require.Equal(t, 1, summary.FundingApplied)

	postBalance, err := led.Balance(ctx, "u1")
	require.NoError(t, err)
	require.True(t, postBalance.LessThan(preBalance), "a positive funding rate debits the long side")

	positions, err := store.OpenPerpPositionsByTicker(ctx, "T")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.InDelta(t, -0.025, positions[0].FundingPaid, 1e-9, "quarter-hour tick applies a quarter of the hourly 0.01*10 rate")
}
