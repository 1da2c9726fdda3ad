package tradeexec_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"simengine/pkg/ledger"
	"simengine/pkg/marketstore"
	"simengine/pkg/pricing"
	"simengine/pkg/tradeexec"
)

func newFixture(t *testing.T, userID string, startBalance float64) (*tradeexec.Executor, *marketstore.MemStore, *ledger.Ledger) {
	t.Helper()
	store := marketstore.NewMemStore()
	led := ledger.New(ledger.NewMemStore())
	ctx := context.Background()
	_, err := led.Credit(ctx, userID, ledger.AccountVirtualBalance, decimal.NewFromFloat(startBalance), ledger.KindDeposit, "seed")
	require.NoError(t, err)
	return tradeexec.New(store, led, 0), store, led
}

// LMSR buy: b=100 market, balance-100 user spends 10 cash on YES.
func TestExecutor_PredictionBuy_MatchesLiteralScenario(t *testing.T) {
	ctx := context.Background()
	exec, store, led := newFixture(t, "u1", 100)

	_, err := store.CreatePredictionMarket(ctx, marketstore.PredictionMarket{ID: "m1", B: 100})
	require.NoError(t, err)

	successes, failures := exec.Execute(ctx, []tradeexec.Intent{{
		ID: "i1", OwnerID: "u1", Action: tradeexec.ActionBuyYes, MarketID: "m1", CashAmount: 10,
	}})
	require.Empty(t, failures)
	require.Len(t, successes, 1)
	require.InDelta(t, 19.90, successes[0].Impact.ShareDelta, 1.0)

	bal, err := led.Balance(ctx, "u1")
	require.NoError(t, err)
	require.True(t, bal.Equal(decimal.NewFromInt(90)))

	m, err := store.GetPredictionMarket(ctx, "m1")
	require.NoError(t, err)
	py, _ := pricing.Prices(m.QYes, m.QNo, m.B)
	require.InDelta(t, 0.5496, py, 0.01)

	pos, ok, err := store.GetPredictionPosition(ctx, "u1", "m1", marketstore.SideYes)
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 19.90, pos.Shares, 1.0)
	require.InDelta(t, 10.0/pos.Shares, pos.AvgPrice, 1e-9)
}

func TestExecutor_PredictionBuy_MarketClosed(t *testing.T) {
	ctx := context.Background()
	exec, store, _ := newFixture(t, "u1", 100)
	_, err := store.CreatePredictionMarket(ctx, marketstore.PredictionMarket{ID: "m1", B: 100})
	require.NoError(t, err)
	require.NoError(t, store.MarkMarketResolved(ctx, "m1", marketstore.OutcomeYes))

	_, failures := exec.Execute(ctx, []tradeexec.Intent{{ID: "i1", OwnerID: "u1", Action: tradeexec.ActionBuyYes, MarketID: "m1", CashAmount: 10}})
	require.Len(t, failures, 1)
}

// Perp open+close at a profit: entry=50, size=500, leverage=5, mark=60.
func TestExecutor_PerpOpenClose_Profit(t *testing.T) {
	ctx := context.Background()
	exec, store, led := newFixture(t, "u1", 1000)
	require.NoError(t, store.UpsertPerpMarket(ctx, marketstore.PerpMarket{Ticker: "T", MarkPrice: 50}))

	successes, failures := exec.Execute(ctx, []tradeexec.Intent{{
		ID: "open", OwnerID: "u1", Action: tradeexec.ActionOpenLong, Ticker: "T", CashAmount: 500, Leverage: 5,
	}})
	require.Empty(t, failures)
	require.Len(t, successes, 1)

	bal, err := led.Balance(ctx, "u1")
	require.NoError(t, err)
	require.True(t, bal.Equal(decimal.NewFromInt(900)))

	positions, err := store.OpenPerpPositionsForOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.InDelta(t, 40.25, positions[0].LiquidationPrice, 0.01)

	require.NoError(t, store.UpsertPerpMarket(ctx, marketstore.PerpMarket{Ticker: "T", MarkPrice: 60}))
	pnl := pricing.UnrealizedPnL(pricing.Long, positions[0].EntryPrice, 60, positions[0].Size)
	require.InDelta(t, 100, pnl, 1e-9)

	successes, failures = exec.Execute(ctx, []tradeexec.Intent{{
		ID: "close", OwnerID: "u1", Action: tradeexec.ActionClose, Ticker: "T", PositionID: positions[0].ID,
	}})
	require.Empty(t, failures)
	require.Len(t, successes, 1)

	bal, err = led.Balance(ctx, "u1")
	require.NoError(t, err)
	require.True(t, bal.Equal(decimal.NewFromInt(1100)), "got %s", bal)
}

// Liquidation: short entry=100, size=1000, leverage=10, mark reaches 110.
func TestExecutor_Liquidation_ZeroesMarginNotNegative(t *testing.T) {
	ctx := context.Background()
	exec, store, led := newFixture(t, "u1", 1000)
	require.NoError(t, store.UpsertPerpMarket(ctx, marketstore.PerpMarket{Ticker: "T", MarkPrice: 100}))

	_, failures := exec.Execute(ctx, []tradeexec.Intent{{
		ID: "open", OwnerID: "u1", Action: tradeexec.ActionOpenShort, Ticker: "T", CashAmount: 1000, Leverage: 10,
	}})
	require.Empty(t, failures)
	positions, _ := store.OpenPerpPositionsForOwner(ctx, "u1")
	require.Len(t, positions, 1)
	require.InDelta(t, 109.5, positions[0].LiquidationPrice, 0.01)

	preMark, err := led.Balance(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, store.UpsertPerpMarket(ctx, marketstore.PerpMarket{Ticker: "T", MarkPrice: 110}))
	liquidated := exec.LiquidateAll(ctx, map[string]float64{"T": 110})
	require.Len(t, liquidated, 1)

	postMark, err := led.Balance(ctx, "u1")
	require.NoError(t, err)
	require.True(t, postMark.Equal(preMark), "balance must be unchanged by liquidation: pre=%s post=%s", preMark, postMark)

	history, err := led.History(ctx, "u1", 0)
	require.NoError(t, err)
	var sawLiquidation bool
	for _, tx := range history {
		if tx.Kind == ledger.KindPerpLiquidation {
			sawLiquidation = true
			require.True(t, tx.Amount.IsZero())
		}
	}
	require.True(t, sawLiquidation)
}
