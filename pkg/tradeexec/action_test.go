package tradeexec_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"simengine/pkg/ledger"
	"simengine/pkg/marketstore"
	"simengine/pkg/tradeexec"
)

func TestRuntimeAction_Execute_BuysSharesFromParams(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	led := ledger.New(ledger.NewMemStore())
	_, err := led.Credit(ctx, "agent-1", ledger.AccountVirtualBalance, decimal.NewFromFloat(100), ledger.KindDeposit, "seed")
	require.NoError(t, err)
	_, err = store.CreatePredictionMarket(ctx, marketstore.PredictionMarket{ID: "m1", B: 100})
	require.NoError(t, err)

	exec := tradeexec.New(store, led, 0)
	action := tradeexec.NewRuntimeAction(exec, tradeexec.ActionBuyYes)
	require.Equal(t, "buy_yes", action.Name())

	err = action.Execute(ctx, "agent-1", map[string]any{"market_id": "m1", "cash_amount": 10.0})
	require.NoError(t, err)
}

func TestRuntimeAction_Execute_SurfacesExecutorFailure(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	led := ledger.New(ledger.NewMemStore())
	exec := tradeexec.New(store, led, 0)
	action := tradeexec.NewRuntimeAction(exec, tradeexec.ActionBuyYes)

	err := action.Execute(ctx, "agent-1", map[string]any{"market_id": "ghost", "cash_amount": 10.0})
	require.Error(t, err)
}
