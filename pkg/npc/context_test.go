package npc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"simengine/pkg/marketstore"
	"simengine/pkg/npc"
)

func TestContextBuilder_BuildContexts_AssemblesPerNPCSnapshot(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	store.SeedPool(marketstore.Pool{ID: "pool-1", OwnerNPCID: "npc-1", AvailableBalance: 250, TotalValue: 250})
	require.NoError(t, store.UpsertPerpMarket(ctx, marketstore.PerpMarket{Ticker: "ACME", MarkPrice: 42}))
	_, err := store.CreatePredictionMarket(ctx, marketstore.PredictionMarket{ID: "m1", Prompt: "will it rain?", B: 100})
	require.NoError(t, err)

	roster := npc.MemRoster{
		NPCs:    []npc.NPCInfo{{ID: "npc-1", Name: "Ada", PoolID: "pool-1"}},
		Tickers: []string{"ACME"},
	}
	b := npc.NewContextBuilder(store, roster, nil, 0)

	contexts, err := b.BuildContexts(ctx)
	require.NoError(t, err)
	require.Len(t, contexts, 1)

	mc := contexts[0]
	require.Equal(t, "npc-1", mc.NPCID)
	require.Equal(t, 250.0, mc.AvailableBalance)
	require.Equal(t, 42.0, mc.PerpMarkets["ACME"])
	require.InDelta(t, 0.5, mc.PredictionMarkets["m1"].YesPrice, 1e-9)
}

func TestContextBuilder_BuildContexts_SkipsNPCWithMissingPool(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	roster := npc.MemRoster{NPCs: []npc.NPCInfo{{ID: "npc-1", PoolID: "ghost"}}}
	b := npc.NewContextBuilder(store, roster, nil, 0)

	contexts, err := b.BuildContexts(ctx)
	require.NoError(t, err)
	require.Empty(t, contexts)
}
