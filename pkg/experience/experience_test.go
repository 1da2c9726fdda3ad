package experience_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"simengine/pkg/experience"
)

func TestMemStore_Recent_OrdersNewestFirstAndLimits(t *testing.T) {
	ctx := context.Background()
	store := experience.NewMemStore()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, experience.Experience{
			AgentID: "a1", Category: "trade", Summary: "opened long", Outcome: experience.OutcomeSuccess,
		}))
	}
	require.NoError(t, store.Record(ctx, experience.Experience{AgentID: "a2", Category: "trade", Summary: "other agent"}))

	recent, err := store.Recent(ctx, "a1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	for _, e := range recent {
		require.Equal(t, "a1", e.AgentID)
	}
	require.False(t, recent[0].RecordedAt.Before(recent[1].RecordedAt), "newest first")
}

func TestProvider_Fetch_FormatsRecentExperiences(t *testing.T) {
	ctx := context.Background()
	store := experience.NewMemStore()
	require.NoError(t, store.Record(ctx, experience.Experience{
		AgentID: "a1", Category: "trade", Summary: "closed short for profit",
		Outcome: experience.OutcomeSuccess, ImpactScore: 42.5,
	}))

	p := experience.NewProvider(store)
	require.Equal(t, "experience", p.Name())

	text, err := p.Fetch(ctx, "a1")
	require.NoError(t, err)
	require.Contains(t, text, "closed short for profit")
	require.Contains(t, text, "42.50")
}

func TestProvider_Fetch_EmptyForUnknownAgent(t *testing.T) {
	p := experience.NewProvider(experience.NewMemStore())
	text, err := p.Fetch(context.Background(), "ghost")
	require.NoError(t, err)
	require.Empty(t, text)
}
