//go:build integration
// +build integration

package marketstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"simengine/pkg/marketstore"
)

// newIntegrationStore skips the test unless ENGINE_POSTGRES_DSN points at a
// live Postgres instance with the engine's schema applied.
func newIntegrationStore(t *testing.T) *marketstore.SQLStore {
	t.Helper()
	dsn := os.Getenv("ENGINE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ENGINE_POSTGRES_DSN not set; skipping Postgres integration test")
	}
	conn := sqlx.NewSqlConn("pgx", dsn)
	return marketstore.NewSQLStore(conn)
}

func TestSQLStore_PredictionMarketRoundTrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, err := store.CreatePredictionMarket(ctx, marketstore.PredictionMarket{
		ID: "integration-market-1", Prompt: "will ci pass", Category: "test",
		ResolutionTime: time.Now().Add(time.Hour), B: 100, QYes: 0, QNo: 0,
	})
	require.NoError(t, err)
	require.False(t, created.CreatedAt.IsZero())

	fetched, err := store.GetPredictionMarket(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.Prompt, fetched.Prompt)

	require.NoError(t, store.MutateShares(ctx, created.ID, 10, 5))
	fetched, err = store.GetPredictionMarket(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 10.0, fetched.QYes)

	require.NoError(t, store.MarkMarketResolved(ctx, created.ID, marketstore.OutcomeYes))
	fetched, err = store.GetPredictionMarket(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, fetched.Resolved)
	require.Equal(t, marketstore.OutcomeYes, fetched.Outcome)
}
