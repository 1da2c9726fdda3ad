//go:build integration
// +build integration

package ledger_test

import (
	"context"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"simengine/pkg/ledger"
)

func newIntegrationLedgerStore(t *testing.T) *ledger.SQLStore {
	t.Helper()
	dsn := os.Getenv("ENGINE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ENGINE_POSTGRES_DSN not set; skipping Postgres integration test")
	}
	conn := sqlx.NewSqlConn("pgx", dsn)
	return ledger.NewSQLStore(conn)
}

func TestSQLStore_CreditDebitRoundTrip(t *testing.T) {
	store := newIntegrationLedgerStore(t)
	led := ledger.New(store)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	userID := "integration-user-1"
	_, err := led.Credit(ctx, userID, ledger.AccountVirtualBalance, decimal.NewFromInt(100), ledger.KindDeposit, "seed")
	require.NoError(t, err)

	balance, err := led.Balance(ctx, userID)
	require.NoError(t, err)
	require.True(t, balance.GreaterThanOrEqual(decimal.NewFromInt(100)))

	_, err = led.Debit(ctx, userID, ledger.AccountVirtualBalance, decimal.NewFromInt(30), ledger.KindWithdrawal, "w1")
	require.NoError(t, err)

	require.NoError(t, led.VerifyInvariant(ctx, userID, ledger.AccountVirtualBalance))
}
