package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/stores/sqlc"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// SQLStore is the Postgres-backed Store. AppendTransaction writes the
// running balance and the append-only transaction row inside one
// transaction so the balance_after == balance_before + amount invariant
// can never observe a torn write.
type SQLStore struct {
	conn sqlx.SqlConn
}

// NewSQLStore wraps conn (typically sqlx.NewSqlConn("pgx", dsn)) in a
// Store.
func NewSQLStore(conn sqlx.SqlConn) *SQLStore {
	return &SQLStore{conn: conn}
}

var _ Store = (*SQLStore)(nil)

func (s *SQLStore) GetBalance(ctx context.Context, userID string, account Account) (decimal.Decimal, error) {
	const query = `SELECT balance FROM public.ledger_balances WHERE user_id = $1 AND account = $2`
	var raw string
	err := s.conn.QueryRowCtx(ctx, &raw, query, userID, string(account))
	if err == sqlc.ErrNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: get balance for %s/%s: %w", userID, account, err)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: parse balance for %s/%s: %w", userID, account, err)
	}
	return d, nil
}

func (s *SQLStore) AppendTransaction(ctx context.Context, tx Transaction) error {
	return s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		const upsertBalance = `
INSERT INTO public.ledger_balances (user_id, account, balance)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, account) DO UPDATE SET balance = EXCLUDED.balance`
		if _, err := session.ExecCtx(ctx, upsertBalance, tx.UserID, string(tx.Account), tx.BalanceAfter.String()); err != nil {
			return fmt.Errorf("ledger: upsert balance: %w", err)
		}

		const insertTx = `
INSERT INTO public.ledger_transactions
    (id, user_id, account, kind, amount, balance_before, balance_after, related_id, at)
VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)`
		at := tx.At
		if at.IsZero() {
			at = time.Now()
		}
		_, err := session.ExecCtx(ctx, insertTx,
			tx.UserID, string(tx.Account), string(tx.Kind), tx.Amount.String(),
			tx.BalanceBefore.String(), tx.BalanceAfter.String(), tx.RelatedID, at)
		if err != nil {
			return fmt.Errorf("ledger: insert transaction: %w", err)
		}
		return nil
	})
}

type transactionRow struct {
	UserID        string    `db:"user_id"`
	Account       string    `db:"account"`
	Kind          string    `db:"kind"`
	Amount        string    `db:"amount"`
	BalanceBefore string    `db:"balance_before"`
	BalanceAfter  string    `db:"balance_after"`
	RelatedID     string    `db:"related_id"`
	At            time.Time `db:"at"`
}

func (s *SQLStore) History(ctx context.Context, userID string, window time.Duration) ([]Transaction, error) {
	query := `
SELECT user_id, account, kind, amount, balance_before, balance_after, related_id, at
FROM public.ledger_transactions WHERE user_id = $1`
	args := []any{userID}
	if window > 0 {
		query += ` AND at >= $2`
		args = append(args, time.Now().Add(-window))
	}
	query += ` ORDER BY at DESC`

	var rows []transactionRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("ledger: history for %s: %w", userID, err)
	}
	out := make([]Transaction, 0, len(rows))
	for _, r := range rows {
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("ledger: parse amount: %w", err)
		}
		before, err := decimal.NewFromString(r.BalanceBefore)
		if err != nil {
			return nil, fmt.Errorf("ledger: parse balance_before: %w", err)
		}
		after, err := decimal.NewFromString(r.BalanceAfter)
		if err != nil {
			return nil, fmt.Errorf("ledger: parse balance_after: %w", err)
		}
		out = append(out, Transaction{
			UserID: r.UserID, Account: Account(r.Account), Kind: TxKind(r.Kind),
			Amount: amount, BalanceBefore: before, BalanceAfter: after,
			RelatedID: r.RelatedID, At: r.At,
		})
	}
	return out, nil
}

func (s *SQLStore) UserState(ctx context.Context, userID string) (UserState, error) {
	const query = `SELECT banned FROM public.ledger_user_state WHERE user_id = $1`
	var banned bool
	err := s.conn.QueryRowCtx(ctx, &banned, query, userID)
	if err == sqlc.ErrNotFound {
		return UserState{}, nil
	}
	if err != nil {
		return UserState{}, fmt.Errorf("ledger: user state for %s: %w", userID, err)
	}
	return UserState{Banned: banned}, nil
}
