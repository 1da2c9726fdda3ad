// Package ledger implements the engine's ledgered balance store: the
// virtual-cash and points sub-accounts, their append-only transaction
// log, and the rules that keep them consistent.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"simengine/pkg/engineerr"
)

// Account identifies one of a user's ledger sub-accounts.
type Account string

const (
	AccountVirtualBalance Account = "virtual_balance"
	AccountEarnedPoints   Account = "earned_points"
	AccountInvitePoints   Account = "invite_points"
	AccountBonusPoints    Account = "bonus_points"
	AccountAgentPoints    Account = "agent_points"
)

// TxKind enumerates the ways a balance changes.
type TxKind string

const (
	KindTradeOpen       TxKind = "trade_open"
	KindTradeClose      TxKind = "trade_close"
	KindPerpLiquidation TxKind = "perp_liquidation"
	KindDeposit         TxKind = "deposit"
	KindWithdrawal      TxKind = "withdrawal"
	KindReferralBonus   TxKind = "referral_bonus"
	KindPointsAward     TxKind = "points_award"
	KindPredictionBuy   TxKind = "prediction_buy"
	KindPredictionPay   TxKind = "prediction_payout"
	KindPoolFee         TxKind = "pool_performance_fee"
	KindAgentTickCost   TxKind = "agent_tick_cost"
	KindFunding         TxKind = "funding"
)

// Transaction is one append-only ledger entry.
type Transaction struct {
	ID            string
	UserID        string
	Account       Account
	Kind          TxKind
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	RelatedID     string
	At            time.Time
}

// UserState tracks a banned flag alongside the ledger so debits/credits can
// enforce the user_banned rejection without a separate round trip.
type UserState struct {
	Banned bool
}

// Store persists balances and the transaction log. The in-memory
// implementation below satisfies it for tests and for single-process
// deployments; the Postgres-backed SQLStore wraps sqlx.SqlConn and writes
// the balance and the transaction row in one database transaction. Neither
// store locks rows: the read-modify-write for a user is serialized by
// Ledger's in-process per-user mutex.
type Store interface {
	// GetBalance returns the current balance for (user, account). Returns
	// zero for an unknown (user, account) pair that is not banned.
	GetBalance(ctx context.Context, userID string, account Account) (decimal.Decimal, error)
	// AppendTransaction durably records a transaction and updates the
	// user's balance in one atomic act.
	AppendTransaction(ctx context.Context, tx Transaction) error
	// History returns transactions for a user within the last window,
	// newest first.
	History(ctx context.Context, userID string, window time.Duration) ([]Transaction, error)
	// UserState returns ban/lifecycle flags for a user.
	UserState(ctx context.Context, userID string) (UserState, error)
}

// Ledger is the component façade: credit/debit/balance/history, with a
// per-user mutex serializing concurrent mutations to the same account.
type Ledger struct {
	store Store

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(store Store) *Ledger {
	return &Ledger{store: store, locks: make(map[string]*sync.Mutex)}
}

func (l *Ledger) lockFor(userID string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}

// Balance returns the current virtual_balance for user.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return l.store.GetBalance(ctx, userID, AccountVirtualBalance)
}

// BalanceOf returns the current balance of the given sub-account.
func (l *Ledger) BalanceOf(ctx context.Context, userID string, account Account) (decimal.Decimal, error) {
	return l.store.GetBalance(ctx, userID, account)
}

// Credit increases a user's account balance by amount (amount must be
// strictly positive) and appends a transaction row.
func (l *Ledger) Credit(ctx context.Context, userID string, account Account, amount decimal.Decimal, kind TxKind, relatedID string) (Transaction, error) {
	if amount.Sign() <= 0 {
		return Transaction{}, engineerr.New(engineerr.InvariantViolation, "ledger: credit amount must be positive")
	}
	return l.mutate(ctx, userID, account, amount, kind, relatedID, false)
}

// Debit decreases a user's account balance by amount (amount must be
// strictly positive). Debits that would drive the balance negative are
// rejected with InsufficientFunds unless kind is KindPerpLiquidation, which
// may drive the balance to exactly zero but never below.
func (l *Ledger) Debit(ctx context.Context, userID string, account Account, amount decimal.Decimal, kind TxKind, relatedID string) (Transaction, error) {
	if amount.Sign() <= 0 {
		return Transaction{}, engineerr.New(engineerr.InvariantViolation, "ledger: debit amount must be positive")
	}
	return l.mutate(ctx, userID, account, amount.Neg(), kind, relatedID, kind != KindPerpLiquidation)
}

func (l *Ledger) mutate(ctx context.Context, userID string, account Account, signedAmount decimal.Decimal, kind TxKind, relatedID string, enforceNonNegative bool) (Transaction, error) {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	state, err := l.store.UserState(ctx, userID)
	if err != nil {
		return Transaction{}, err
	}
	if state.Banned {
		return Transaction{}, engineerr.New(engineerr.UserBanned, "ledger: user is banned").WithRelated(userID)
	}

	before, err := l.store.GetBalance(ctx, userID, account)
	if err != nil {
		return Transaction{}, err
	}
	after := before.Add(signedAmount)
	if enforceNonNegative && after.Sign() < 0 {
		return Transaction{}, engineerr.New(engineerr.InsufficientFunds, "ledger: debit would drive balance negative").WithRelated(userID)
	}
	if after.Sign() < 0 {
		// Even a liquidation debit may only ever reach exactly zero.
		after = decimal.Zero
	}

	tx := Transaction{
		UserID:        userID,
		Account:       account,
		Kind:          kind,
		Amount:        after.Sub(before),
		BalanceBefore: before,
		BalanceAfter:  after,
		RelatedID:     relatedID,
		At:            time.Now(),
	}
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	logx.WithContext(ctx).Infof("ledger: %s %s %s -> %s (%s)", userID, account, before, after, kind)
	return tx, nil
}

// RecordZero appends a zero-amount transaction for kind/relatedID without
// moving the user's balance. Used by liquidation and by any other event
// that must appear in the transaction log without affecting the running
// balance invariant.
func (l *Ledger) RecordZero(ctx context.Context, userID string, kind TxKind, relatedID string) (Transaction, error) {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	balance, err := l.store.GetBalance(ctx, userID, AccountVirtualBalance)
	if err != nil {
		return Transaction{}, err
	}
	tx := Transaction{
		UserID: userID, Account: AccountVirtualBalance, Kind: kind,
		Amount: decimal.Zero, BalanceBefore: balance, BalanceAfter: balance,
		RelatedID: relatedID, At: time.Now(),
	}
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// CreditIdempotent credits the user's virtual_balance by amount unless a
// transaction with the same (kind, relatedID) has already been recorded,
// in which case it is a no-op. This is the primitive the resolution sweep
// (pkg/oracle) uses for idempotent payouts: a retry
// after a mid-sweep crash must
// produce identical final balances, keyed on (market_id, position_id).
// amount of exactly zero is a valid no-payout outcome and records nothing.
func (l *Ledger) CreditIdempotent(ctx context.Context, userID string, amount float64, kind string, relatedID string) error {
	if amount == 0 {
		return nil
	}
	txs, err := l.store.History(ctx, userID, 0)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if string(tx.Kind) == kind && tx.RelatedID == relatedID {
			return nil
		}
	}
	_, err = l.Credit(ctx, userID, AccountVirtualBalance, decimal.NewFromFloat(amount), TxKind(kind), relatedID)
	return err
}

// History returns the user's transaction log within window, newest first.
func (l *Ledger) History(ctx context.Context, userID string, window time.Duration) ([]Transaction, error) {
	txs, err := l.store.History(ctx, userID, window)
	if err != nil {
		return nil, err
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].At.After(txs[j].At) })
	return txs, nil
}

// VerifyInvariant checks that balance(u) equals the sum
// of the user's recorded transaction amounts for account. Used by the tick
// scheduler's invariant sweep; a violation is fatal (InvariantViolation).
func (l *Ledger) VerifyInvariant(ctx context.Context, userID string, account Account) error {
	txs, err := l.store.History(ctx, userID, 0)
	if err != nil {
		return err
	}
	sum := decimal.Zero
	for _, tx := range txs {
		if tx.Account != account {
			continue
		}
		sum = sum.Add(tx.Amount)
	}
	balance, err := l.store.GetBalance(ctx, userID, account)
	if err != nil {
		return err
	}
	if !sum.Equal(balance) {
		return engineerr.Newf(engineerr.InvariantViolation, "ledger: user %s balance %s does not match transaction sum %s", userID, balance, sum).WithRelated(userID)
	}
	return nil
}
