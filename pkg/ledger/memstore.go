package ledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemStore is an in-process Store, used by tests and by the standalone
// enginectl one-shot commands that don't need cross-process durability.
// The production deployment wraps sqlx.SqlConn with the same contract;
// MemStore exists so pkg/ledger's rules can be unit tested without a
// database.
type MemStore struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	banned   map[string]bool
	txs      []Transaction
	seq      int
}

func NewMemStore() *MemStore {
	return &MemStore{
		balances: make(map[string]decimal.Decimal),
		banned:   make(map[string]bool),
	}
}

func key(userID string, account Account) string {
	return userID + "|" + string(account)
}

func (m *MemStore) GetBalance(_ context.Context, userID string, account Account) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[key(userID, account)], nil
}

func (m *MemStore) AppendTransaction(_ context.Context, tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	tx.ID = time.Now().UTC().Format("20060102T150405.000000000") + "-" + strconv.Itoa(m.seq)
	m.balances[key(tx.UserID, tx.Account)] = tx.BalanceAfter
	m.txs = append(m.txs, tx)
	return nil
}

func (m *MemStore) History(_ context.Context, userID string, window time.Duration) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Time{}
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}
	var out []Transaction
	for i := len(m.txs) - 1; i >= 0; i-- {
		tx := m.txs[i]
		if tx.UserID != userID {
			continue
		}
		if window > 0 && tx.At.Before(cutoff) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (m *MemStore) UserState(_ context.Context, userID string) (UserState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return UserState{Banned: m.banned[userID]}, nil
}

// SetBanned is a test/admin hook; production bans flow through the user
// record, not the ledger store.
func (m *MemStore) SetBanned(userID string, banned bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banned[userID] = banned
}
