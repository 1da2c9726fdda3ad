package tradeexec

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"simengine/pkg/ledger"
)

// settlePool brings a pool's stored balances back in line after one of
// its positions changed. A realized gain first pays the pool's
// performance fee to its operating NPC; then available_balance is
// re-read from the ledger and total_value recomputed from the open
// positions, keeping available_balance + sum(open position size) ==
// total_value at rest. A no-op when ownerID is a plain user rather than
// a pool.
func (e *Executor) settlePool(ctx context.Context, ownerID string, realized float64) {
	pool, err := e.store.GetPool(ctx, ownerID)
	if err != nil {
		return
	}

	if realized > 0 && pool.PerformanceFeeRate > 0 && pool.OwnerNPCID != "" {
		fee := decimal.NewFromFloat(realized * pool.PerformanceFeeRate)
		if _, err := e.ledger.Debit(ctx, pool.ID, ledger.AccountVirtualBalance, fee, ledger.KindPoolFee, pool.OwnerNPCID); err != nil {
			logx.WithContext(ctx).Errorf("tradeexec: pool %s fee debit: %v", pool.ID, err)
		} else if _, err := e.ledger.Credit(ctx, pool.OwnerNPCID, ledger.AccountVirtualBalance, fee, ledger.KindPoolFee, pool.ID); err != nil {
			logx.WithContext(ctx).Errorf("tradeexec: pool %s fee credit to %s: %v", pool.ID, pool.OwnerNPCID, err)
		}
	}

	balance, err := e.ledger.Balance(ctx, pool.ID)
	if err != nil {
		logx.WithContext(ctx).Errorf("tradeexec: pool %s balance read: %v", pool.ID, err)
		return
	}
	available := balance.InexactFloat64()

	var open float64
	perps, err := e.store.OpenPerpPositionsForOwner(ctx, pool.ID)
	if err != nil {
		logx.WithContext(ctx).Errorf("tradeexec: pool %s perp positions: %v", pool.ID, err)
		return
	}
	for _, p := range perps {
		open += p.Size
	}
	preds, err := e.store.OpenPredictionPositionsForUser(ctx, pool.ID)
	if err != nil {
		logx.WithContext(ctx).Errorf("tradeexec: pool %s prediction positions: %v", pool.ID, err)
		return
	}
	for _, p := range preds {
		open += p.Shares * p.AvgPrice
	}

	if err := e.store.UpdatePoolBalances(ctx, pool.ID, available, available+open, pool.LifetimePnL+realized); err != nil {
		logx.WithContext(ctx).Errorf("tradeexec: pool %s balance update: %v", pool.ID, err)
	}
}
