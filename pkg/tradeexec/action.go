package tradeexec

import (
	"context"
	"time"
)

// RuntimeAction adapts Executor to pkg/runtime.Action so the Autonomous
// Coordinator can dispatch a PlannedAction of type buy_yes/buy_no/
// open_long/open_short/close the same way the A2A gateway's
// handleBuyShares/handleOpenPerp/handleClosePerp build an Intent and
// execute it immediately — no batching, no import of pkg/runtime (the
// interface is structural: Name()/Execute()).
type RuntimeAction struct {
	exec   *Executor
	action Action
}

func NewRuntimeAction(exec *Executor, action Action) RuntimeAction {
	return RuntimeAction{exec: exec, action: action}
}

func (a RuntimeAction) Name() string { return string(a.action) }

func (a RuntimeAction) Execute(ctx context.Context, agentID string, params map[string]any) error {
	intent := Intent{
		ID:          agentID + "-" + time.Now().Format(time.RFC3339Nano),
		OwnerID:     agentID,
		Action:      a.action,
		MarketID:    stringParam(params, "market_id"),
		Ticker:      stringParam(params, "ticker"),
		PositionID:  stringParam(params, "position_id"),
		CashAmount:  floatParam(params, "cash_amount"),
		Leverage:    intParam(params, "leverage"),
		RefPrice:    floatParam(params, "ref_price"),
		MaxSlippage: floatParam(params, "max_slippage"),
	}

	_, failures := a.exec.Execute(ctx, []Intent{intent})
	if len(failures) > 0 {
		return failures[0].Err
	}
	return nil
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func floatParam(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
