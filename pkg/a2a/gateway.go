package a2a

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"simengine/pkg/engineerr"
	"simengine/pkg/marketstore"
	"simengine/pkg/tradeexec"
)

// Gateway dispatches JSON-RPC 2.0 requests to the same subsystems the
// Autonomous Coordinator drives in-process: rate-limit,
// authenticate, decode params, call the subsystem, re-encode the result.
// It adds no new business rules — every method's semantics match its
// internal counterpart exactly.
type Gateway struct {
	store      marketstore.Store
	exec       *tradeexec.Executor
	moderation ModerationStore
	registry   IdentityRegistry
	limiter    *CallerLimiter
}

func NewGateway(store marketstore.Store, exec *tradeexec.Executor, moderation ModerationStore, registry IdentityRegistry, limiter *CallerLimiter) *Gateway {
	if limiter == nil {
		limiter = NewCallerLimiter(DefaultRPM, DefaultBurst)
	}
	return &Gateway{store: store, exec: exec, moderation: moderation, registry: registry, limiter: limiter}
}

// Dispatch handles one JSON-RPC request end to end. It never panics on
// malformed input: every failure mode becomes a Response with a
// populated Error field.
func (g *Gateway) Dispatch(ctx context.Context, req Request) Response {
	if req.JSONRPC != Version || req.Method == "" {
		return errorResponse(req.ID, codeInvalidRequest, "a2a: malformed JSON-RPC 2.0 envelope")
	}

	if allowed, retryAfter := g.limiter.Allow(req.CallerID); !allowed {
		resp := errorResponse(req.ID, codeEngineError, "a2a: rate limit exceeded")
		resp.Error.Data = &RPCErrorData{Code: string(engineerr.RateLimited), RetryAfter: retryAfter.Milliseconds()}
		return resp
	}

	if err := verifyCredential(g.registry, req); err != nil {
		resp := errorResponse(req.ID, codeEngineError, err.Error())
		resp.Error.Data = &RPCErrorData{Code: string(engineerr.Unauthorized)}
		return resp
	}

	handler, ok := methods[req.Method]
	if !ok {
		return errorResponse(req.ID, codeMethodNotFound, "a2a: unknown method "+req.Method)
	}

	result, err := handler(g, ctx, req.CallerID, req.Params)
	if err != nil {
		return errorFromErr(req.ID, err)
	}
	logx.WithContext(ctx).Infof("a2a: %s called %s", req.CallerID, req.Method)
	return successResponse(req.ID, result)
}

type methodFunc func(g *Gateway, ctx context.Context, callerID string, params json.RawMessage) (interface{}, error)

// methods maps JSON-RPC method names to handlers.
var methods = map[string]methodFunc{
	"a2a.getPredictions": (*Gateway).handleGetPredictions,
	"a2a.getPerpetuals":  (*Gateway).handleGetPerpetuals,
	"a2a.buyShares":      (*Gateway).handleBuyShares,
	"a2a.openPerp":       (*Gateway).handleOpenPerp,
	"a2a.closePerp":      (*Gateway).handleClosePerp,
	"a2a.blockUser":      (*Gateway).handleBlockUser,
	"a2a.muteUser":       (*Gateway).handleMuteUser,
	"a2a.reportUser":     (*Gateway).handleReportUser,
	"a2a.reportPost":     (*Gateway).handleReportPost,
}

type getPredictionsParams struct {
	MarketIDs []string `json:"market_ids"`
}

func (g *Gateway) handleGetPredictions(ctx context.Context, _ string, params json.RawMessage) (interface{}, error) {
	var p getPredictionsParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
	}
	if len(p.MarketIDs) == 0 {
		return g.store.OpenPredictionMarkets(ctx)
	}
	out := make([]marketstore.PredictionMarket, 0, len(p.MarketIDs))
	for _, id := range p.MarketIDs {
		m, err := g.store.GetPredictionMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

type getPerpetualsParams struct {
	Tickers []string `json:"tickers"`
}

func (g *Gateway) handleGetPerpetuals(ctx context.Context, _ string, params json.RawMessage) (interface{}, error) {
	var p getPerpetualsParams
	if err := json.Unmarshal(params, &p); err != nil || len(p.Tickers) == 0 {
		return nil, engineerr.New(engineerr.NotFound, "a2a: getPerpetuals requires at least one ticker")
	}
	out := make([]marketstore.PerpMarket, 0, len(p.Tickers))
	for _, ticker := range p.Tickers {
		m, err := g.store.GetPerpMarket(ctx, ticker)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

type buySharesParams struct {
	MarketID    string  `json:"market_id"`
	Side        string  `json:"side"` // "YES" | "NO"
	CashAmount  float64 `json:"cash_amount"`
	RefPrice    float64 `json:"ref_price"`
	MaxSlippage float64 `json:"max_slippage"`
}

func (g *Gateway) handleBuyShares(ctx context.Context, callerID string, params json.RawMessage) (interface{}, error) {
	var p buySharesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	action := tradeexec.ActionBuyYes
	if p.Side == string(marketstore.SideNo) {
		action = tradeexec.ActionBuyNo
	}
	intent := tradeexec.Intent{
		ID: requestID(callerID), OwnerID: callerID, Action: action,
		MarketID: p.MarketID, CashAmount: p.CashAmount, RefPrice: p.RefPrice, MaxSlippage: p.MaxSlippage,
	}
	return g.executeOne(ctx, intent)
}

type openPerpParams struct {
	Ticker      string  `json:"ticker"`
	Side        string  `json:"side"` // "LONG" | "SHORT"
	CashAmount  float64 `json:"cash_amount"`
	Leverage    int     `json:"leverage"`
	RefPrice    float64 `json:"ref_price"`
	MaxSlippage float64 `json:"max_slippage"`
}

func (g *Gateway) handleOpenPerp(ctx context.Context, callerID string, params json.RawMessage) (interface{}, error) {
	var p openPerpParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	action := tradeexec.ActionOpenLong
	if p.Side == string(marketstore.SideShort) {
		action = tradeexec.ActionOpenShort
	}
	intent := tradeexec.Intent{
		ID: requestID(callerID), OwnerID: callerID, Action: action,
		Ticker: p.Ticker, CashAmount: p.CashAmount, Leverage: p.Leverage, RefPrice: p.RefPrice, MaxSlippage: p.MaxSlippage,
	}
	return g.executeOne(ctx, intent)
}

type closePerpParams struct {
	PositionID  string  `json:"position_id"`
	Ticker      string  `json:"ticker"`
	RefPrice    float64 `json:"ref_price"`
	MaxSlippage float64 `json:"max_slippage"`
}

func (g *Gateway) handleClosePerp(ctx context.Context, callerID string, params json.RawMessage) (interface{}, error) {
	var p closePerpParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	intent := tradeexec.Intent{
		ID: requestID(callerID), OwnerID: callerID, Action: tradeexec.ActionClose,
		Ticker: p.Ticker, PositionID: p.PositionID, RefPrice: p.RefPrice, MaxSlippage: p.MaxSlippage,
	}
	return g.executeOne(ctx, intent)
}

func (g *Gateway) executeOne(ctx context.Context, intent tradeexec.Intent) (interface{}, error) {
	successes, failures := g.exec.Execute(ctx, []tradeexec.Intent{intent})
	if len(failures) > 0 {
		return nil, failures[0].Err
	}
	return successes[0], nil
}

type targetParams struct {
	TargetID string `json:"target_id"`
}

func (g *Gateway) handleBlockUser(ctx context.Context, callerID string, params json.RawMessage) (interface{}, error) {
	var p targetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	return nil, g.moderation.BlockUser(ctx, callerID, p.TargetID)
}

func (g *Gateway) handleMuteUser(ctx context.Context, callerID string, params json.RawMessage) (interface{}, error) {
	var p targetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	return nil, g.moderation.MuteUser(ctx, callerID, p.TargetID)
}

type reportParams struct {
	TargetID string `json:"target_id"`
	Reason   string `json:"reason"`
}

func (g *Gateway) handleReportUser(ctx context.Context, callerID string, params json.RawMessage) (interface{}, error) {
	var p reportParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	return nil, g.moderation.ReportUser(ctx, Report{ID: requestID(callerID), ReporterID: callerID, TargetID: p.TargetID, Reason: p.Reason, At: time.Now()})
}

func (g *Gateway) handleReportPost(ctx context.Context, callerID string, params json.RawMessage) (interface{}, error) {
	var p reportParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	return nil, g.moderation.ReportPost(ctx, Report{ID: requestID(callerID), ReporterID: callerID, TargetID: p.TargetID, Reason: p.Reason, At: time.Now()})
}

func requestID(callerID string) string {
	return callerID + "-" + time.Now().Format(time.RFC3339Nano)
}

// errorFromErr surfaces an engine-taxonomy error verbatim and falls back to a generic invalid-params code for
// anything else (bad JSON, programmer error).
func errorFromErr(id json.RawMessage, err error) Response {
	kind := engineerr.KindOf(err)
	if kind == "" {
		return errorResponse(id, codeInvalidParams, err.Error())
	}
	resp := errorResponse(id, codeEngineError, err.Error())
	resp.Error.Data = &RPCErrorData{Code: string(kind)}
	return resp
}
