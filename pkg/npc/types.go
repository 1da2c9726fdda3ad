// Package npc implements the NPC Decision Engine: it builds
// a per-NPC market context, issues a single structured LLM call returning
// a JSON array of decisions, and turns the parsed, validated result
// (capped at NTradesPerNPC) into ordered trade intents for the Trade
// Executor.
package npc

import "simengine/pkg/tradeexec"

// Action is the decision vocabulary an NPC may emit.
type Action string

const (
	ActionHold      Action = "hold"
	ActionOpenLong  Action = "open_long"
	ActionOpenShort Action = "open_short"
	ActionClose     Action = "close"
	ActionBuyYes    Action = "buy_yes"
	ActionBuyNo     Action = "buy_no"
)

// Decision is one parsed, not-yet-validated LLM output entry.
type Decision struct {
	Action     Action  `json:"action"`
	Ticker     string  `json:"ticker,omitempty"`
	MarketID   string  `json:"market_id,omitempty"`
	PositionID string  `json:"position_id,omitempty"`
	Amount     float64 `json:"amount"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// decisionBatch is the structured-output contract the LLM call asks for:
// an array of decisions. The schema sets no length limit; Decide keeps at
// most NTradesPerNPC of them after validation.
type decisionBatch struct {
	Decisions []Decision `json:"decisions"`
}

// MarketContext is the per-NPC snapshot the prompt is built from.
type MarketContext struct {
	NPCID             string
	NPCName           string
	PoolID            string // the pool the NPC trades through
	AvailableBalance  float64
	RecentPosts       []string
	GroupChatMessages []string
	PerpMarkets       map[string]float64           // ticker -> mark price
	PredictionMarkets map[string]PredictionSummary // market id -> prompt/price
	CurrentPositions  []string                     // human-readable summaries for the prompt
}

// PredictionSummary is the slice of a prediction market's state the prompt
// needs.
type PredictionSummary struct {
	Prompt   string
	YesPrice float64
}

// ref returns whichever of Ticker/MarketID the decision's action
// operates on; Decide uses it as the dedupe key.
func (d Decision) ref() string {
	if d.Ticker != "" {
		return d.Ticker
	}
	return d.MarketID
}

// ToIntent converts a validated Decision into a tradeexec.Intent. ownerID
// is the NPC's pool id; NPCs trade through their pool.
func (d Decision) ToIntent(id, ownerID string, leverage int) tradeexec.Intent {
	return tradeexec.Intent{
		ID: id, OwnerID: ownerID, Action: tradeexec.Action(d.Action),
		Ticker: d.Ticker, MarketID: d.MarketID, PositionID: d.PositionID,
		CashAmount: d.Amount, Leverage: leverage,
	}
}
