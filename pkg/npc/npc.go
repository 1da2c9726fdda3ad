package npc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"simengine/pkg/engineerr"
	"simengine/pkg/llm"
	"simengine/pkg/llmsem"
	"simengine/pkg/prompt"
)

// Config governs fan-out and per-call limits.
type Config struct {
	Model            string
	MaxConcurrentLLM int           // default 8
	DecisionTimeout  time.Duration // default 10s
	NTradesPerNPC    int           // cap on decisions kept per NPC, default 3
	RiskFraction     float64       // max single-decision amount as a fraction of available balance, default 0.25
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentLLM <= 0 {
		c.MaxConcurrentLLM = 8
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = 10 * time.Second
	}
	if c.NTradesPerNPC <= 0 {
		c.NTradesPerNPC = 3
	}
	if c.RiskFraction <= 0 {
		c.RiskFraction = 0.25
	}
	return c
}

// Engine is the NPC Decision Engine: for every NPC it
// builds a market context, issues one structured LLM call bounded by a
// semaphore and a per-call timeout, and returns validated, deduped,
// confidence-sorted decisions.
type Engine struct {
	cfg  Config
	llm  llm.LLMClient
	tmpl *prompt.Template
	sem  *llmsem.Semaphore
}

// New constructs an Engine. sem is the process-wide LLM semaphore shared
// with the Autonomous Coordinator; pass nil to have the
// Engine own a private one sized to cfg.MaxConcurrentLLM.
func New(cfg Config, client llm.LLMClient, tmpl *prompt.Template, sem *llmsem.Semaphore) *Engine {
	cfg = cfg.withDefaults()
	if sem == nil {
		sem = llmsem.New(cfg.MaxConcurrentLLM)
	}
	return &Engine{cfg: cfg, llm: client, tmpl: tmpl, sem: sem}
}

// DecideAll runs the decision pipeline for every NPC context concurrently,
// bounded by MaxConcurrentLLM. A single NPC's failure or
// timeout never aborts the batch: it degrades to an empty (hold) decision
// list for that NPC.
func (e *Engine) DecideAll(ctx context.Context, npcs []MarketContext) map[string][]Decision {
	out := make(map[string][]Decision, len(npcs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, mc := range npcs {
		mc := mc
		wg.Add(1)
		go func() {
			defer wg.Done()
			decisions := e.Decide(ctx, mc)
			mu.Lock()
			out[mc.NPCID] = decisions
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// Decide runs one NPC's full decide pipeline: prompt render, bounded
// structured LLM call, parse, validate, dedupe, sort by confidence
// descending, truncate to NTradesPerNPC.
func (e *Engine) Decide(ctx context.Context, mc MarketContext) []Decision {
	if err := e.sem.Acquire(ctx); err != nil {
		return nil
	}
	defer e.sem.Release()

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.DecisionTimeout)
	defer cancel()

	raw, err := e.callLLM(callCtx, mc)
	if err != nil {
		if callCtx.Err() != nil {
			err = engineerr.New(engineerr.Timeout, "npc: decision call timed out").WithRelated(mc.NPCID)
		}
		logx.WithContext(ctx).Infof("npc: %s decision call failed, holding: %v", mc.NPCID, err)
		return nil
	}

	decisions := validate(mc, raw, e.cfg.RiskFraction)
	sort.SliceStable(decisions, func(i, j int) bool { return decisions[i].Confidence > decisions[j].Confidence })
	decisions = dedupe(decisions)
	if len(decisions) > e.cfg.NTradesPerNPC {
		decisions = decisions[:e.cfg.NTradesPerNPC]
	}
	return decisions
}

func (e *Engine) callLLM(ctx context.Context, mc MarketContext) ([]Decision, error) {
	body, err := e.tmpl.Render(mc)
	if err != nil {
		return nil, fmt.Errorf("npc: render prompt for %s: %w", mc.NPCID, err)
	}

	schema, err := llm.GenerateSchema(&decisionBatch{})
	if err != nil {
		return nil, fmt.Errorf("npc: schema: %w", err)
	}

	req := &llm.ChatRequest{
		Model: e.cfg.Model,
		Messages: []llm.Message{
			{Role: "system", Content: "You are an NPC trader. Respond only with the requested JSON."},
			{Role: "user", Content: body},
		},
		ResponseFormat: &llm.ResponseFormat{Type: "json_schema", Name: "npc_decisions", Schema: schema},
	}

	var out decisionBatch
	if err := e.llm.ChatStructured(ctx, req, &out); err != nil {
		return nil, err
	}
	return out.Decisions, nil
}

// validate drops malformed or over-risk entries.
func validate(mc MarketContext, raw []Decision, riskFraction float64) []Decision {
	maxAmount := mc.AvailableBalance * riskFraction
	var out []Decision
	for _, d := range raw {
		action := Action(strings.ToLower(strings.TrimSpace(string(d.Action))))
		d.Action = action
		switch action {
		case ActionHold:
			continue
		case ActionBuyYes, ActionBuyNo:
			if d.MarketID == "" {
				continue
			}
		case ActionOpenLong, ActionOpenShort:
			if d.Ticker == "" {
				continue
			}
		case ActionClose:
			if d.Ticker == "" && d.MarketID == "" {
				continue
			}
		default:
			continue // unrecognized action: reject rather than guess
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			continue
		}
		if action != ActionClose {
			if d.Amount <= 0 {
				continue
			}
			if maxAmount > 0 && d.Amount > maxAmount {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

// dedupe keeps the first (highest-confidence, once sorted) decision per
// (ref, action) pair.
func dedupe(decisions []Decision) []Decision {
	seen := make(map[string]bool, len(decisions))
	var out []Decision
	for _, d := range decisions {
		key := d.ref() + "|" + string(d.Action)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}
