// Package coordinator implements the autonomous per-agent tick: it gates
// on points and bans, gathers provider context, plans actions with one
// LLM call, executes them in priority order, advances goal progress, and
// records a trajectory.
package coordinator

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"simengine/pkg/experience"
	"simengine/pkg/llmsem"
	"simengine/pkg/runtime"
	"simengine/pkg/trajectory"
)

// Default tick costs.
const (
	DefaultTickCostFree       = 1.0
	DefaultTickCostPro        = 5.0
	DefaultMaxLeverageLowRisk = 5
)

// Agent is the slice of the user/agent record the coordinator needs.
type Agent struct {
	ID                string
	IsActive          bool
	IsBanned          bool
	ModelTier         string // "free" | "pro"
	AgentPoints       float64
	MaxActionsPerTick int
	Capabilities      map[string]bool // trading, posting, commenting, dm, group_chat
	RiskTolerance     string          // low | medium | high
}

// PlannedAction is one action the Plan LLM call proposed.
type PlannedAction struct {
	Type           string
	Params         map[string]any
	GoalID         string
	ExpectedImpact float64 // progress delta on GoalID, bounded to [0,1] by the coordinator
	Leverage       int     // 0 if not applicable
}

// AgentStore loads agents and bills tick cost.
type AgentStore interface {
	GetAgent(ctx context.Context, agentID string) (Agent, error)
	DeductPoints(ctx context.Context, agentID string, amount float64) error
}

// GoalStore tracks per-agent goal progress.
type GoalStore interface {
	GetGoal(ctx context.Context, goalID string) (trajectory.Goal, bool, error)
	SaveGoal(ctx context.Context, goal trajectory.Goal) error
}

// Planner issues the per-tick structured planning LLM call.
// The returned LLMCall (nil for planners that make none) is logged on the
// tick's first trajectory step.
type Planner interface {
	Plan(ctx context.Context, agent Agent, envContext map[string]string) ([]PlannedAction, *trajectory.LLMCall, error)
}

// TickResult aggregates what one autonomous tick executed.
type TickResult struct {
	Success         bool
	Method          string // "executed" | "gated" | "deferred"
	ActionsExecuted map[string]int
	DurationMs      int64
}

// Coordinator runs one autonomous tick per agent.
type Coordinator struct {
	agents      AgentStore
	goals       GoalStore
	runtimes    *runtime.Manager
	planner     Planner
	recorder    *trajectory.Recorder
	sem         *llmsem.Semaphore
	experiences experience.Store // optional; nil disables experience recording

	tickCostFree float64
	tickCostPro  float64
}

type Config struct {
	TickCostFree float64
	TickCostPro  float64
	// Experiences, if set, receives one Record call per executed or
	// failed action, feeding the pkg/experience Provider's retrieval for
	// future ticks.
	Experiences experience.Store
}

func New(agents AgentStore, goals GoalStore, runtimes *runtime.Manager, planner Planner, recorder *trajectory.Recorder, sem *llmsem.Semaphore, cfg Config) *Coordinator {
	if cfg.TickCostFree <= 0 {
		cfg.TickCostFree = DefaultTickCostFree
	}
	if cfg.TickCostPro <= 0 {
		cfg.TickCostPro = DefaultTickCostPro
	}
	return &Coordinator{
		agents: agents, goals: goals, runtimes: runtimes, planner: planner, recorder: recorder, sem: sem,
		experiences:  cfg.Experiences,
		tickCostFree: cfg.TickCostFree, tickCostPro: cfg.TickCostPro,
	}
}

func (c *Coordinator) tickCost(agent Agent) float64 {
	if agent.ModelTier == "pro" {
		return c.tickCostPro
	}
	return c.tickCostFree
}

// Tick runs the full pipeline for one agent: gate, gather context, plan,
// execute, advance goals, record the trajectory.
func (c *Coordinator) Tick(ctx context.Context, agentID string) (TickResult, error) {
	start := time.Now()
	agent, err := c.agents.GetAgent(ctx, agentID)
	if err != nil {
		return TickResult{}, err
	}

	cost := c.tickCost(agent)
	if !agent.IsActive || agent.IsBanned || agent.AgentPoints < cost {
		return TickResult{Success: false, Method: "gated", DurationMs: time.Since(start).Milliseconds()}, nil
	}

	// Backpressure: if the global LLM semaphore is saturated,
	// defer this agent's tick to the next cycle rather than blocking.
	if !c.sem.TryAcquire() {
		return TickResult{Success: false, Method: "deferred", DurationMs: time.Since(start).Milliseconds()}, nil
	}
	defer c.sem.Release()

	rt := c.runtimes.Get(agentID)
	envContext := rt.GatherContext(ctx)

	windowID := time.Now().UTC().Format("2006-01-02T15")
	trajID := c.recorder.StartTrajectory(agentID, "autonomous_tick", windowID, map[string]any{"risk_tolerance": agent.RiskTolerance})

	actions, planCall, err := c.planner.Plan(ctx, agent, envContext)
	if err != nil {
		logx.WithContext(ctx).Infof("coordinator: agent %s plan failed, no actions: %v", agentID, err)
		actions = nil
	}
	actions = filterActions(agent, actions)
	if agent.MaxActionsPerTick > 0 && len(actions) > agent.MaxActionsPerTick {
		actions = actions[:agent.MaxActionsPerTick]
	}

	if err := c.agents.DeductPoints(ctx, agentID, cost); err != nil {
		logx.WithContext(ctx).Errorf("coordinator: agent %s tick-cost billing failed: %v", agentID, err)
	}

	counts := make(map[string]int)
	var goalDelta, socialTerm float64
	firstStep := true
	for _, action := range actions {
		if _, stepErr := c.recorder.StartStep(trajID, envSnapshot(envContext)); stepErr != nil {
			continue
		}
		if firstStep {
			c.logContext(trajID, envContext, planCall)
			firstStep = false
		}
		dispatchErr := rt.Dispatch(ctx, action.Type, action.Params)
		if dispatchErr != nil {
			logx.WithContext(ctx).Infof("coordinator: agent %s action %s failed: %v", agentID, action.Type, dispatchErr)
			_ = c.recorder.CompleteStep(trajID, actionRecord(action, dispatchErr), 0)
			c.recordExperience(ctx, agentID, action, experience.OutcomeFailure, 0)
			continue
		}
		counts[action.Type]++
		switch capabilityFor(action.Type) {
		case "posting", "commenting", "dm", "group_chat":
			socialTerm++
		}
		if action.GoalID != "" {
			c.advanceGoal(ctx, action.GoalID, action.ExpectedImpact)
			goalDelta += action.ExpectedImpact
		}
		_ = c.recorder.CompleteStep(trajID, actionRecord(action, nil), action.ExpectedImpact)
		c.recordExperience(ctx, agentID, action, experience.OutcomeSuccess, action.ExpectedImpact)
	}

	// A tick whose plan came back empty still records one hold step so the
	// episode captures the observation and the plan call that led nowhere.
	if firstStep {
		if _, stepErr := c.recorder.StartStep(trajID, envSnapshot(envContext)); stepErr == nil {
			c.logContext(trajID, envContext, planCall)
			_ = c.recorder.CompleteStep(trajID, map[string]any{"type": "hold"}, 0)
		}
	}

	reward := trajectory.Score(trajectory.ScoreInputs{GoalProgressDelta: goalDelta, SocialEngagementTerm: socialTerm})
	if err := c.recorder.EndTrajectory(ctx, trajID, map[string]any{"actions": counts, "episode_reward": reward}); err != nil {
		logx.WithContext(ctx).Errorf("coordinator: agent %s end trajectory failed: %v", agentID, err)
	}

	return TickResult{Success: true, Method: "executed", ActionsExecuted: counts, DurationMs: time.Since(start).Milliseconds()}, nil
}

// logContext attaches the gathered provider texts and the plan LLM call to
// the trajectory's current step. Logged once per tick, on the first step.
func (c *Coordinator) logContext(trajID string, envContext map[string]string, planCall *trajectory.LLMCall) {
	names := make([]string, 0, len(envContext))
	for name := range envContext {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_ = c.recorder.LogProviderAccess(trajID, name, envContext[name], "context_gather")
	}
	if planCall != nil {
		_ = c.recorder.LogLLMCall(trajID, *planCall)
	}
}

// recordExperience folds one action's outcome into durable per-agent
// memory. No-op when the coordinator was constructed without an
// experience store.
func (c *Coordinator) recordExperience(ctx context.Context, agentID string, action PlannedAction, outcome experience.Outcome, impact float64) {
	if c.experiences == nil {
		return
	}
	err := c.experiences.Record(ctx, experience.Experience{
		AgentID:     agentID,
		Category:    action.Type,
		Summary:     action.Type + " via goal " + action.GoalID,
		Outcome:     outcome,
		ImpactScore: impact,
	})
	if err != nil {
		logx.WithContext(ctx).Infof("coordinator: agent %s record experience failed: %v", agentID, err)
	}
}

// envSnapshot produces a stable, compact label for the observed context;
// the full provider texts live in the step's provider-access log entries.
func envSnapshot(envContext map[string]string) string {
	names := make([]string, 0, len(envContext))
	for name := range envContext {
		names = append(names, name)
	}
	sort.Strings(names)
	return "ctx:" + strings.Join(names, ",")
}

func actionRecord(a PlannedAction, err error) map[string]any {
	rec := map[string]any{"type": a.Type, "goal_id": a.GoalID, "params": a.Params}
	if err != nil {
		rec["error"] = err.Error()
	}
	return rec
}

// filterActions drops actions outside the agent's capability set and
// downgrades/drops actions exceeding the risk-tolerance tag.
func filterActions(agent Agent, actions []PlannedAction) []PlannedAction {
	var out []PlannedAction
	for _, a := range actions {
		required := capabilityFor(a.Type)
		if required != "" && !agent.Capabilities[required] {
			continue
		}
		if agent.RiskTolerance == "low" && a.Leverage > DefaultMaxLeverageLowRisk {
			a.Leverage = DefaultMaxLeverageLowRisk // downgrade rather than drop
		}
		out = append(out, a)
	}
	return out
}

func capabilityFor(actionType string) string {
	switch actionType {
	case "buy_yes", "buy_no", "open_long", "open_short", "close":
		return "trading"
	case "post":
		return "posting"
	case "comment":
		return "commenting"
	case "message":
		return "dm"
	case "group_message":
		return "group_chat"
	default:
		return "" // goal-update and other non-capability-gated actions
	}
}

// advanceGoal increments a goal's progress, bounded to [0,1], and
// transitions it to completed on reaching 1.0.
func (c *Coordinator) advanceGoal(ctx context.Context, goalID string, delta float64) {
	goal, ok, err := c.goals.GetGoal(ctx, goalID)
	if err != nil || !ok {
		return
	}
	if goal.Status != trajectory.GoalActive {
		return
	}
	goal.Progress += delta
	if goal.Progress > 1 {
		goal.Progress = 1
	}
	if goal.Progress < 0 {
		goal.Progress = 0
	}
	if goal.Progress >= 1 {
		goal.Status = trajectory.GoalCompleted
		now := time.Now()
		goal.CompletedAt = &now
	}
	if err := c.goals.SaveGoal(ctx, goal); err != nil {
		logx.WithContext(ctx).Errorf("coordinator: save goal %s failed: %v", goalID, err)
	}
}
