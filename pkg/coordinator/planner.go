package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"simengine/pkg/engineerr"
	"simengine/pkg/llm"
	"simengine/pkg/trajectory"
)

// LLMPlanner implements Planner by rendering the agent + gathered provider
// context through a prompt template and asking for a bounded batch of
// typed actions.
type LLMPlanner struct {
	client llm.LLMClient
	tmpl   promptRenderer
	model  string
}

// promptRenderer is the narrow slice of *prompt.Template the planner
// needs, declared locally so tests can fake it without loading a file
// from disk.
type promptRenderer interface {
	Render(data any) (string, error)
}

func NewLLMPlanner(client llm.LLMClient, tmpl promptRenderer, model string) *LLMPlanner {
	return &LLMPlanner{client: client, tmpl: tmpl, model: model}
}

type plannedActionBatch struct {
	Actions []plannedActionJSON `json:"actions"`
}

type plannedActionJSON struct {
	Type           string         `json:"type"`
	Params         map[string]any `json:"params"`
	GoalID         string         `json:"goal_id"`
	ExpectedImpact float64        `json:"expected_impact"`
	Leverage       int            `json:"leverage"`
}

// planPromptData is the template's render input.
type planPromptData struct {
	Agent   Agent
	Context map[string]string
}

const planSystemPrompt = "You are an autonomous agent planner. Respond only with the requested JSON."

// Plan renders the agent's runtime context, issues one structured LLM
// call, and returns a validated batch of actions plus the trajectory
// record of the call itself. A malformed or
// failed call degrades to no actions.
func (p *LLMPlanner) Plan(ctx context.Context, agent Agent, envContext map[string]string) ([]PlannedAction, *trajectory.LLMCall, error) {
	body, err := p.tmpl.Render(planPromptData{Agent: agent, Context: envContext})
	if err != nil {
		return nil, nil, fmt.Errorf("coordinator: render plan prompt for %s: %w", agent.ID, err)
	}

	schema, err := llm.GenerateSchema(&plannedActionBatch{})
	if err != nil {
		return nil, nil, fmt.Errorf("coordinator: plan schema: %w", err)
	}

	req := &llm.ChatRequest{
		Model: p.model,
		Messages: []llm.Message{
			{Role: "system", Content: planSystemPrompt},
			{Role: "user", Content: body},
		},
		ResponseFormat: &llm.ResponseFormat{Type: "json_schema", Name: "agent_plan", Schema: schema},
	}

	started := time.Now()
	var out plannedActionBatch
	if err := p.client.ChatStructured(ctx, req, &out); err != nil {
		if ctx.Err() != nil {
			return nil, nil, engineerr.New(engineerr.Timeout, "coordinator: plan call timed out").WithRelated(agent.ID)
		}
		return nil, nil, err
	}

	response, _ := json.Marshal(out)
	call := &trajectory.LLMCall{
		Model:        p.model,
		SystemPrompt: planSystemPrompt,
		UserPrompt:   body,
		Response:     string(response),
		LatencyMs:    time.Since(started).Milliseconds(),
		Purpose:      "plan",
	}
	return validatePlan(out.Actions), call, nil
}

// validatePlan drops malformed entries rather than guessing intent,
// mirroring pkg/npc's validate: an unrecognized or empty action type is
// rejected, not coerced.
func validatePlan(raw []plannedActionJSON) []PlannedAction {
	var out []PlannedAction
	for _, a := range raw {
		actionType := strings.ToLower(strings.TrimSpace(a.Type))
		if actionType == "" {
			continue
		}
		impact := a.ExpectedImpact
		if impact < 0 {
			impact = 0
		}
		if impact > 1 {
			impact = 1
		}
		out = append(out, PlannedAction{
			Type: actionType, Params: a.Params, GoalID: a.GoalID,
			ExpectedImpact: impact, Leverage: a.Leverage,
		})
	}
	return out
}
