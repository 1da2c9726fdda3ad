// Package trajectory records per-agent episodes and tracks goals. It
// captures every agent decision as a replayable step sequence, scores it with a
// heuristic reward function, and exports it to a training-ready stream.
package trajectory

import "time"

// GoalStatus is a goal's lifecycle state.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
)

// Goal is a per-agent named objective with bounded progress.
type Goal struct {
	ID           string
	AgentID      string
	Name         string
	TargetMetric string
	Priority     int // 1-10
	Status       GoalStatus
	Progress     float64 // [0,1]
	CompletedAt  *time.Time
}

// ProviderAccess is one labelled, read-only context fetch logged against a
// step.
type ProviderAccess struct {
	ProviderName string
	Data         string
	Purpose      string
	At           time.Time
}

// LLMCall mirrors one logged LLM invocation.
type LLMCall struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Response     string
	Reasoning    string
	Temperature  float64
	MaxTokens    int
	LatencyMs    int64
	Purpose      string
	ActionType   string
}

// Step is one trajectory step: an environment-state snapshot, the
// provider accesses and LLM calls that informed it, the chosen action,
// and its reward.
type Step struct {
	EnvState       string
	ProviderAccess []ProviderAccess
	LLMCalls       []LLMCall
	Action         map[string]any
	Reward         float64
	completed      bool
}

// Trajectory is one per-agent episode.
type Trajectory struct {
	ID         string
	AgentID    string
	ScenarioID string
	WindowID   string
	Metadata   map[string]any
	Steps      []Step

	StartedAt time.Time
	EndedAt   time.Time

	EpisodeLength int
	TotalReward   float64
	FinalStatus   string
	TrainingReady bool
	Exported      bool
	Summary       map[string]any
}
