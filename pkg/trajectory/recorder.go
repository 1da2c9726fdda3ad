package trajectory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"simengine/pkg/engineerr"
)

// DefaultMinAgentsPerWindow is how many distinct agents a window needs
// before its trajectories count as training-ready.
const DefaultMinAgentsPerWindow = 3

// Recorder captures per-agent episodes. It buffers one in-flight
// trajectory per id in memory and
// persists it on endTrajectory, mirroring pkg/journal.Writer's
// accumulate-then-flush style but keyed per agent-episode rather than
// per fixed-interval cycle.
type Recorder struct {
	store Store
	seq   int64

	minAgentsPerWindow int

	mu     sync.Mutex
	active map[string]*Trajectory
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, active: make(map[string]*Trajectory), minAgentsPerWindow: DefaultMinAgentsPerWindow}
}

// WithMinAgentsPerWindow overrides the training-ready threshold
// (TRAJECTORY_MIN_AGENTS_PER_WINDOW). Zero or negative keeps the default.
// Returns the recorder for chaining at construction time.
func (r *Recorder) WithMinAgentsPerWindow(n int) *Recorder {
	if n > 0 {
		r.minAgentsPerWindow = n
	}
	return r
}

// StartTrajectory begins a new episode and returns its id.
func (r *Recorder) StartTrajectory(agentID, scenarioID, windowID string, metadata map[string]any) string {
	id := fmt.Sprintf("traj-%d", atomic.AddInt64(&r.seq, 1))
	t := &Trajectory{
		ID: id, AgentID: agentID, ScenarioID: scenarioID, WindowID: windowID,
		Metadata: metadata, StartedAt: time.Now(), FinalStatus: "in_progress",
	}
	r.mu.Lock()
	r.active[id] = t
	r.mu.Unlock()
	return id
}

// StartStep opens a new step with its environment-state snapshot and
// returns the step's index within the trajectory.
func (r *Recorder) StartStep(trajectoryID, envState string) (int, error) {
	t, err := r.get(trajectoryID)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Steps = append(t.Steps, Step{EnvState: envState})
	return len(t.Steps) - 1, nil
}

// LogProviderAccess appends a labelled context fetch to the trajectory's
// current (last) step.
func (r *Recorder) LogProviderAccess(trajectoryID, providerName, data, purpose string) error {
	t, err := r.get(trajectoryID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	step, err := lastOpenStep(t)
	if err != nil {
		return err
	}
	step.ProviderAccess = append(step.ProviderAccess, ProviderAccess{ProviderName: providerName, Data: data, Purpose: purpose, At: time.Now()})
	return nil
}

// LogLLMCall appends one LLM invocation record to the current step. At
// most one LLM call may produce an action per step; the caller enforces
// that, the recorder only appends what it is told.
func (r *Recorder) LogLLMCall(trajectoryID string, call LLMCall) error {
	t, err := r.get(trajectoryID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	step, err := lastOpenStep(t)
	if err != nil {
		return err
	}
	step.LLMCalls = append(step.LLMCalls, call)
	return nil
}

// CompleteStep records the chosen action and reward for the current step.
func (r *Recorder) CompleteStep(trajectoryID string, action map[string]any, reward float64) error {
	t, err := r.get(trajectoryID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	step, err := lastOpenStep(t)
	if err != nil {
		return err
	}
	step.Action = action
	step.Reward = reward
	step.completed = true
	t.TotalReward += reward
	return nil
}

// EndTrajectory closes the episode, computes denormalized scalars, and
// persists it.
func (r *Recorder) EndTrajectory(ctx context.Context, trajectoryID string, summary map[string]any) error {
	t, err := r.get(trajectoryID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	t.EndedAt = time.Now()
	t.EpisodeLength = len(t.Steps)
	t.FinalStatus = "completed"
	t.Summary = summary
	saved := *t
	delete(r.active, trajectoryID)
	r.mu.Unlock()

	if err := r.store.Save(ctx, saved); err != nil {
		return err
	}
	return MarkWindowTrainingReady(ctx, r.store, saved.WindowID, r.minAgentsPerWindow)
}

func (r *Recorder) get(trajectoryID string) (*Trajectory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.active[trajectoryID]
	if !ok {
		return nil, engineerr.New(engineerr.NotFound, "trajectory: unknown or already-ended trajectory").WithRelated(trajectoryID)
	}
	return t, nil
}

func lastOpenStep(t *Trajectory) (*Step, error) {
	if len(t.Steps) == 0 {
		return nil, engineerr.New(engineerr.InvariantViolation, "trajectory: no open step; call startStep first").WithRelated(t.ID)
	}
	return &t.Steps[len(t.Steps)-1], nil
}

// MarkWindowTrainingReady recomputes the training-ready flag for every
// trajectory in windowID: ready once the window holds trajectories from
// at least minAgents distinct agents.
func MarkWindowTrainingReady(ctx context.Context, store Store, windowID string, minAgents int) error {
	if minAgents <= 0 {
		minAgents = DefaultMinAgentsPerWindow
	}
	trajectories, err := store.ListByWindow(ctx, windowID)
	if err != nil {
		return err
	}
	agents := make(map[string]bool, len(trajectories))
	for _, t := range trajectories {
		agents[t.AgentID] = true
	}
	ready := len(agents) >= minAgents
	for _, t := range trajectories {
		if t.TrainingReady == ready {
			continue
		}
		t.TrainingReady = ready
		if err := store.Save(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
