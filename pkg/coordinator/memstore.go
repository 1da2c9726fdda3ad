package coordinator

import (
	"context"
	"sync"

	"simengine/pkg/engineerr"
	"simengine/pkg/trajectory"
)

// MemAgentStore is an in-memory AgentStore for tests and single-process
// wiring (mirrors pkg/marketstore.MemStore's pattern).
type MemAgentStore struct {
	mu     sync.Mutex
	agents map[string]Agent
}

func NewMemAgentStore() *MemAgentStore {
	return &MemAgentStore{agents: make(map[string]Agent)}
}

func (s *MemAgentStore) Seed(a Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
}

func (s *MemAgentStore) GetAgent(_ context.Context, agentID string) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return Agent{}, engineerr.New(engineerr.UserNotFound, "coordinator: unknown agent").WithRelated(agentID)
	}
	return a, nil
}

// IDs returns every seeded agent id, for callers that need to enumerate
// the roster (e.g. the enginectl agents.run-all CLI command).
func (s *MemAgentStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.agents))
	for id := range s.agents {
		out = append(out, id)
	}
	return out
}

func (s *MemAgentStore) DeductPoints(_ context.Context, agentID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return engineerr.New(engineerr.UserNotFound, "coordinator: unknown agent").WithRelated(agentID)
	}
	a.AgentPoints -= amount
	s.agents[agentID] = a
	return nil
}

// MemGoalStore is an in-memory GoalStore.
type MemGoalStore struct {
	mu    sync.Mutex
	goals map[string]trajectory.Goal
}

func NewMemGoalStore() *MemGoalStore {
	return &MemGoalStore{goals: make(map[string]trajectory.Goal)}
}

func (s *MemGoalStore) Seed(g trajectory.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals[g.ID] = g
}

func (s *MemGoalStore) GetGoal(_ context.Context, goalID string) (trajectory.Goal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[goalID]
	return g, ok, nil
}

func (s *MemGoalStore) SaveGoal(_ context.Context, g trajectory.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals[g.ID] = g
	return nil
}
