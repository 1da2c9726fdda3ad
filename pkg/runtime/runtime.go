// Package runtime implements the agent runtime manager: a process-wide,
// LRU-bounded map from agent id to an active AgentRuntime, each exposing
// an ordered provider registry (read-only context sources) and an action
// registry (effectful, no-reflection dispatch).
package runtime

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"simengine/pkg/engineerr"
)

// DefaultCapacity bounds the runtime map before LRU eviction starts.
const DefaultCapacity = 256

// DefaultProviderTimeout bounds each provider's Fetch during a context
// gather.
const DefaultProviderTimeout = 2 * time.Second

// Provider is a read-only context source (wallet, headlines, market
// movers, entity mentions, trending, experience). Invocation must not
// mutate state.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, agentID string) (string, error)
}

// Action is an effectful capability (buy/sell, open/close, post, comment,
// message, goal-update). Actions go through the Trade Executor / Ledger /
// social collaborators, never direct state mutation here.
type Action interface {
	Name() string
	Execute(ctx context.Context, agentID string, params map[string]any) error
}

// AgentRuntime is the live, lazily-constructed sandbox for one agent.
type AgentRuntime struct {
	AgentID   string
	Providers []Provider // fetched by GatherContext in slice order, as the Factory returned them
	Actions   map[string]Action

	providerTimeout time.Duration
}

func newRuntime(agentID string, providers []Provider, actions map[string]Action, providerTimeout time.Duration) *AgentRuntime {
	if providerTimeout <= 0 {
		providerTimeout = DefaultProviderTimeout
	}
	return &AgentRuntime{AgentID: agentID, Providers: providers, Actions: actions, providerTimeout: providerTimeout}
}

// GatherContext invokes every provider in order, each under its own
// timeout; a provider failure or timeout yields an empty string for that
// provider and never aborts the gather.
func (r *AgentRuntime) GatherContext(ctx context.Context) map[string]string {
	out := make(map[string]string, len(r.Providers))
	for _, p := range r.Providers {
		fetchCtx, cancel := context.WithTimeout(ctx, r.providerTimeout)
		text, err := p.Fetch(fetchCtx, r.AgentID)
		cancel()
		if err != nil {
			logx.WithContext(ctx).Infof("runtime: provider %s failed for agent %s: %v", p.Name(), r.AgentID, err)
			text = ""
		}
		out[p.Name()] = text
	}
	return out
}

// Dispatch runs the named action against params without reflection.
func (r *AgentRuntime) Dispatch(ctx context.Context, actionName string, params map[string]any) error {
	action, ok := r.Actions[actionName]
	if !ok {
		return engineerr.Newf(engineerr.InvariantViolation, "runtime: agent %s has no action %q enabled", r.AgentID, actionName).WithRelated(r.AgentID)
	}
	return action.Execute(ctx, r.AgentID, params)
}

// Factory constructs the provider/action set for a newly active agent.
// Construction is lazy: it only runs on first use of an agent id.
type Factory interface {
	BuildProviders(agentID string) []Provider
	BuildActions(agentID string) map[string]Action
}

// Manager is the process-wide, concurrent-safe, LRU-bounded agent id ->
// AgentRuntime map.
type Manager struct {
	mu       sync.Mutex
	capacity int
	factory  Factory

	providerTimeout time.Duration

	order   *list.List               // front = most recently used
	entries map[string]*list.Element // agentID -> list element holding *AgentRuntime
}

func New(factory Factory, capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{capacity: capacity, factory: factory, order: list.New(), entries: make(map[string]*list.Element)}
}

// SetProviderTimeout overrides the per-provider fetch timeout applied to
// runtimes constructed after the call (PROVIDER_TIMEOUT_MS).
func (m *Manager) SetProviderTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerTimeout = d
}

// Get returns the agent's runtime, lazily constructing it on first use and
// evicting the least-recently-used entry if the manager is at capacity.
func (m *Manager) Get(agentID string) *AgentRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[agentID]; ok {
		m.order.MoveToFront(el)
		return el.Value.(*AgentRuntime)
	}

	rt := newRuntime(agentID, m.factory.BuildProviders(agentID), m.factory.BuildActions(agentID), m.providerTimeout)
	el := m.order.PushFront(rt)
	m.entries[agentID] = el

	if m.order.Len() > m.capacity {
		m.evictOldest()
	}
	return rt
}

// ClearRuntime explicitly evicts agentID's runtime.
func (m *Manager) ClearRuntime(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[agentID]; ok {
		m.order.Remove(el)
		delete(m.entries, agentID)
	}
}

// Len reports the number of live runtimes, for tests and diagnostics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Manager) evictOldest() {
	oldest := m.order.Back()
	if oldest == nil {
		return
	}
	rt := oldest.Value.(*AgentRuntime)
	m.order.Remove(oldest)
	delete(m.entries, rt.AgentID)
}
