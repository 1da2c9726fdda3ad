package oracle

import (
	"context"
	"strconv"
	"sync"

	"simengine/pkg/marketstore"
)

// MemClient is an in-process Client used by tests and by the service
// context, which wires it as the engine's oracle client. A real implementation would be an HTTP
// client in the shape of pkg/llm/client.go (context-scoped timeout, typed
// errors, no wrapping that loses Kind).
type MemClient struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]*SessionState
	// Outcomes lets a test or operator pre-seed the outcome a session will
	// eventually reveal, keyed by question id. A session only reports
	// revealed=true once Reveal is actually called (see ResolveOutcome,
	// which exposes this same map as an OutcomeSource for Resolver).
	Outcomes map[string]marketstore.Outcome
}

func NewMemClient() *MemClient {
	return &MemClient{sessions: make(map[string]*SessionState), Outcomes: make(map[string]marketstore.Outcome)}
}

func (c *MemClient) Commit(_ context.Context, questionID, _ string, _ string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	sid := "sess-" + strconv.Itoa(c.seq)
	outcome, ok := c.Outcomes[questionID]
	if !ok {
		outcome = marketstore.OutcomeUnresolved
	}
	c.sessions[sid] = &SessionState{SessionID: sid, TxHash: "0x" + strconv.Itoa(c.seq), Outcome: outcome}
	return sid, c.sessions[sid].TxHash, nil
}

func (c *MemClient) Reveal(_ context.Context, sessionID string, outcome marketstore.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	s.Revealed = true
	s.Outcome = outcome
	return nil
}

func (c *MemClient) GetOutcome(_ context.Context, sessionID string) (bool, marketstore.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return false, "", ErrUnknownSession
	}
	return s.Revealed, s.Outcome, nil
}

// ResolveOutcome implements oracle.OutcomeSource by reading back whatever
// outcome a test or operator pre-seeded into Outcomes, modelling the
// administrator-supplies-the-outcome path. A real
// oracle integration would back this with whatever external resolution
// process knows the true outcome, independent of the Client itself.
func (c *MemClient) ResolveOutcome(_ context.Context, questionID string) (marketstore.Outcome, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outcome, ok := c.Outcomes[questionID]
	if !ok || outcome == marketstore.OutcomeUnresolved {
		return "", false, nil
	}
	return outcome, true, nil
}
