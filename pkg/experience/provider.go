package experience

import (
	"context"
	"fmt"
	"strings"
)

// DefaultRetrievalLimit bounds how many recent experiences are folded
// into one provider fetch.
const DefaultRetrievalLimit = 5

// Provider implements runtime.Provider: it is the "experience" entry in
// an AgentRuntime's ordered provider list, formatting the
// agent's most recent recorded experiences into planning context.
type Provider struct {
	store Store
	limit int
}

func NewProvider(store Store) *Provider {
	return &Provider{store: store, limit: DefaultRetrievalLimit}
}

func (p *Provider) Name() string { return "experience" }

// Fetch is read-only: it never records a new experience, only retrieves.
func (p *Provider) Fetch(ctx context.Context, agentID string) (string, error) {
	recent, err := p.store.Recent(ctx, agentID, p.limit)
	if err != nil {
		return "", err
	}
	if len(recent) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, e := range recent {
		fmt.Fprintf(&b, "[%s] %s (%s, impact=%.2f)\n", e.Category, e.Summary, e.Outcome, e.ImpactScore)
	}
	return b.String(), nil
}
