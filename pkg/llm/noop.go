package llm

import "context"

// NoopClient satisfies LLMClient without ever calling a provider: Chat
// returns an empty response and ChatStructured leaves target at its zero
// value. enginectl wires this when no LLM section is configured, so the
// NPC Decision Engine and Autonomous Coordinator degrade to hold /
// no-planned-actions instead of failing to start.
type NoopClient struct{}

func NewNoopClient() *NoopClient { return &NoopClient{} }

func (NoopClient) Chat(context.Context, *ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{}, nil
}

func (NoopClient) ChatStructured(context.Context, *ChatRequest, interface{}) error {
	return nil
}

func (NoopClient) Close() error { return nil }
