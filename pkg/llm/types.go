// Package llm is the engine's LLM provider client: one structured-output
// call shape (a prompt, a JSON schema, a decoded object) over an
// OpenAI-compatible chat-completions endpoint. The NPC Decision Engine
// and the Autonomous Coordinator are its only consumers; everything they
// do not need (streaming, tool calls, model routing) is deliberately
// absent.
package llm

import "context"

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// ResponseFormat forces the completion into a JSON shape. Type is
// "json_schema"; Schema is the JSON-schema object the response must
// satisfy.
type ResponseFormat struct {
	Type   string
	Name   string
	Schema map[string]interface{}
	Strict bool
}

// ChatRequest is one completion request. Model may be empty, in which
// case the client's configured default model is used.
type ChatRequest struct {
	Model          string
	Messages       []Message
	ResponseFormat *ResponseFormat
	Temperature    *float64
	MaxTokens      *int
}

// Usage reports the token accounting the provider returned.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Choice is one returned completion.
type Choice struct {
	Message      Message
	FinishReason string
}

// ChatResponse is the provider's answer to one ChatRequest.
type ChatResponse struct {
	ID      string
	Model   string
	Choices []Choice
	Usage   Usage
}

// LLMClient is the capability surface the engine depends on. Client is
// the production implementation; NoopClient degrades every call to an
// empty result for deployments with no LLM configured.
type LLMClient interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ChatStructured(ctx context.Context, req *ChatRequest, target interface{}) error
	Close() error
}
