package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"simengine/pkg/llm"
)

func newStubServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-test",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "test/model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
}

func newTestClient(t *testing.T, baseURL string) *llm.Client {
	t.Helper()
	client, err := llm.NewClient(&llm.Config{
		BaseURL: baseURL, APIKey: "test-key", DefaultModel: "test/model", Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_RejectsInvalidConfig(t *testing.T) {
	_, err := llm.NewClient(nil)
	require.Error(t, err)
	_, err = llm.NewClient(&llm.Config{BaseURL: "https://example.test"})
	require.Error(t, err, "missing api_key/default_model must be rejected")
}

func TestChat_ReturnsChoicesAndUsage(t *testing.T) {
	srv := newStubServer(t, "hello")
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "hello", resp.Choices[0].Message.Content)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestChat_RequiresMessages(t *testing.T) {
	client := newTestClient(t, "https://example.test")
	_, err := client.Chat(context.Background(), &llm.ChatRequest{})
	require.Error(t, err)
}

func TestChatStructured_DecodesIntoTarget(t *testing.T) {
	srv := newStubServer(t, `{"decisions":[{"action":"buy_yes","amount":5,"confidence":0.8}]}`)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	var out sampleBatch
	err := client.ChatStructured(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: "decide"}},
	}, &out)
	require.NoError(t, err)
	require.Len(t, out.Decisions, 1)
	require.Equal(t, "buy_yes", out.Decisions[0].Action)
}

func TestChatStructured_RejectsMalformedJSON(t *testing.T) {
	srv := newStubServer(t, "not json")
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	var out sampleBatch
	err := client.ChatStructured(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: "decide"}},
	}, &out)
	require.Error(t, err)
}

func TestNoopClient_DegradesToEmpty(t *testing.T) {
	noop := llm.NewNoopClient()
	resp, err := noop.Chat(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	require.Empty(t, resp.Choices)

	var out sampleBatch
	require.NoError(t, noop.ChatStructured(context.Background(), nil, &out))
	require.Empty(t, out.Decisions)
}
