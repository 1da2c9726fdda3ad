package coordinator_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"simengine/pkg/coordinator"
	"simengine/pkg/llm"
)

type stubTemplate struct{ rendered string }

func (t *stubTemplate) Render(any) (string, error) { return t.rendered, nil }

func TestLLMPlanner_Plan_DropsActionsWithEmptyType(t *testing.T) {
	// Exercises validatePlan's rejection path via a client whose structured
	// response holds only actions with an empty or blank type.
	client := &fakeStructuredClient{payload: `{"actions":[{"type":""},{"type":"   "}]}`}
	planner := coordinator.NewLLMPlanner(client, &stubTemplate{rendered: "ctx"}, "gpt-x")

	actions, call, err := planner.Plan(context.Background(), coordinator.Agent{ID: "a1"}, map[string]string{"wallet": "100"})
	require.NoError(t, err)
	require.Empty(t, actions)
	require.NotNil(t, call)
	require.Equal(t, "plan", call.Purpose)
}

type fakeStructuredClient struct{ payload string }

func (c *fakeStructuredClient) Chat(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, nil
}
func (c *fakeStructuredClient) ChatStructured(_ context.Context, _ *llm.ChatRequest, out interface{}) error {
	if c.payload == "" {
		return nil
	}
	return json.Unmarshal([]byte(c.payload), out)
}
func (c *fakeStructuredClient) Close() error { return nil }
