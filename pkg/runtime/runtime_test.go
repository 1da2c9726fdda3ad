package runtime_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"simengine/pkg/runtime"
)

type echoProvider struct{ name string }

func (p echoProvider) Name() string { return p.name }
func (p echoProvider) Fetch(_ context.Context, agentID string) (string, error) {
	if p.name == "broken" {
		return "", fmt.Errorf("boom")
	}
	return p.name + ":" + agentID, nil
}

type noopAction struct {
	name  string
	calls *int
}

func (a noopAction) Name() string { return a.name }
func (a noopAction) Execute(context.Context, string, map[string]any) error {
	*a.calls++
	return nil
}

type countingFactory struct {
	built int
	calls int
}

func (f *countingFactory) BuildProviders(agentID string) []runtime.Provider {
	f.built++
	return []runtime.Provider{echoProvider{name: "wallet"}, echoProvider{name: "broken"}}
}

func (f *countingFactory) BuildActions(agentID string) map[string]runtime.Action {
	return map[string]runtime.Action{"buy": noopAction{name: "buy", calls: &f.calls}}
}

func TestManager_Get_LazilyConstructsOnce(t *testing.T) {
	factory := &countingFactory{}
	mgr := runtime.New(factory, 0)

	rt1 := mgr.Get("agent-1")
	rt2 := mgr.Get("agent-1")
	require.Same(t, rt1, rt2)
	require.Equal(t, 1, factory.built, "construction must be lazy and cached, not re-run on every Get")
}

func TestAgentRuntime_GatherContext_ToleratesProviderFailure(t *testing.T) {
	factory := &countingFactory{}
	mgr := runtime.New(factory, 0)
	rt := mgr.Get("agent-1")

	ctx := rt.GatherContext(context.Background())
	require.Equal(t, "wallet:agent-1", ctx["wallet"])
	require.Equal(t, "", ctx["broken"], "a failing provider yields empty context, not an aborted gather")
}

func TestAgentRuntime_Dispatch_UnknownActionFails(t *testing.T) {
	factory := &countingFactory{}
	mgr := runtime.New(factory, 0)
	rt := mgr.Get("agent-1")

	require.NoError(t, rt.Dispatch(context.Background(), "buy", nil))
	require.Equal(t, 1, factory.calls)
	require.Error(t, rt.Dispatch(context.Background(), "post", nil))
}

func TestManager_EvictsLRUUnderCapacityPressure(t *testing.T) {
	factory := &countingFactory{}
	mgr := runtime.New(factory, 2)

	mgr.Get("a")
	mgr.Get("b")
	mgr.Get("a") // refresh a's recency
	mgr.Get("c") // capacity 2: evicts b, the least-recently-used

	require.Equal(t, 2, mgr.Len())
	before := factory.built
	mgr.Get("b") // must be rebuilt: it was evicted
	require.Equal(t, before+1, factory.built)
}

func TestManager_ClearRuntime(t *testing.T) {
	factory := &countingFactory{}
	mgr := runtime.New(factory, 0)
	mgr.Get("a")
	require.Equal(t, 1, mgr.Len())
	mgr.ClearRuntime("a")
	require.Equal(t, 0, mgr.Len())
}
