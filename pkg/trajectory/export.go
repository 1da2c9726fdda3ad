package trajectory

import (
	"context"
	"sort"

	"simengine/pkg/llm"
)

// ExportTuple is the offline-training unit: a
// serialized conversation, its scalar reward, and metadata.
type ExportTuple struct {
	TrajectoryID string
	Messages     []llm.Message
	Reward       float64
	Metadata     map[string]any
}

// ExportWindow converts every training-ready trajectory in windowID into an
// ExportTuple, sorted by trajectory id for a deterministic stream. Exporting
// the same window twice produces byte-identical output: the
// window's trajectories don't change once the window closes, so this
// re-derives rather than caches. Exported is still stamped on each
// trajectory, but only as a bookkeeping marker for callers that stream a
// window still being appended to (e.g. an incremental exporter resuming
// after a crash dedupes by trajectory id there) — it is never used here to
// hide a trajectory from a full re-export of its own window.
func ExportWindow(ctx context.Context, store Store, windowID string) ([]ExportTuple, error) {
	trajectories, err := store.ListByWindow(ctx, windowID)
	if err != nil {
		return nil, err
	}
	sort.Slice(trajectories, func(i, j int) bool { return trajectories[i].ID < trajectories[j].ID })

	var out []ExportTuple
	for _, t := range trajectories {
		if !t.TrainingReady {
			continue
		}
		out = append(out, toTuple(t))
		if !t.Exported {
			t.Exported = true
			if err := store.Save(ctx, t); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func toTuple(t Trajectory) ExportTuple {
	var messages []llm.Message
	for _, step := range t.Steps {
		for _, call := range step.LLMCalls {
			if call.SystemPrompt != "" {
				messages = append(messages, llm.Message{Role: "system", Content: call.SystemPrompt})
			}
			if call.UserPrompt != "" {
				messages = append(messages, llm.Message{Role: "user", Content: call.UserPrompt})
			}
			if call.Response != "" {
				messages = append(messages, llm.Message{Role: "assistant", Content: call.Response})
			}
		}
	}
	return ExportTuple{
		TrajectoryID: t.ID,
		Messages:     messages,
		Reward:       t.TotalReward,
		Metadata: map[string]any{
			"agent_id":       t.AgentID,
			"window_id":      t.WindowID,
			"scenario_id":    t.ScenarioID,
			"episode_length": t.EpisodeLength,
			"final_status":   t.FinalStatus,
		},
	}
}
