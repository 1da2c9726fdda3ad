package llm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"simengine/pkg/llm"
)

type sampleDecision struct {
	Action     string  `json:"action"`
	Amount     float64 `json:"amount"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

type sampleBatch struct {
	Decisions []sampleDecision `json:"decisions"`
}

func TestGenerateSchema_NestedStructWithRequired(t *testing.T) {
	schema, err := llm.GenerateSchema(&sampleBatch{})
	require.NoError(t, err)
	require.Equal(t, "object", schema["type"])
	require.Equal(t, []string{"decisions"}, schema["required"])

	props := schema["properties"].(map[string]interface{})
	decisions := props["decisions"].(map[string]interface{})
	require.Equal(t, "array", decisions["type"])

	item := decisions["items"].(map[string]interface{})
	itemProps := item["properties"].(map[string]interface{})
	require.Equal(t, map[string]interface{}{"type": "number"}, itemProps["amount"])
	require.NotContains(t, item["required"], "reason", "omitempty fields are optional")
	require.Contains(t, item["required"], "action")
}

func TestGenerateSchema_RejectsNonStruct(t *testing.T) {
	_, err := llm.GenerateSchema("not a struct")
	require.Error(t, err)
	_, err = llm.GenerateSchema(nil)
	require.Error(t, err)
}
