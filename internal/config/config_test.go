package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"simengine/internal/config"
)

const mainYAML = `
Name: enginectl
Host: 0.0.0.0
Port: 8080
Env: dev
TickIntervalMs: 30000
MaxConcurrentLLM: 4
LLM:
  File: llm.yaml
`

const llmYAML = `
base_url: ${TEST_LLM_BASE_URL}
api_key: ${TEST_LLM_API_KEY}
default_model: ${TEST_LLM_MODEL}
timeout: 2s
`

func TestLoad_HydratesLLMSectionWithEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "enginectl.yaml")
	require.NoError(t, os.WriteFile(mainPath, []byte(mainYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm.yaml"), []byte(llmYAML), 0o600))

	t.Setenv("TEST_LLM_BASE_URL", "https://llm.example/api")
	t.Setenv("TEST_LLM_API_KEY", "test-key")
	t.Setenv("TEST_LLM_MODEL", "gpt-x")

	cfg, err := config.Load(mainPath)
	require.NoError(t, err)
	require.Equal(t, "dev", cfg.Env)
	require.EqualValues(t, 30000, cfg.TickIntervalMs)
	require.NotNil(t, cfg.LLM.Value)
	require.Equal(t, "https://llm.example/api", cfg.LLM.Value.BaseURL)
	require.Equal(t, "test-key", cfg.LLM.Value.APIKey)
}

func TestValidate_RejectsUnknownEnv(t *testing.T) {
	cfg := &config.Config{Env: "staging", TickIntervalMs: 1000, MaxConcurrentLLM: 1}
	require.Error(t, cfg.Validate())
}

func TestValidate_DefaultsEmptyEnvToTest(t *testing.T) {
	cfg := &config.Config{TickIntervalMs: 1000, MaxConcurrentLLM: 1}
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.IsTestEnv())
}

func TestTickHardTimeout_ZeroWhenUnset(t *testing.T) {
	cfg := &config.Config{TickIntervalMs: 1000}
	require.Zero(t, cfg.TickHardTimeout())
}
