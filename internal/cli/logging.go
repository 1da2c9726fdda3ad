// Package cli holds small operator-facing helpers shared by
// cmd/enginectl: a human-readable config summary printed at startup,
package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"simengine/internal/config"
)

// ConfigSummaryLines returns human readable lines describing the loaded
// engine config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	llmStatus := "not configured"
	if cfg.LLM.Value != nil {
		llmStatus = fmt.Sprintf("model=%s", cfg.LLM.Value.DefaultModel)
	} else if strings.TrimSpace(cfg.LLM.File) != "" {
		llmStatus = cfg.LLM.File
	}

	return []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("A2A listener: %s:%d", cfg.Host, cfg.Port),
		fmt.Sprintf("Tick interval / hard timeout: %s / %s", cfg.TickInterval(), effectiveHardTimeout(cfg)),
		fmt.Sprintf("Max concurrent LLM calls: %d", cfg.MaxConcurrentLLM),
		fmt.Sprintf("N trades per NPC: %d", cfg.NTradesPerNPC),
		fmt.Sprintf("Default liquidity b: %.2f", cfg.DefaultLiquidityB),
		fmt.Sprintf("Maintenance margin: %s", marginOrDefault(cfg.MaintenanceMargin)),
		fmt.Sprintf("Synthetic supply: %.2f", cfg.SyntheticSupply),
		fmt.Sprintf("Agent tick cost (free/pro): %.2f / %.2f", cfg.AgentTickCostFree, cfg.AgentTickCostPro),
		fmt.Sprintf("Rate limit (rpm/burst): %d / %d", cfg.RateLimitRPM, cfg.RateLimitBurst),
		fmt.Sprintf("LLM: %s", llmStatus),
		fmt.Sprintf("Persistence: %s", persistenceStatus(cfg)),
	}
}

func effectiveHardTimeout(cfg *config.Config) string {
	if d := cfg.TickHardTimeout(); d > 0 {
		return d.String()
	}
	return fmt.Sprintf("%s (3x interval)", 3*cfg.TickInterval())
}

func persistenceStatus(cfg *config.Config) string {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return "in-memory"
	}
	return "postgres"
}

func marginOrDefault(m float64) string {
	if m <= 0 {
		return "0.005 (default)"
	}
	return fmt.Sprintf("%.4f", m)
}

// LogConfigSummary emits the configuration summary using logx, the same
// structured logger the rest of the engine uses.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config - %s", line)
	}
}
