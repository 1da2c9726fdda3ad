// Package config loads the engine's single top-level configuration file:
// a go-zero rest.RestConf (the A2A gateway's HTTP listen address) plus the
// tick, NPC, coordinator, and rate-limit knobs, and an optional LLM
// sub-config hydrated from its own file via pkg/confkit.Section. Every
// field is overridable through environment variables (conf.UseEnv). When
// PostgresDSN is empty the engine runs on its in-memory stores.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/rest"

	"simengine/pkg/confkit"
	"simengine/pkg/llm"
)

// Config is the engine's single top-level configuration.
type Config struct {
	rest.RestConf // Host/Port/Timeout for the A2A gateway's HTTP(S) listener

	// Env indicates the running environment: test | dev | prod. Defaults
	// to test.
	Env string `json:",default=test"`

	LLM confkit.Section[llm.Config] `json:",optional"`

	// TickIntervalMs / TickHardTimeoutMs govern the tick scheduler.
	// HardTimeout defaults to 3x Interval when unset.
	TickIntervalMs    int64 `json:",default=60000"`
	TickHardTimeoutMs int64 `json:",optional"`

	// MaxConcurrentLLM bounds pkg/llmsem's global semaphore,
	// shared by the NPC Decision Engine and the Autonomous Coordinator.
	MaxConcurrentLLM int `json:",default=8"`
	// NTradesPerNPC caps decisions kept per NPC per tick.
	NTradesPerNPC int `json:",default=3"`

	// DefaultLiquidityB is the LMSR liquidity parameter b for newly
	// created prediction markets.
	DefaultLiquidityB float64 `json:",default=100"`
	// MaintenanceMargin is the perpetual futures maintenance margin
	// fraction; pkg/pricing.DefaultMaintenanceMargin
	// (0.005) is used when this is zero.
	MaintenanceMargin float64 `json:",optional"`
	// SyntheticSupply is the pool spot-price denominator.
	SyntheticSupply float64 `json:",default=10000"`

	// AgentTickCostFree/_Pro are the AGENT_TICK_COST_FREE/_PRO knobs
	// billed once per autonomous tick.
	AgentTickCostFree float64 `json:",default=1"`
	AgentTickCostPro  float64 `json:",default=5"`

	// ProviderTimeoutMs/LLMTimeoutMs/OracleTimeoutMs bound the respective
	// per-call suspension points.
	ProviderTimeoutMs int64 `json:",default=2000"`
	LLMTimeoutMs      int64 `json:",default=10000"`
	OracleTimeoutMs   int64 `json:",default=15000"`

	// RateLimitRPM/RateLimitBurst govern the A2A gateway's per-caller
	// windowed request counter (burst is a floor on the per-window limit).
	RateLimitRPM   int `json:",default=60"`
	RateLimitBurst int `json:",default=10"`

	// TrajectoryMinAgentsPerWindow gates a window's training-readiness;
	// pkg/trajectory.DefaultMinAgentsPerWindow (3) is used when this is
	// zero.
	TrajectoryMinAgentsPerWindow int `json:",optional"`

	// TickJournalDir, when set, mirrors every tick summary into flat JSON
	// files under this directory (pkg/journal), resolved relative to the
	// config file's directory when not absolute.
	TickJournalDir string `json:",optional"`

	// PostgresDSN, when set, switches pkg/marketstore and pkg/ledger from
	// their in-memory stores to sqlx.SqlConn-backed ones registered under
	// the "pgx" driver name. Left empty in the test/dev default config.
	PostgresDSN string `json:",optional"`

	mainPath string
	baseDir  string
}

const defaultConfigRelativePath = "etc/enginectl.yaml"

var configFileFlag = flag.String("f", defaultConfigRelativePath, "the config file")

func init() {
	confkit.LoadDotenvOnce()
}

// ConfigFile resolves the -f flag (or its default) against the current
// working directory and the executable's directory, walking upward until
// it finds the file, so `go test ./...` and a built binary both find
// etc/enginectl.yaml.
func ConfigFile() string {
	candidate := defaultConfigRelativePath
	if configFileFlag != nil {
		if trimmed := strings.TrimSpace(*configFileFlag); trimmed != "" {
			candidate = trimmed
		}
	}
	if resolved, ok := resolveConfigPath(candidate); ok {
		return resolved
	}
	return candidate
}

func resolveConfigPath(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if filepath.IsAbs(path) {
		if fileExists(path) {
			return path, true
		}
		return "", false
	}

	startDirs := make([]string, 0, 2)
	if cwd, err := os.Getwd(); err == nil {
		startDirs = append(startDirs, cwd)
	}
	if exePath, err := os.Executable(); err == nil {
		startDirs = append(startDirs, filepath.Dir(exePath))
	}

	seen := make(map[string]struct{}, len(startDirs))
	for _, dir := range startDirs {
		dir = filepath.Clean(dir)
		if dir == "" {
			continue
		}
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		if resolved, ok := searchUpwards(dir, path); ok {
			return resolved, true
		}
	}
	return "", false
}

func searchUpwards(start, rel string) (string, bool) {
	dir := filepath.Clean(start)
	for {
		candidate := filepath.Join(dir, rel)
		if fileExists(candidate) {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// MustLoad loads the resolved config file or panics.
func MustLoad() *Config {
	cfg, err := Load(ConfigFile())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads and validates the config at path, hydrating its LLM
// sub-section relative to path's directory.
func Load(path string) (*Config, error) {
	confkit.LoadDotenvOnce()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	var cfg Config
	if err := conf.Load(absPath, &cfg, conf.UseEnv()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", absPath, err)
	}

	cfg.mainPath = absPath
	cfg.baseDir = filepath.Dir(absPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LLM.Hydrate(cfg.baseDir, llm.LoadConfig); err != nil {
		return nil, fmt.Errorf("load llm config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "", "test", "dev", "prod":
		if strings.TrimSpace(c.Env) == "" {
			c.Env = "test"
		}
	default:
		return errors.New("config: env must be one of test|dev|prod")
	}
	if c.TickIntervalMs <= 0 {
		return errors.New("config: tickIntervalMs must be positive")
	}
	if c.MaxConcurrentLLM <= 0 {
		return errors.New("config: maxConcurrentLLM must be positive")
	}
	return nil
}

func (c *Config) IsTestEnv() bool { return c.Env == "test" || c.Env == "" }

func (c *Config) MainPath() string { return c.mainPath }
func (c *Config) BaseDir() string  { return c.baseDir }

// TickInterval and TickHardTimeout convert the millisecond knobs to
// time.Duration for pkg/tick.Config.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c *Config) TickHardTimeout() time.Duration {
	if c.TickHardTimeoutMs <= 0 {
		return 0 // pkg/tick.New defaults this to 3x interval
	}
	return time.Duration(c.TickHardTimeoutMs) * time.Millisecond
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutMs) * time.Millisecond
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutMs) * time.Millisecond
}

func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutMs) * time.Millisecond
}
