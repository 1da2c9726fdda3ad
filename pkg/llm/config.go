package llm

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL    = "https://zenmux.ai/api/v1"
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3

	envAPIKey       = "LLM_API_KEY"
	envBaseURL      = "LLM_BASE_URL"
	envDefaultModel = "LLM_DEFAULT_MODEL"
)

// Config holds the LLM client's connection settings, loaded from its own
// YAML file referenced by the main config's LLM section.
type Config struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	// Timeout is parsed from the YAML "timeout" duration string.
	Timeout    time.Duration `yaml:"-"`
	MaxRetries int           `yaml:"max_retries"`
	// RequestsPerSecond paces outbound calls client-side; zero disables
	// pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// LoadConfig reads and validates the YAML config at path. Values may use
// ${VAR} placeholders; LLM_API_KEY, LLM_BASE_URL, and LLM_DEFAULT_MODEL
// override their fields outright when set.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read llm config: %w", err)
	}

	var raw struct {
		BaseURL           string  `yaml:"base_url"`
		APIKey            string  `yaml:"api_key"`
		DefaultModel      string  `yaml:"default_model"`
		Timeout           string  `yaml:"timeout"`
		MaxRetries        int     `yaml:"max_retries"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal llm config: %w", err)
	}

	cfg := &Config{
		BaseURL:           envOr(envBaseURL, raw.BaseURL),
		APIKey:            envOr(envAPIKey, raw.APIKey),
		DefaultModel:      envOr(envDefaultModel, raw.DefaultModel),
		MaxRetries:        raw.MaxRetries,
		RequestsPerSecond: raw.RequestsPerSecond,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	cfg.Timeout = defaultTimeout
	if t := strings.TrimSpace(os.ExpandEnv(raw.Timeout)); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("llm config: invalid timeout %q: %w", t, err)
		}
		cfg.Timeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the required connection settings are present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("llm config: api_key is required")
	}
	if strings.TrimSpace(c.DefaultModel) == "" {
		return errors.New("llm config: default_model is required")
	}
	if c.Timeout <= 0 {
		return errors.New("llm config: timeout must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return os.ExpandEnv(fallback)
}
