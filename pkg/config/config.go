// Package config provides configuration loading, validation, and model/provider lookup for chatmem.
//
// A Config is read once from a YAML file, completed with defaults, overridden from the environment
// and validated. AgentConfig is the immutable per-session snapshot handed to the agent; the agent
// replaces it wholesale and never mutates it in place.
//
//	cfg, err := config.Load("chatmem.yaml")
//	if err != nil { ... }
//	agentCfg := cfg.Agent
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chatmemory/pkg/agent/llmerrors"
	"chatmemory/pkg/logx"
)

// Environment overrides applied after the config file.
const (
	EnvConfigPath      = "CHATMEM_CONFIG"
	EnvModel           = "CHATMEM_MODEL"
	EnvProvider        = "CHATMEM_PROVIDER"
	EnvStrategy        = "CHATMEM_STRATEGY"
	EnvStorageBackend  = "CHATMEM_STORAGE"
	EnvDataDir         = "CHATMEM_DATA_DIR"
	EnvSession         = "CHATMEM_SESSION"
	EnvMetricsAddr     = "CHATMEM_METRICS_ADDR"
	EnvPrometheusURL   = "CHATMEM_PROMETHEUS_URL"
	EnvSecretsPassword = "CHATMEM_SECRETS_PASSWORD"
)

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "chatmem.yaml"

// Strategy kinds. These mirror contextmgr's names so the config layer stays dependency free.
const (
	StrategySlidingWindow      = "sliding_window"
	StrategyPreserveSystem     = "preserve_system"
	StrategySummaryCompression = "summary_compression"
	StrategyStickyFacts        = "sticky_facts"
	StrategyBranching          = "branching"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Token estimators.
const (
	EstimatorHeuristic = "heuristic"
	EstimatorTiktoken  = "tiktoken"
)

// Temperature bounds accepted by every provider.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// AgentConfig is the per-session agent configuration. Treat values as immutable: build a new one
// and hand it to the agent instead of mutating a shared instance.
type AgentConfig struct {
	Temperature        *float64 `yaml:"temperature,omitempty"`
	MaxTokens          *int     `yaml:"max_tokens,omitempty"`
	MaxHistoryMessages *int     `yaml:"max_history_messages,omitempty"`
	MaxContextTokens   *int     `yaml:"max_context_tokens,omitempty"`
	Model              string   `yaml:"model"`
	SystemPrompt       string   `yaml:"system_prompt,omitempty"`
	StopSequences      []string `yaml:"stop_sequences,omitempty"`
	KeepHistory        bool     `yaml:"keep_history"`
}

// Validate checks the snapshot. Failures are ErrorTypeValidation errors.
func (c *AgentConfig) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return llmerrors.Validation("model must not be blank")
	}
	if c.Temperature != nil && !(*c.Temperature >= MinTemperature && *c.Temperature <= MaxTemperature) {
		return llmerrors.Validation("temperature %.2f out of range [%.1f, %.1f]", *c.Temperature, MinTemperature, MaxTemperature)
	}
	if c.MaxTokens != nil && *c.MaxTokens <= 0 {
		return llmerrors.Validation("max tokens must be positive, got %d", *c.MaxTokens)
	}
	if c.MaxHistoryMessages != nil && *c.MaxHistoryMessages < 0 {
		return llmerrors.Validation("max history messages must not be negative, got %d", *c.MaxHistoryMessages)
	}
	if c.MaxContextTokens != nil && *c.MaxContextTokens < 0 {
		return llmerrors.Validation("max context tokens must not be negative, got %d", *c.MaxContextTokens)
	}
	return nil
}

// Clone returns a deep copy.
func (c *AgentConfig) Clone() AgentConfig {
	out := *c
	if c.Temperature != nil {
		v := *c.Temperature
		out.Temperature = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		out.MaxTokens = &v
	}
	if c.MaxHistoryMessages != nil {
		v := *c.MaxHistoryMessages
		out.MaxHistoryMessages = &v
	}
	if c.MaxContextTokens != nil {
		v := *c.MaxContextTokens
		out.MaxContextTokens = &v
	}
	if c.StopSequences != nil {
		out.StopSequences = append([]string(nil), c.StopSequences...)
	}
	return out
}

// ProviderConfig selects and tunes the model API client.
type ProviderConfig struct {
	Name           string        `yaml:"name,omitempty"`     // empty: inferred from the model
	BaseURL        string        `yaml:"base_url,omitempty"` // overrides the SDK default endpoint
	RequestTimeout time.Duration `yaml:"request_timeout"`    // bounds a whole streamed response; 0 disables
}

// StrategyConfig selects the truncation strategy and its parameters.
type StrategyConfig struct {
	Kind             string `yaml:"kind"`
	Estimator        string `yaml:"estimator"`
	WindowSize       int    `yaml:"window_size"`
	KeepRecent       int    `yaml:"keep_recent"`
	SummaryBlockSize int    `yaml:"summary_block_size"`
}

// StorageConfig selects where summaries, facts and branches are persisted.
type StorageConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path,omitempty"` // default: <dir>/chatmem.db
}

// MetricsConfig controls Prometheus instrumentation.
type MetricsConfig struct {
	ListenAddr    string `yaml:"listen_addr,omitempty"`    // serve /metrics when set
	PrometheusURL string `yaml:"prometheus_url,omitempty"` // query server for /usage when set
	Enabled       bool   `yaml:"enabled"`
}

// Config is the complete chatmem configuration.
type Config struct {
	Session  string         `yaml:"session"`
	Agent    AgentConfig    `yaml:"agent"`
	Provider ProviderConfig `yaml:"provider"`
	Strategy StrategyConfig `yaml:"strategy"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Default returns a config with every default applied.
func Default() Config {
	temperature := 0.7
	maxTokens := 2048
	maxHistory := 50
	return Config{
		Session: "default",
		Agent: AgentConfig{
			Model:              ModelClaudeSonnetLatest,
			Temperature:        &temperature,
			MaxTokens:          &maxTokens,
			MaxHistoryMessages: &maxHistory,
			KeepHistory:        true,
		},
		Provider: ProviderConfig{
			RequestTimeout: 2 * time.Minute,
		},
		Strategy: StrategyConfig{
			Kind:             StrategySlidingWindow,
			Estimator:        EstimatorHeuristic,
			WindowSize:       20,
			KeepRecent:       10,
			SummaryBlockSize: 10,
		},
		Storage: StorageConfig{
			Backend: StorageFile,
			Dir:     ".chatmem",
		},
	}
}

// Load reads path (or CHATMEM_CONFIG, or ./chatmem.yaml when present), applies defaults and
// environment overrides, and validates the result. A missing default file is not an error.
func Load(path string) (*Config, error) {
	explicit := true
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultConfigFile
		explicit = false
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		logx.NewLogger("config").Debug("no %s found, using defaults", path)
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return finish(&cfg)
}

// Parse builds a config from YAML bytes, with defaults and environment overrides applied.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{EnvModel, &cfg.Agent.Model},
		{EnvProvider, &cfg.Provider.Name},
		{EnvStrategy, &cfg.Strategy.Kind},
		{EnvStorageBackend, &cfg.Storage.Backend},
		{EnvDataDir, &cfg.Storage.Dir},
		{EnvSession, &cfg.Session},
		{EnvMetricsAddr, &cfg.Metrics.ListenAddr},
		{EnvPrometheusURL, &cfg.Metrics.PrometheusURL},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.target = v
		}
	}
	if cfg.Metrics.ListenAddr != "" {
		cfg.Metrics.Enabled = true
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	if cfg.Provider.Name == "" {
		if provider, err := GetModelProvider(cfg.Agent.Model); err == nil {
			cfg.Provider.Name = provider
		}
	}
	if cfg.Strategy.Estimator == "" {
		cfg.Strategy.Estimator = EstimatorHeuristic
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageFile
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = ".chatmem"
	}
	if cfg.Storage.Backend == StorageSQLite && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.Dir, "chatmem.db")
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if !IsValidProvider(c.Provider.Name) {
		return llmerrors.Configuration("provider %q is not supported (model %q)", c.Provider.Name, c.Agent.Model)
	}
	if c.Provider.RequestTimeout < 0 {
		return llmerrors.Configuration("provider request_timeout must not be negative")
	}

	switch c.Strategy.Kind {
	case StrategySlidingWindow:
		if c.Strategy.WindowSize <= 0 {
			return llmerrors.Configuration("strategy window_size must be positive")
		}
	case StrategySummaryCompression:
		if c.Strategy.KeepRecent <= 0 || c.Strategy.SummaryBlockSize <= 0 {
			return llmerrors.Configuration("strategy keep_recent and summary_block_size must be positive")
		}
	case StrategyStickyFacts:
		if c.Strategy.KeepRecent <= 0 {
			return llmerrors.Configuration("strategy keep_recent must be positive")
		}
	case StrategyPreserveSystem, StrategyBranching:
	default:
		return llmerrors.Configuration("unknown strategy %q", c.Strategy.Kind)
	}

	switch c.Strategy.Estimator {
	case EstimatorHeuristic, EstimatorTiktoken:
	default:
		return llmerrors.Configuration("unknown estimator %q", c.Strategy.Estimator)
	}

	switch c.Storage.Backend {
	case StorageMemory, StorageFile, StorageSQLite:
	default:
		return llmerrors.Configuration("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// Save writes the config as YAML with 0600 permissions.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Float64 returns a pointer to v, for optional config fields.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional config fields.
func Int(v int) *int { return &v }

// FormatOptionalInt renders an optional limit for display.
func FormatOptionalInt(v *int) string {
	if v == nil {
		return "none"
	}
	return strconv.Itoa(*v)
}
