// Package config holds all remedy configuration. Settings load from a YAML
// file with environment variables layered on top, and every section has
// working defaults so a missing file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all remedy configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Corpus       CorpusConfig       `yaml:"corpus"`
	Ranker       RankerConfig       `yaml:"ranker"`
	Adapter      AdapterConfig      `yaml:"adapter"`
	Runner       RunnerConfig       `yaml:"runner"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Agent        AgentConfig        `yaml:"agent"`
	LLM          LLMConfig          `yaml:"llm"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// CorpusConfig locates the defect corpus and its patch bodies.
type CorpusConfig struct {
	IndexPath string `yaml:"index_path"`
	// PatchStore is a directory of patch files or a sqlite database.
	PatchStore string `yaml:"patch_store"`
	PrefixLen  int    `yaml:"prefix_len"`
}

// RankerConfig tunes candidate ranking.
type RankerConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// AdapterConfig tunes patch adaptation.
type AdapterConfig struct {
	// FuzzTolerance is the minimum similarity a drifted context line may
	// keep, 0..1.
	FuzzTolerance float64 `yaml:"fuzz_tolerance"`
}

// RunnerConfig tunes test execution.
type RunnerConfig struct {
	BatteryPath    string `yaml:"battery_path"`
	DefaultTimeout string `yaml:"default_timeout"`
}

// OrchestratorConfig bounds a repair run.
type OrchestratorConfig struct {
	// Budget is the wall-clock ceiling for a whole run.
	Budget string `yaml:"budget"`
	// MaxCandidatesPerCase bounds how many ranked patches one failing
	// case may try.
	MaxCandidatesPerCase int `yaml:"max_candidates_per_case"`
	// Environment adds entries stamped onto every failure record, for
	// example dep:django: "4.2".
	Environment map[string]string `yaml:"environment"`
}

// AgentConfig tunes the unguided repair agent.
type AgentConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxPromptFailures bounds how many failure records one prompt
	// carries.
	MaxPromptFailures int `yaml:"max_prompt_failures"`
}

// LLMConfig configures the completion backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, text
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "remedy",
		Version: "0.3.0",

		Corpus: CorpusConfig{
			IndexPath:  ".remedy/corpus/index.json",
			PatchStore: ".remedy/corpus/patches",
			PrefixLen:  40,
		},
		Ranker: RankerConfig{
			TopK: 5,
		},
		Adapter: AdapterConfig{
			FuzzTolerance: 0.75,
		},
		Runner: RunnerConfig{
			BatteryPath:    ".remedy/battery.yaml",
			DefaultTimeout: "30s",
		},
		Orchestrator: OrchestratorConfig{
			Budget:               "15m",
			MaxCandidatesPerCase: 3,
		},
		Agent: AgentConfig{
			Enabled:           true,
			MaxPromptFailures: 5,
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "120s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides layers REMEDY_* variables and provider keys over the
// loaded values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("REMEDY_CORPUS_INDEX"); v != "" {
		c.Corpus.IndexPath = v
	}
	if v := os.Getenv("REMEDY_PATCH_STORE"); v != "" {
		c.Corpus.PatchStore = v
	}
	if v := os.Getenv("REMEDY_BATTERY"); v != "" {
		c.Runner.BatteryPath = v
	}
	if v := os.Getenv("REMEDY_BUDGET"); v != "" {
		c.Orchestrator.Budget = v
	}
	if v := os.Getenv("REMEDY_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ranker.TopK = n
		}
	}
	if v := os.Getenv("REMEDY_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("REMEDY_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("REMEDY_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = key
	}
}

// GetBudget parses the run budget. Unparseable values fall back to the
// default.
func (c *Config) GetBudget() time.Duration {
	if d, err := time.ParseDuration(c.Orchestrator.Budget); err == nil && d > 0 {
		return d
	}
	return 15 * time.Minute
}

// GetRunnerTimeout parses the per-case default timeout.
func (c *Config) GetRunnerTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Runner.DefaultTimeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// GetLLMTimeout parses the completion timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	if d, err := time.ParseDuration(c.LLM.Timeout); err == nil && d > 0 {
		return d
	}
	return 120 * time.Second
}

// Validate checks settings that have no sane fallback.
func (c *Config) Validate() error {
	if c.Corpus.IndexPath == "" {
		return fmt.Errorf("corpus.index_path is required")
	}
	if c.Corpus.PatchStore == "" {
		return fmt.Errorf("corpus.patch_store is required")
	}
	if c.Adapter.FuzzTolerance < 0 || c.Adapter.FuzzTolerance > 1 {
		return fmt.Errorf("adapter.fuzz_tolerance must be within [0,1]")
	}
	if c.Ranker.TopK < 0 {
		return fmt.Errorf("ranker.top_k must not be negative")
	}
	if c.Orchestrator.MaxCandidatesPerCase < 0 {
		return fmt.Errorf("orchestrator.max_candidates_per_case must not be negative")
	}
	if _, err := time.ParseDuration(c.Orchestrator.Budget); err != nil {
		return fmt.Errorf("orchestrator.budget: %w", err)
	}
	return nil
}
