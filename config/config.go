// Package config provides configuration loading and management for braid.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml values like "200ms" or "30s" decode
// directly. Bare integers are accepted as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	return fmt.Errorf("invalid duration value at line %d", value.Line)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the complete braid configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel    string            `yaml:"log_level"`
	LLM         LLMConfig         `yaml:"llm"`
	Store       StoreConfig       `yaml:"store"`
	Parallelism ParallelismConfig `yaml:"parallelism"`
	Memory      MemoryConfig      `yaml:"memory"`
	Retry       RetryConfig       `yaml:"retry"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// LLMConfig configures the text-generation backend.
type LLMConfig struct {
	// Provider selects the adapter: openai, anthropic, or ollama.
	Provider string `yaml:"provider"`
	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`
	// Model is the model identifier sent to the provider.
	Model string `yaml:"model"`
	// PlannerModel optionally overrides Model for plan generation.
	PlannerModel string `yaml:"planner_model"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	// Temperature controls sampling randomness; nil uses the provider default.
	Temperature *float64 `yaml:"temperature"`
	// MaxTokens caps the response length; 0 uses the provider default.
	MaxTokens int `yaml:"max_tokens"`
	// TimeoutSeconds bounds one HTTP exchange.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the per-request timeout.
func (l LLMConfig) Timeout() time.Duration {
	if l.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// EffectivePlannerModel returns the planner model, falling back to Model.
func (l LLMConfig) EffectivePlannerModel() string {
	if l.PlannerModel != "" {
		return l.PlannerModel
	}
	return l.Model
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of memory, nats, redis, sqlite.
	Backend string `yaml:"backend"`
	// NATSURL is the NATS server URL; NATS_URL is honored as a fallback.
	NATSURL string `yaml:"nats_url"`
	// RedisAddr is the Redis host:port.
	RedisAddr string `yaml:"redis_addr"`
	// SQLitePath is the SQLite database file path.
	SQLitePath string `yaml:"sqlite_path"`
}

// ParallelismConfig governs how the execution engine schedules batches.
type ParallelismConfig struct {
	// Enabled allows parallel execution at all.
	Enabled bool `yaml:"enabled"`
	// MaxThreads caps engine-wide in-flight tasks; 0 means NumCPU.
	MaxThreads int `yaml:"max_threads"`
	// MaxParallelTasksPerBatch caps concurrency within one batch; 0 means
	// MaxThreads.
	MaxParallelTasksPerBatch int `yaml:"max_parallel_tasks_per_batch"`
	// TaskTimeoutSeconds bounds a single task execution.
	TaskTimeoutSeconds int `yaml:"task_timeout_seconds"`
	// MinTasksForParallelExecution is the smallest plan worth parallelizing.
	MinTasksForParallelExecution int `yaml:"min_tasks_for_parallel_execution"`
	// ParallelismThreshold is the minimum parallelism ratio for the
	// parallel engine to be chosen.
	ParallelismThreshold float64 `yaml:"parallelism_threshold"`
	// FallbackToSequentialEnabled reruns a failed parallel run sequentially.
	FallbackToSequentialEnabled bool `yaml:"fallback_to_sequential_enabled"`
}

// EffectiveMaxThreads resolves the engine-wide concurrency cap.
func (p ParallelismConfig) EffectiveMaxThreads() int {
	if p.MaxThreads > 0 {
		return p.MaxThreads
	}
	return runtime.NumCPU()
}

// EffectiveBatchLimit resolves the per-batch concurrency cap, never above
// the engine-wide cap.
func (p ParallelismConfig) EffectiveBatchLimit() int {
	threads := p.EffectiveMaxThreads()
	limit := p.MaxParallelTasksPerBatch
	if limit <= 0 || limit > threads {
		return threads
	}
	return limit
}

// TaskTimeout returns the per-task execution deadline.
func (p ParallelismConfig) TaskTimeout() time.Duration {
	if p.TaskTimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(p.TaskTimeoutSeconds) * time.Second
}

// MemoryConfig configures agent memory behavior.
type MemoryConfig struct {
	// DefaultMemoryLimit is how many recent entries agents fold into
	// their prompts.
	DefaultMemoryLimit int `yaml:"default_memory_limit"`
}

// RetryConfig configures the exponential backoff applied to LLM calls.
type RetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
	Multiplier   float64  `yaml:"multiplier"`
	JitterFactor float64  `yaml:"jitter_factor"`
	MaxDuration  Duration `yaml:"max_duration"`
}

// MetricsConfig configures metrics exposure.
type MetricsConfig struct {
	// ListenAddr enables the Prometheus endpoint when non-empty, e.g. ":9090".
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a Config with the standard defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LLM: LLMConfig{
			Provider:       "openai",
			TimeoutSeconds: 120,
		},
		Store: StoreConfig{
			Backend:    "memory",
			SQLitePath: "braid.db",
		},
		Parallelism: ParallelismConfig{
			Enabled:                      true,
			MaxThreads:                   0,
			MaxParallelTasksPerBatch:     0,
			TaskTimeoutSeconds:           300,
			MinTasksForParallelExecution: 2,
			ParallelismThreshold:         0.3,
			FallbackToSequentialEnabled:  true,
		},
		Memory: MemoryConfig{
			DefaultMemoryLimit: 10,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: Duration(200 * time.Millisecond),
			MaxDelay:     Duration(30 * time.Second),
			Multiplier:   2.0,
			JitterFactor: 0.1,
			MaxDuration:  Duration(10 * time.Minute),
		},
		Metrics: MetricsConfig{},
	}
}

// Value sets accepted by Validate.
var (
	knownLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	knownBackends  = map[string]bool{"memory": true, "nats": true, "redis": true, "sqlite": true}
	knownProviders = map[string]bool{"openai": true, "anthropic": true, "ollama": true}
)

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if !knownLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	if !knownProviders[c.LLM.Provider] {
		return fmt.Errorf("llm.provider must be openai, anthropic, or ollama, got %q", c.LLM.Provider)
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %g", *t)
	}
	if !knownBackends[c.Store.Backend] {
		return fmt.Errorf("store.backend must be memory, nats, redis, or sqlite, got %q", c.Store.Backend)
	}
	if th := c.Parallelism.ParallelismThreshold; th < 0 || th >= 1 {
		return fmt.Errorf("parallelism.parallelism_threshold must be in [0,1), got %g", th)
	}
	if c.Memory.DefaultMemoryLimit < 0 {
		return fmt.Errorf("memory.default_memory_limit must not be negative, got %d", c.Memory.DefaultMemoryLimit)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier <= 1.0 {
		return fmt.Errorf("retry.multiplier must exceed 1.0, got %g", c.Retry.Multiplier)
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay %s is below retry.initial_delay %s",
			c.Retry.MaxDelay.Std(), c.Retry.InitialDelay.Std())
	}
	if j := c.Retry.JitterFactor; j < 0 || j > 1 {
		return fmt.Errorf("retry.jitter_factor must be in [0,1], got %g", j)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. Values decode over the
// defaults, so an absent key keeps its default and an explicit zero wins.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return config, nil
}

// SaveToFile writes the configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Merge overlays other's non-zero fields onto c. Booleans keep c's value,
// so Merge suits flag-style overrides; file loading decodes over defaults
// instead and can set explicit zeros.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}

	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.BaseURL != "" {
		c.LLM.BaseURL = other.LLM.BaseURL
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.PlannerModel != "" {
		c.LLM.PlannerModel = other.LLM.PlannerModel
	}
	if other.LLM.APIKeyEnv != "" {
		c.LLM.APIKeyEnv = other.LLM.APIKeyEnv
	}
	if other.LLM.Temperature != nil {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.TimeoutSeconds != 0 {
		c.LLM.TimeoutSeconds = other.LLM.TimeoutSeconds
	}

	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.NATSURL != "" {
		c.Store.NATSURL = other.Store.NATSURL
	}
	if other.Store.RedisAddr != "" {
		c.Store.RedisAddr = other.Store.RedisAddr
	}
	if other.Store.SQLitePath != "" {
		c.Store.SQLitePath = other.Store.SQLitePath
	}

	if other.Parallelism.MaxThreads != 0 {
		c.Parallelism.MaxThreads = other.Parallelism.MaxThreads
	}
	if other.Parallelism.MaxParallelTasksPerBatch != 0 {
		c.Parallelism.MaxParallelTasksPerBatch = other.Parallelism.MaxParallelTasksPerBatch
	}
	if other.Parallelism.TaskTimeoutSeconds != 0 {
		c.Parallelism.TaskTimeoutSeconds = other.Parallelism.TaskTimeoutSeconds
	}
	if other.Parallelism.MinTasksForParallelExecution != 0 {
		c.Parallelism.MinTasksForParallelExecution = other.Parallelism.MinTasksForParallelExecution
	}
	if other.Parallelism.ParallelismThreshold != 0 {
		c.Parallelism.ParallelismThreshold = other.Parallelism.ParallelismThreshold
	}

	if other.Memory.DefaultMemoryLimit != 0 {
		c.Memory.DefaultMemoryLimit = other.Memory.DefaultMemoryLimit
	}

	if other.Retry.MaxAttempts != 0 {
		c.Retry.MaxAttempts = other.Retry.MaxAttempts
	}
	if other.Retry.InitialDelay != 0 {
		c.Retry.InitialDelay = other.Retry.InitialDelay
	}
	if other.Retry.MaxDelay != 0 {
		c.Retry.MaxDelay = other.Retry.MaxDelay
	}
	if other.Retry.Multiplier != 0 {
		c.Retry.Multiplier = other.Retry.Multiplier
	}
	if other.Retry.JitterFactor != 0 {
		c.Retry.JitterFactor = other.Retry.JitterFactor
	}
	if other.Retry.MaxDuration != 0 {
		c.Retry.MaxDuration = other.Retry.MaxDuration
	}

	if other.Metrics.ListenAddr != "" {
		c.Metrics.ListenAddr = other.Metrics.ListenAddr
	}
}
