package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// ProjectConfigFile is the name of the project-level config file, searched
// for in the current directory and its parents.
const ProjectConfigFile = "braid.yaml"

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
//  1. Defaults.
//  2. YAML file: path when given, otherwise braid.yaml found in the
//     current or a parent directory. An explicit path must exist.
//  3. BRAID_* environment variables, plus NATS_URL as a fallback for
//     store.nats_url.
func (l *Loader) Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = l.findProjectConfig()
	}

	var config *Config
	if path == "" {
		config = DefaultConfig()
		l.logger.Debug("no config file found, using defaults")
	} else {
		loaded, err := LoadFromFile(path)
		if err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, err
			}
			loaded = DefaultConfig()
		}
		config = loaded
		l.logger.Debug("loaded config file", "path", path)
	}

	l.applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overlays BRAID_* environment variables onto the config. Unset
// and empty variables are ignored.
func (l *Loader) applyEnv(config *Config) {
	overrides := []struct {
		key string
		set func(string)
	}{
		{"BRAID_LOG_LEVEL", func(v string) { config.LogLevel = v }},
		{"BRAID_LLM_PROVIDER", func(v string) { config.LLM.Provider = v }},
		{"BRAID_LLM_BASE_URL", func(v string) { config.LLM.BaseURL = v }},
		{"BRAID_LLM_MODEL", func(v string) { config.LLM.Model = v }},
		{"BRAID_LLM_PLANNER_MODEL", func(v string) { config.LLM.PlannerModel = v }},
		{"BRAID_LLM_API_KEY_ENV", func(v string) { config.LLM.APIKeyEnv = v }},
		{"BRAID_STORE_BACKEND", func(v string) { config.Store.Backend = v }},
		{"BRAID_STORE_NATS_URL", func(v string) { config.Store.NATSURL = v }},
		{"BRAID_STORE_REDIS_ADDR", func(v string) { config.Store.RedisAddr = v }},
		{"BRAID_STORE_SQLITE_PATH", func(v string) { config.Store.SQLitePath = v }},
		{"BRAID_METRICS_LISTEN_ADDR", func(v string) { config.Metrics.ListenAddr = v }},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			o.set(v)
			l.logger.Debug("config override from environment", "key", o.key)
		}
	}

	if v := os.Getenv("BRAID_PARALLELISM_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			config.Parallelism.Enabled = enabled
		} else {
			l.logger.Warn("ignoring invalid BRAID_PARALLELISM_ENABLED", "value", v)
		}
	}
	if v := os.Getenv("BRAID_PARALLELISM_MAX_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Parallelism.MaxThreads = n
		} else {
			l.logger.Warn("ignoring invalid BRAID_PARALLELISM_MAX_THREADS", "value", v)
		}
	}

	// NATS tooling conventionally exports NATS_URL; honor it when the
	// config has no explicit URL.
	if config.Store.NATSURL == "" {
		if v := os.Getenv("NATS_URL"); v != "" {
			config.Store.NATSURL = v
			l.logger.Debug("using NATS_URL from environment")
		}
	}
}

// findProjectConfig searches for braid.yaml in the current and parent
// directories.
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
