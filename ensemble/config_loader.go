package ensemble

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML config file, starting from DefaultConfig so
// unset fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads path (or DefaultConfig if path is
// empty) and applies OBJECTIVEAI_* environment overrides on top.
//
// Recognized variables:
//   - OBJECTIVEAI_FIRST_CHUNK_TIMEOUT_MS
//   - OBJECTIVEAI_OTHER_CHUNK_TIMEOUT_MS
//   - OBJECTIVEAI_BACKOFF_MAX_ELAPSED_MS
//   - OBJECTIVEAI_MAX_CONCURRENT_TASKS
//   - OBJECTIVEAI_EXECUTION_QPS
//   - OBJECTIVEAI_COST_MULTIPLIER
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = DefaultConfig()
	}

	if v := os.Getenv("OBJECTIVEAI_FIRST_CHUNK_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.FirstChunkTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("OBJECTIVEAI_OTHER_CHUNK_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.OtherChunkTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("OBJECTIVEAI_BACKOFF_MAX_ELAPSED_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.BackoffMaxElapsed = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("OBJECTIVEAI_MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentTasks = n
		}
	}
	if v := os.Getenv("OBJECTIVEAI_EXECUTION_QPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ExecutionQPS = f
		}
	}
	if v := os.Getenv("OBJECTIVEAI_COST_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CostMultiplier = f
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config after env overrides: %w", err)
	}
	return cfg, nil
}
