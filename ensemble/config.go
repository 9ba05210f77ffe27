package ensemble

import (
	"fmt"
	"time"
)

// Config bundles the tunables shared by the dispatcher, the cache and
// (through ensemble/function) the execution engine. Zero Config is
// invalid; use DefaultConfig and override.
type Config struct {
	// Dispatcher timeouts, spec §4.C / §5.
	FirstChunkTimeout    time.Duration `yaml:"first_chunk_timeout"`
	OtherChunkTimeout    time.Duration `yaml:"other_chunk_timeout"`
	BackoffMaxElapsed    time.Duration `yaml:"backoff_max_elapsed_time"`
	BackoffInitialDelay  time.Duration `yaml:"backoff_initial_delay"`
	BackoffMaxDelay      time.Duration `yaml:"backoff_max_delay"`

	// Cache sizing, spec §4.B.
	CacheWarmBatchSize int `yaml:"cache_warm_batch_size"`

	// Execution engine, spec §4.G.
	MaxConcurrentTasks int     `yaml:"max_concurrent_tasks"`
	ExecutionQPS       float64 `yaml:"execution_qps"`
	MaxFunctionDepth   int     `yaml:"max_function_depth"`

	// Expression sandbox, spec §9.
	ExpressionStepBudget int `yaml:"expression_step_budget"`

	// CostMultiplier is applied once, at usage-push time, to every
	// upstream-reported cost (spec §4.H).
	CostMultiplier float64 `yaml:"cost_multiplier"`
}

// DefaultConfig returns sane defaults for all tunables.
func DefaultConfig() *Config {
	return &Config{
		FirstChunkTimeout:    30 * time.Second,
		OtherChunkTimeout:    15 * time.Second,
		BackoffMaxElapsed:    2 * time.Minute,
		BackoffInitialDelay:  500 * time.Millisecond,
		BackoffMaxDelay:      10 * time.Second,
		CacheWarmBatchSize:   64,
		MaxConcurrentTasks:   16,
		ExecutionQPS:         50,
		MaxFunctionDepth:     32,
		ExpressionStepBudget: 100_000,
		CostMultiplier:       1.0,
	}
}

// Validate reports the first configuration error found, if any.
func (c *Config) Validate() error {
	if c.FirstChunkTimeout <= 0 {
		return fmt.Errorf("first_chunk_timeout must be positive")
	}
	if c.OtherChunkTimeout <= 0 {
		return fmt.Errorf("other_chunk_timeout must be positive")
	}
	if c.BackoffMaxElapsed <= 0 {
		return fmt.Errorf("backoff_max_elapsed_time must be positive")
	}
	if c.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("max_concurrent_tasks must be positive")
	}
	if c.ExecutionQPS <= 0 {
		return fmt.Errorf("execution_qps must be positive")
	}
	if c.MaxFunctionDepth <= 0 {
		return fmt.Errorf("max_function_depth must be positive")
	}
	if c.ExpressionStepBudget <= 0 {
		return fmt.Errorf("expression_step_budget must be positive")
	}
	if c.CostMultiplier < 0 {
		return fmt.Errorf("cost_multiplier must be non-negative")
	}
	return nil
}
