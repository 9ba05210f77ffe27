package ensemble

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigStartsFromDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("execution_qps: 10\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.ExecutionQPS)
	assert.Equal(t, DefaultConfig().MaxConcurrentTasks, cfg.MaxConcurrentTasks)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("execution_qps: -1\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigWithEnvOverridesAppliesEnv(t *testing.T) {
	t.Setenv("OBJECTIVEAI_EXECUTION_QPS", "25")
	t.Setenv("OBJECTIVEAI_COST_MULTIPLIER", "2.5")

	cfg, err := LoadConfigWithEnvOverrides("")
	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.ExecutionQPS)
	assert.Equal(t, 2.5, cfg.CostMultiplier)
}

func TestConfigValidateCatchesEachField(t *testing.T) {
	base := *DefaultConfig()

	cases := []func(*Config){
		func(c *Config) { c.FirstChunkTimeout = 0 },
		func(c *Config) { c.OtherChunkTimeout = 0 },
		func(c *Config) { c.BackoffMaxElapsed = 0 },
		func(c *Config) { c.MaxConcurrentTasks = 0 },
		func(c *Config) { c.ExecutionQPS = 0 },
		func(c *Config) { c.MaxFunctionDepth = 0 },
		func(c *Config) { c.ExpressionStepBudget = 0 },
		func(c *Config) { c.CostMultiplier = -1 },
	}
	for i, mutate := range cases {
		cfg := base
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), "case %d", i)
	}
}
