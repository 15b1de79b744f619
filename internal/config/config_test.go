package config

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()
	assert.Equal(t, max(4, runtime.NumCPU()), cfg.MaxInFlight)
	assert.Equal(t, 100, cfg.QueueLimit)
	assert.Equal(t, 85.0, cfg.CPUThresholdPct)
	assert.Equal(t, 6, cfg.FirstBatchSize)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_INFLIGHT", "16")
	t.Setenv("CPU_THRESHOLD", "70")

	cfg := Load()
	assert.Equal(t, 16, cfg.MaxInFlight)
	assert.Equal(t, 70.0, cfg.CPUThresholdPct)
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_INFLIGHT", "not-a-number")

	cfg := Load()
	assert.Equal(t, max(4, runtime.NumCPU()), cfg.MaxInFlight)
}

func TestValidate_RejectsZeroMaxInFlight(t *testing.T) {
	cfg := Load()
	cfg.MaxInFlight = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeThreshold(t *testing.T) {
	cfg := Load()
	cfg.CPUThresholdPct = 150
	assert.Error(t, cfg.Validate())
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MAX_INFLIGHT", "QUEUE_LIMIT", "CPU_THRESHOLD", "MEMORY_THRESHOLD",
		"WORKER_COUNT", "WORKER_QUEUE_DEPTH", "OUTPUT_DIR", "NODE_ENV",
	} {
		os.Unsetenv(k)
	}
}
