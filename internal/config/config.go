// Package config loads process configuration from the environment,
// grounded directly on toricodesthings-File-Extraction-Service's
// internal/config.Load()/Validate() shape: plain os.Getenv with typed
// fallback parsing, no config/env library (none appears anywhere in the
// pack).
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config is the process-wide configuration for the pdf2img service.
type Config struct {
	// HTTP
	Port string

	// RenderSemaphore (spec §4.1)
	MaxInFlight int
	QueueLimit  int

	// HealthMonitor (spec §4.2)
	CPUThresholdPct float64
	MemThresholdPct float64

	// WorkerPool (spec §4.3)
	WorkerCount       int
	WorkerQueueDepth  int
	WorkerIdleTimeout time.Duration
	ShutdownGrace     time.Duration

	// RangeLoader (spec §4.4)
	RangeChunkSize      int64
	RangeSmallChunkSize int64
	RangeMaxRetries     int

	// Dispatcher (spec §4.5)
	FirstBatchSize       int
	RemainingBatchFactor int

	// Sink (spec §4.5/§6)
	OutputDir string

	Environment string
}

// Load reads Config from the environment, applying spec defaults for
// anything unset.
func Load() Config {
	return Config{
		Port: envStr("PORT", "8080"),

		MaxInFlight: envInt("MAX_INFLIGHT", max(4, runtime.NumCPU())),
		QueueLimit:  envInt("QUEUE_LIMIT", 100),

		CPUThresholdPct: envFloat("CPU_THRESHOLD", 85),
		MemThresholdPct: envFloat("MEMORY_THRESHOLD", 85),

		WorkerCount:       envInt("WORKER_COUNT", 0), // 0 => runtime.NumCPU, bounded min 2
		WorkerQueueDepth:  envInt("WORKER_QUEUE_DEPTH", 64),
		WorkerIdleTimeout: envDur("WORKER_IDLE_TIMEOUT", 5*time.Minute),
		ShutdownGrace:     envDur("SHUTDOWN_GRACE", 30*time.Second),

		RangeChunkSize:      int64(envInt("RANGE_CHUNK_SIZE", 1<<20)),
		RangeSmallChunkSize: int64(envInt("RANGE_SMALL_CHUNK_SIZE", 256<<10)),
		RangeMaxRetries:     envInt("RANGE_MAX_RETRIES", 3),

		FirstBatchSize:       envInt("FIRST_BATCH_SIZE", 6),
		RemainingBatchFactor: envInt("REMAINING_BATCH_FACTOR", 4),

		OutputDir: envStr("OUTPUT_DIR", "./output"),

		Environment: envStr("NODE_ENV", "development"),
	}
}

// Validate reports configuration errors that should stop the process from
// starting.
func (c Config) Validate() error {
	if c.MaxInFlight < 1 {
		return fmt.Errorf("MAX_INFLIGHT must be >= 1")
	}
	if c.QueueLimit < 0 {
		return fmt.Errorf("QUEUE_LIMIT must be >= 0")
	}
	if c.CPUThresholdPct <= 0 || c.CPUThresholdPct > 100 {
		return fmt.Errorf("CPU_THRESHOLD must be in (0, 100]")
	}
	if c.MemThresholdPct <= 0 || c.MemThresholdPct > 100 {
		return fmt.Errorf("MEMORY_THRESHOLD must be in (0, 100]")
	}
	if c.FirstBatchSize < 1 {
		return fmt.Errorf("FIRST_BATCH_SIZE must be >= 1")
	}
	if c.RemainingBatchFactor < 1 {
		return fmt.Errorf("REMAINING_BATCH_FACTOR must be >= 1")
	}
	return nil
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
