// Package health implements the HealthMonitor of spec §4.2: cheap,
// concurrency-safe CPU/memory threshold sampling suitable for invocation on
// every request's admission path. Sampling is backed by
// github.com/shirou/gopsutil/v3, already present (indirectly, via
// dd-trace-go.v1's runtime-metrics collector) in the teacher's own
// dependency tree and used directly across the wider pack.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Thresholds holds the configurable percentage ceilings of spec §4.2.
type Thresholds struct {
	CPUPctMax float64
	MemPctMax float64
}

// DefaultThresholds returns the spec §4.2 defaults (85% / 85%).
func DefaultThresholds() Thresholds {
	return Thresholds{CPUPctMax: 85, MemPctMax: 85}
}

// Metrics is the sampled system state backing a Verdict.
type Metrics struct {
	CPUPct float64
	MemPct float64
}

// Verdict is the result of a single check() call.
type Verdict struct {
	Healthy bool
	Reasons []string
	Metrics Metrics
}

// Monitor samples system CPU/memory and compares against Thresholds.
// Safe for concurrent use; check() never blocks on another in-flight check.
type Monitor struct {
	mu         sync.Mutex
	thresholds Thresholds
	warmedUp   bool
}

// NewMonitor constructs a Monitor with the given thresholds.
func NewMonitor(thresholds Thresholds) *Monitor {
	return &Monitor{thresholds: thresholds}
}

// SetThresholds updates thresholds at runtime (spec §4.2: "configurable at
// startup and at runtime").
func (m *Monitor) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
}

// Thresholds returns the current thresholds.
func (m *Monitor) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// Check samples CPU and memory and returns a Verdict. Sampling errors are
// treated as unhealthy (per spec §4.2 failure semantics) rather than
// propagated as hard errors: the caller (service endpoint) always gets a
// usable Verdict.
func (m *Monitor) Check(ctx context.Context) Verdict {
	thresholds := m.Thresholds()

	cpuPct, cpuErr := m.sampleCPU(ctx)
	memPct, memErr := sampleMem()

	var reasons []string
	healthy := true

	if cpuErr != nil {
		healthy = false
		reasons = append(reasons, "cpu sampling failed: "+cpuErr.Error())
	} else if cpuPct >= thresholds.CPUPctMax {
		healthy = false
		reasons = append(reasons, fmt.Sprintf("cpu %.1f%% >= threshold %.1f%%", cpuPct, thresholds.CPUPctMax))
	}

	if memErr != nil {
		healthy = false
		reasons = append(reasons, "memory sampling failed: "+memErr.Error())
	} else if memPct >= thresholds.MemPctMax {
		healthy = false
		reasons = append(reasons, fmt.Sprintf("memory %.1f%% >= threshold %.1f%%", memPct, thresholds.MemPctMax))
	}

	return Verdict{
		Healthy: healthy,
		Reasons: reasons,
		Metrics: Metrics{CPUPct: cpuPct, MemPct: memPct},
	}
}

// sampleCPU samples utilization over a short warm-up interval on first
// call (spec §4.2: "~100ms warm-up"), and on subsequent calls differences
// the cumulative CPU counters against the previous call's without waiting,
// so check() stays cheap enough to call on every request.
func (m *Monitor) sampleCPU(ctx context.Context) (float64, error) {
	m.mu.Lock()
	warm := m.warmedUp
	m.mu.Unlock()

	interval := 0 * time.Millisecond
	if !warm {
		interval = 100 * time.Millisecond
		m.mu.Lock()
		m.warmedUp = true
		m.mu.Unlock()
	}

	pcts, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("no cpu samples returned")
	}
	return pcts[0], nil
}

func sampleMem() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}
