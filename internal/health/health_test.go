package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheck_HealthyUnderGenerousThresholds(t *testing.T) {
	m := NewMonitor(Thresholds{CPUPctMax: 100, MemPctMax: 100})
	v := m.Check(context.Background())
	assert.True(t, v.Healthy)
	assert.Empty(t, v.Reasons)
}

func TestCheck_UnhealthyUnderImpossibleThresholds(t *testing.T) {
	m := NewMonitor(Thresholds{CPUPctMax: -1, MemPctMax: -1})
	v := m.Check(context.Background())
	assert.False(t, v.Healthy)
	assert.Len(t, v.Reasons, 2)
}

func TestSetThresholds_TakesEffectImmediately(t *testing.T) {
	m := NewMonitor(Thresholds{CPUPctMax: 100, MemPctMax: 100})
	assert.True(t, m.Check(context.Background()).Healthy)

	m.SetThresholds(Thresholds{CPUPctMax: -1, MemPctMax: -1})
	assert.False(t, m.Check(context.Background()).Healthy)
}

func TestCheck_ConcurrentCallsDoNotBlockEachOther(t *testing.T) {
	m := NewMonitor(DefaultThresholds())

	done := make(chan struct{})
	go func() {
		m.Check(context.Background())
		close(done)
	}()

	// A second, concurrent call should also return promptly rather than
	// waiting on the first.
	start := time.Now()
	m.Check(context.Background())
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Check did not return promptly")
	}
}

func TestCheck_FirstCallWarmsUpSubsequentCallsAreFast(t *testing.T) {
	m := NewMonitor(DefaultThresholds())
	m.Check(context.Background()) // warm-up call, ~100ms

	start := time.Now()
	m.Check(context.Background())
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
