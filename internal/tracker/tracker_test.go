package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigma-2026/pdf2img/internal/metrics"
)

func requestsTotalSum(t *testing.T, agg *metrics.Aggregator) float64 {
	t.Helper()
	mf, err := agg.Registry().Gather()
	require.NoError(t, err)
	var sum float64
	for _, fam := range mf {
		if fam.GetName() != "pdf2img_requests_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestTracker_PhaseTiming(t *testing.T) {
	tr := New(nil)
	tr.BeginPhase(PhaseQueue)
	time.Sleep(10 * time.Millisecond)
	tr.EndPhase(PhaseQueue)

	summary := tr.Finish(true, "")
	assert.GreaterOrEqual(t, summary.PhaseMs[PhaseQueue], float64(9))
	assert.True(t, summary.Success)
}

func TestTracker_EventRecordsOffset(t *testing.T) {
	tr := New(nil)
	time.Sleep(5 * time.Millisecond)
	tr.Event(EventFirstImageReady)
	summary := tr.Finish(true, "")
	assert.Contains(t, summary.EventOffsetMs, EventFirstImageReady)
	assert.GreaterOrEqual(t, summary.EventOffsetMs[EventFirstImageReady], float64(4))
}

func TestTracker_FinishIsIdempotent(t *testing.T) {
	agg := metrics.NewAggregator()
	tr := New(agg)
	tr.Finish(true, "")
	tr.Finish(true, "")

	assert.Equal(t, float64(1), requestsTotalSum(t, agg))
}

func TestTracker_RecordsRequestOutcomeIntoAggregate(t *testing.T) {
	agg := metrics.NewAggregator()
	tr := New(agg)
	require.NotEmpty(t, tr.RequestID())
	tr.Finish(false, "Timeout")

	mf, err := agg.Registry().Gather()
	require.NoError(t, err)

	found := false
	for _, m := range mf {
		if m.GetName() == "pdf2img_requests_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestNewWithID_UsesGivenID(t *testing.T) {
	tr := NewWithID("req-123", nil)
	assert.Equal(t, "req-123", tr.RequestID())
}
