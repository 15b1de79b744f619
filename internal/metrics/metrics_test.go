package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_HandlerServesPrometheusFormat(t *testing.T) {
	a := NewAggregator()
	a.RecordRequest("success", 42.0)
	a.RecordPageRender(12.5)
	a.RecordRangeLoader(1024)
	a.RecordWorkerTask(5.0)
	a.IncInFlight()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "pdf2img_requests_total")
	assert.Contains(t, rec.Body.String(), "pdf2img_inflight_requests")
}

func TestAggregator_PeakInFlightTracksHighWaterMark(t *testing.T) {
	a := NewAggregator()
	a.IncInFlight()
	a.IncInFlight()
	a.IncInFlight()
	a.DecInFlight()
	a.DecInFlight()

	mf, err := a.Registry().Gather()
	require.NoError(t, err)

	var peak, cur float64
	for _, fam := range mf {
		switch fam.GetName() {
		case "pdf2img_inflight_requests_peak":
			peak = fam.GetMetric()[0].GetGauge().GetValue()
		case "pdf2img_inflight_requests":
			cur = fam.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(3), peak)
	assert.Equal(t, float64(1), cur)
}
