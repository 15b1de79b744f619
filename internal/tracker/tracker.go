// Package tracker implements the RequestTracker of spec §4.6: per-request
// phase timings and discrete events, feeding the process-wide aggregates in
// internal/metrics. Request IDs use github.com/google/uuid.
package tracker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sigma-2026/pdf2img/internal/metrics"
)

// Well-known phase names (spec §4.6).
const (
	PhaseValidation  = "validation"
	PhaseHealthCheck = "healthCheck"
	PhaseQueue       = "queue"
	PhasePdfInfo     = "pdfInfo"
	PhaseRender      = "render"
)

// Well-known event names (spec §4.6).
const (
	EventFirstImageReady = "firstImageReady"
	EventAllImagesReady  = "allImagesReady"
	EventQueueAcquired   = "queueAcquired"
	EventOverloadReject  = "overloadReject"
	EventError           = "error"
)

// Summary is the per-request report produced by Finish.
type Summary struct {
	RequestID     string
	Success       bool
	ErrorKind     string
	TotalMs       float64
	PhaseMs       map[string]float64
	EventOffsetMs map[string]float64
}

// Tracker tracks phase boundaries and discrete events for a single request.
type Tracker struct {
	requestID string
	start     time.Time
	agg       *metrics.Aggregator

	mu          sync.Mutex
	phaseStart  map[string]time.Time
	phaseMs     map[string]float64
	eventOffset map[string]float64
	finished    bool
}

// New starts a Tracker for a freshly-generated request ID, optionally
// reporting into agg (nil is allowed for tests / one-off use).
func New(agg *metrics.Aggregator) *Tracker {
	return NewWithID(uuid.NewString(), agg)
}

// NewWithID starts a Tracker for an explicit request ID.
func NewWithID(requestID string, agg *metrics.Aggregator) *Tracker {
	if agg != nil {
		agg.IncInFlight()
	}
	return &Tracker{
		requestID:   requestID,
		start:       time.Now(),
		agg:         agg,
		phaseStart:  make(map[string]time.Time),
		phaseMs:     make(map[string]float64),
		eventOffset: make(map[string]float64),
	}
}

// RequestID returns the tracker's request ID.
func (t *Tracker) RequestID() string { return t.requestID }

// BeginPhase marks the start of a named phase. Calling BeginPhase again for
// the same name without an intervening EndPhase resets its start time.
func (t *Tracker) BeginPhase(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phaseStart[name] = time.Now()
}

// EndPhase records the elapsed time since the matching BeginPhase. A call
// with no matching BeginPhase is a no-op.
func (t *Tracker) EndPhase(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.phaseStart[name]
	if !ok {
		return
	}
	t.phaseMs[name] += float64(time.Since(start).Milliseconds())
	delete(t.phaseStart, name)
}

// Event records a discrete event's offset from request start.
func (t *Tracker) Event(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eventOffset[name] = float64(time.Since(t.start).Milliseconds())
}

// Finish closes out the tracker, recording the outcome into the aggregate
// metrics (if any) and returning a per-request Summary. Idempotent: a
// second call returns the same Summary without double-counting metrics.
func (t *Tracker) Finish(success bool, errorKind string) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	totalMs := float64(time.Since(t.start).Milliseconds())

	if !t.finished {
		t.finished = true
		if t.agg != nil {
			outcome := "success"
			if !success {
				outcome = errorKind
				if outcome == "" {
					outcome = "error"
				}
			}
			t.agg.RecordRequest(outcome, totalMs)
			t.agg.DecInFlight()
		}
	}

	phaseCopy := make(map[string]float64, len(t.phaseMs))
	for k, v := range t.phaseMs {
		phaseCopy[k] = v
	}
	eventCopy := make(map[string]float64, len(t.eventOffset))
	for k, v := range t.eventOffset {
		eventCopy[k] = v
	}

	return Summary{
		RequestID:     t.requestID,
		Success:       success,
		ErrorKind:     errorKind,
		TotalMs:       totalMs,
		PhaseMs:       phaseCopy,
		EventOffsetMs: eventCopy,
	}
}
