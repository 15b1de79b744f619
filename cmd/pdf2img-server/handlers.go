package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sigma-2026/pdf2img/internal/admission"
	"github.com/sigma-2026/pdf2img/internal/dispatcher"
	"github.com/sigma-2026/pdf2img/internal/errs"
	"github.com/sigma-2026/pdf2img/internal/health"
	"github.com/sigma-2026/pdf2img/internal/metrics"
	"github.com/sigma-2026/pdf2img/internal/model"
	"github.com/sigma-2026/pdf2img/internal/sink"
	"github.com/sigma-2026/pdf2img/internal/tracker"
	"github.com/sigma-2026/pdf2img/internal/workerpool"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB; a convert request is a URL and a few scalars

// Server wires every internal package into spec §6's HTTP surface.
type Server struct {
	sinkKind    sink.Kind
	outputDir   string
	health      *health.Monitor
	sem         *admission.Semaphore
	pool        *workerpool.Pool
	dispatcher  *dispatcher.Dispatcher
	metrics     *metrics.Aggregator
	startedAt   time.Time
}

// handleCORS sets the permissive CORS headers a browser-driven caller
// needs and short-circuits preflight OPTIONS requests before invoking
// handler, mirroring the teacher's own CORS wrapper.
func handleCORS(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")

		if r.Method == http.MethodOptions {
			if headers, ok := r.Header["Access-Control-Request-Headers"]; ok {
				for _, header := range headers {
					w.Header().Add("Access-Control-Allow-Headers", header)
				}
			}
			return
		}

		handler(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	env.Code = status
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		http.Error(w, `{"code":500,"message":"failed to marshal response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.Errorf("pdf2img-server: failed to send response: %s", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Message: message})
}

// handleConvert implements spec §6's POST /pdf2img: parse and validate the
// request, run it through health/admission/dispatch, place each page via
// the configured sink, and respond with the {code, message, data} envelope.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	defer r.Body.Close()

	tr := tracker.New(s.metrics)

	tr.BeginPhase(tracker.PhaseValidation)
	body, selector, opts, err := s.parseConvertRequest(r)
	tr.EndPhase(tracker.PhaseValidation)
	if err != nil {
		s.finishError(w, tr, err)
		return
	}

	tr.BeginPhase(tracker.PhaseHealthCheck)
	verdict := s.health.Check(r.Context())
	tr.EndPhase(tracker.PhaseHealthCheck)
	if !verdict.Healthy {
		tr.Event(tracker.EventOverloadReject)
		tr.Finish(false, errs.Overloaded.String())
		writeJSON(w, errs.Overloaded.StatusCode(), envelope{
			Message: "Service is overloaded, please try again later",
			Data: map[string]interface{}{
				"reasons":    verdict.Reasons,
				"metrics":    map[string]float64{"cpu": verdict.Metrics.CPUPct, "memory": verdict.Metrics.MemPct},
				"retryAfter": 5,
			},
		})
		return
	}

	tr.BeginPhase(tracker.PhaseQueue)
	permit, err := s.sem.Acquire(r.Context())
	tr.EndPhase(tracker.PhaseQueue)
	if err != nil {
		kind := errs.Of(err)
		if kind == errs.QueueFull {
			tr.Event(tracker.EventOverloadReject)
			tr.Finish(false, kind.String())
			writeJSON(w, kind.StatusCode(), envelope{
				Message: "Service is busy, please try again later",
				Data:    map[string]interface{}{"retryAfter": 2},
			})
			return
		}
		s.finishError(w, tr, err)
		return
	}
	defer permit.Release()
	tr.Event(tracker.EventQueueAcquired)

	input := model.NewURLInput(body.URL)
	tr.BeginPhase(tracker.PhaseRender)
	result, err := s.dispatcher.Convert(r.Context(), input, selector, opts, tr)
	tr.EndPhase(tracker.PhaseRender)
	if err != nil {
		s.finishError(w, tr, err)
		return
	}

	pages := make([]pageDTO, len(result.Pages))
	snk := sink.New(sink.Params{Kind: s.sinkKind, OutputDir: s.outputDir, Prefix: body.GlobalPadID})
	for i, p := range result.Pages {
		if p.Success {
			if err := snk.Place(r.Context(), p.PageNum, p.Bytes, result.Format, &p); err != nil {
				p.Success = false
				p.ErrorKind = errs.Of(err).String()
				p.ErrorMsg = err.Error()
			}
		}
		pages[i] = toPageDTO(p)
	}

	tr.Finish(true, "")
	writeJSON(w, http.StatusOK, envelope{Message: "ok", Data: pages})
}

// parseConvertRequest decodes and validates the request body per spec §6,
// resolving query-string render options alongside it.
func (s *Server) parseConvertRequest(r *http.Request) (convertRequestBody, model.PageSelector, model.RenderOptions, error) {
	var body convertRequestBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := dec.Decode(&body); err != nil {
		return body, model.PageSelector{}, model.RenderOptions{}, errs.Wrap(errs.InvalidInput, "request body must be valid JSON", err)
	}
	if strings.TrimSpace(body.URL) == "" {
		return body, model.PageSelector{}, model.RenderOptions{}, errs.New(errs.InvalidInput, "URL is required")
	}
	parsed, err := url.ParseRequestURI(body.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return body, model.PageSelector{}, model.RenderOptions{}, errs.New(errs.InvalidInput, "Invalid URL format")
	}
	if strings.TrimSpace(body.GlobalPadID) == "" {
		return body, model.PageSelector{}, model.RenderOptions{}, errs.New(errs.InvalidInput, "globalPadId is required")
	}

	selector, err := parsePages(body.Pages)
	if err != nil {
		return body, model.PageSelector{}, model.RenderOptions{}, err
	}

	return body, selector, optionsFromQuery(r), nil
}

// optionsFromQuery resolves render options from query-string parameters,
// generalizing the teacher's widthForRequest/scaleForRequest/
// imageTypeForRequest/imageQualityForRequest family to spec §3's options.
func optionsFromQuery(r *http.Request) model.RenderOptions {
	opts := model.DefaultRenderOptions()
	q := r.URL.Query()

	if v := q.Get("width"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.TargetWidth = n
		}
	}
	if v := q.Get("scale"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			opts.MaxScale = f
		}
	}
	if v := q.Get("quality"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 100 {
			opts.Quality = n
		}
	}
	switch strings.ToLower(q.Get("format")) {
	case "png":
		opts.Format = model.FormatPNG
	case "jpeg", "jpg":
		opts.Format = model.FormatJPEG
	case "webp":
		opts.Format = model.FormatWebP
	}
	if v := q.Get("fast"); v == "true" || v == "1" {
		opts.Fast = true
	}
	return opts
}

// finishError maps err onto its spec §7 status code, records the outcome,
// and writes the envelope. Cancelled is special-cased: the caller is
// already gone, so no response is attempted.
func (s *Server) finishError(w http.ResponseWriter, tr *tracker.Tracker, err error) {
	kind := errs.Of(err)
	tr.Event(tracker.EventError)
	tr.Finish(false, kind.String())
	if kind == errs.Cancelled {
		return
	}
	writeError(w, kind.StatusCode(), err.Error())
}

// handleHealth implements spec §6's GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	verdict := s.health.Check(r.Context())
	status := http.StatusOK
	statusLabel := "healthy"
	if !verdict.Healthy {
		status = http.StatusServiceUnavailable
		statusLabel = "unhealthy"
	}
	writeJSON(w, status, envelope{
		Message: statusLabel,
		Data: map[string]interface{}{
			"healthy": verdict.Healthy,
			"status":  statusLabel,
			"reasons": verdict.Reasons,
			"metrics": map[string]float64{"cpu": verdict.Metrics.CPUPct, "memory": verdict.Metrics.MemPct},
			"uptime":  time.Since(s.startedAt).Seconds(),
		},
	})
}

// handleWorkers implements spec §6's GET /workers: a combined snapshot of
// the worker pool and the admission semaphore, for operational dashboards.
func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	poolStats := s.pool.Stats()
	admStatus := s.sem.Status()
	writeJSON(w, http.StatusOK, envelope{
		Message: "ok",
		Data: map[string]interface{}{
			"workers":     poolStats.Workers,
			"queued":      poolStats.Queued,
			"completed":   poolStats.Completed,
			"utilization": poolStats.Utilization,
			"inFlight":    admStatus.InFlight,
			"maxInFlight": admStatus.Max,
			"queueLen":    admStatus.QueueLen,
			"queueLimit":  admStatus.QueueLimit,
		},
	})
}
