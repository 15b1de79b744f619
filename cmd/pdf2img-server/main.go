// Command pdf2img-server runs the HTTP rasterization service of spec §6:
// POST /pdf2img converts a remote PDF's pages to images, GET /health and
// GET /workers expose operational status, and GET /metrics serves the
// Prometheus snapshot. Grounded on the teacher's serveHttp/configureServer
// pair (other_examples' lazyraster HTTP wrapper), generalized from a single
// filecache-backed document route to the full admission -> health ->
// dispatch -> sink pipeline spec §4 describes.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	log "github.com/sirupsen/logrus"

	"github.com/sigma-2026/pdf2img/internal/admission"
	"github.com/sigma-2026/pdf2img/internal/config"
	"github.com/sigma-2026/pdf2img/internal/dispatcher"
	"github.com/sigma-2026/pdf2img/internal/health"
	"github.com/sigma-2026/pdf2img/internal/metrics"
	"github.com/sigma-2026/pdf2img/internal/rasterizer"
	"github.com/sigma-2026/pdf2img/internal/sink"
	"github.com/sigma-2026/pdf2img/internal/workerpool"
)

const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 60 * time.Second // a render request can take much longer than a typical API call
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %s", err)
	}
	if cfg.Environment != "production" {
		log.SetLevel(log.DebugLevel)
	}

	agg := metrics.NewAggregator()
	sem := admission.New(cfg.MaxInFlight, cfg.QueueLimit)
	monitor := health.NewMonitor(health.Thresholds{CPUPctMax: cfg.CPUThresholdPct, MemPctMax: cfg.MemThresholdPct})

	// No native Driver is wired in here: spec §1 treats the native
	// rasterizer as an external black box, and this module carries no
	// concrete implementation of it. FakeEngine stands in as the default
	// so the service is runnable end to end. rasterizer.NewNativeEngine
	// (input, driver) binds one engine to one document and renders that
	// document whatever input a call names, so it is not a drop-in
	// replacement for this single process-wide engine.
	engine := rasterizer.NewFakeEngine(1)
	pool := workerpool.New(cfg.WorkerCount, cfg.WorkerQueueDepth, engine)
	pool.SetAggregator(agg)

	disp := dispatcher.New(pool, cfg.FirstBatchSize, cfg.RemainingBatchFactor, nil)
	disp.SetAggregator(agg)

	// Sink policy follows NODE_ENV: development writes pages to
	// OUTPUT_DIR as local files so they're easy to eyeball by hand;
	// production has no object-store SDK wired into this module (spec §1
	// Non-goals: cloud-object-storage backends are external), so it falls
	// back to returning encoded bytes in the response body rather than
	// inventing an uploader.
	sinkKind := sink.KindLocalFile
	if cfg.Environment == "production" {
		sinkKind = sink.KindBytes
	}

	srv := &Server{
		sinkKind:   sinkKind,
		outputDir:  cfg.OutputDir,
		health:     monitor,
		sem:        sem,
		pool:       pool,
		dispatcher: disp,
		metrics:    agg,
		startedAt:  time.Now(),
	}

	convertHandler := http.NewServeMux()
	convertHandler.HandleFunc("/", handleCORS(srv.handleConvert))

	mux := http.NewServeMux()
	mux.HandleFunc("/favicon.ico", http.NotFound)
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/workers", srv.handleWorkers)
	mux.Handle("/metrics", agg.Handler())
	mux.Handle("/pdf2img", handlers.LoggingHandler(os.Stdout, convertHandler))

	// Spec §6's "server responses must be 206 Partial Content with
	// Content-Range" bullet describes byte-range serving of already
	// rendered page files, not the RangeLoader's outbound fetches (those
	// are covered separately by internal/rangeloader). http.FileServer
	// already implements conditional/range requests via http.ServeContent,
	// so mounting it over OutputDir satisfies the bullet without any
	// hand-rolled range logic; only meaningful when the sink policy is
	// writing local files.
	mux.Handle("/output/", http.StripPrefix("/output/", http.FileServer(http.Dir(cfg.OutputDir))))

	httpServer := &http.Server{
		Addr:           fmt.Sprintf(":%s", cfg.Port),
		Handler:        mux,
		ReadTimeout:    ServerReadTimeout,
		WriteTimeout:   ServerWriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Infof("pdf2img listening on %s (env=%s, sink=%d)", httpServer.Addr, cfg.Environment, sinkKind)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %s", err)
		}
	}()

	waitForShutdown(httpServer, pool, cfg.ShutdownGrace)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains the HTTP server
// and the worker pool within grace before returning.
func waitForShutdown(httpServer *http.Server, pool *workerpool.Pool, grace time.Duration) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("pdf2img: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warnf("pdf2img: HTTP server did not shut down cleanly: %s", err)
	}
	pool.Shutdown(grace)
}
