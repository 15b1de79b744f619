// Package workerpool implements the bounded pool of CPU-bound
// rasterization workers (spec §4.3): a fixed number of goroutines pull
// tasks from a shared channel, each rendering then encoding one page via an
// injected rasterizer.Engine. Grounded on LerianStudio-reporter's
// pkg/pdf.WorkerPool (tasks chan Task, per-task result channel,
// sync.WaitGroup-backed Close), generalized from a single Chrome-backed
// task type to page-render tasks and from an ad-hoc stats map to the typed
// stats contract of spec §4.3.
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	ddTracer "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/sigma-2026/pdf2img/internal/errs"
	"github.com/sigma-2026/pdf2img/internal/metrics"
	"github.com/sigma-2026/pdf2img/internal/model"
	"github.com/sigma-2026/pdf2img/internal/rasterizer"
)

// Task is one unit of work: render+encode a single page.
type Task struct {
	Ctx     context.Context
	Input   model.PdfInput
	PageNum int
	Opts    model.RenderOptions
	result  chan model.PageResult
}

// Stats is the pool's point-in-time snapshot (spec §4.3 stats()).
type Stats struct {
	Workers     int
	Queued      int
	Completed   int64
	Utilization float64 // fraction of workers busy at the moment of the call
}

// Pool is the bounded worker pool of spec §4.3.
type Pool struct {
	tasks   chan Task
	engine  rasterizer.Engine
	workers int
	wg      sync.WaitGroup

	mu        sync.Mutex
	busy      int
	completed int64

	shutdownOnce sync.Once
	closed       chan struct{}

	agg *metrics.Aggregator
}

// SetAggregator wires a metrics.Aggregator into the pool so every
// completed task folds its render/total time into the process-wide
// aggregates (spec §4.6). Nil-safe and a no-op if never called.
func (p *Pool) SetAggregator(agg *metrics.Aggregator) {
	p.agg = agg
}

// New constructs a Pool with workerCount workers backed by engine; a
// workerCount below 2 selects runtime.NumCPU() instead, itself raised to
// at least 2 (spec §4.3). queueDepth bounds how many
// not-yet-picked-up tasks may sit in the channel before Submit blocks.
func New(workerCount int, queueDepth int, engine rasterizer.Engine) *Pool {
	if workerCount < 2 {
		workerCount = runtime.NumCPU()
		if workerCount < 2 {
			workerCount = 2
		}
	}
	if queueDepth < 0 {
		queueDepth = 0
	}

	p := &Pool{
		tasks:   make(chan Task, queueDepth),
		engine:  engine,
		workers: workerCount,
		closed:  make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	return p
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.mu.Lock()
		p.busy++
		p.mu.Unlock()

		result := p.execute(task)

		p.mu.Lock()
		p.busy--
		p.completed++
		p.mu.Unlock()

		select {
		case task.result <- result:
		default:
			log.Warnf("workerpool: worker %d dropped result for page %d, caller gone", id, task.PageNum)
		}
	}
}

// execute performs spec §4.3's per-worker task execution: render then
// encode, converting any failure into a PageResult rather than propagating
// it, so one page's failure never aborts the enclosing batch.
func (p *Pool) execute(task Task) model.PageResult {
	t0 := time.Now()
	res := model.PageResult{PageNum: task.PageNum}
	defer func() {
		if p.agg != nil {
			p.agg.RecordWorkerTask(float64(time.Since(t0).Milliseconds()))
			if res.RenderMs > 0 {
				p.agg.RecordPageRender(res.RenderMs)
			}
		}
	}()

	// PageCount is cheap after the first open (both engine implementations
	// cache it), so piggybacking it here costs nothing and spares the
	// dispatcher a dedicated metadata round-trip (spec §4.5).
	if n, err := p.engine.PageCount(task.Ctx, task.Input); err == nil {
		res.NumPagesTotal = n
	}

	page, err := p.engine.RenderPage(task.Ctx, task.Input, task.PageNum, task.Opts)
	if err != nil {
		res.Success = false
		res.ErrorKind = errs.Of(err).String()
		res.ErrorMsg = err.Error()
		return res
	}
	res.RenderMs = page.RenderMs
	res.Width = page.Width
	res.Height = page.Height

	enc, err := p.engine.Encode(task.Ctx, page, task.Opts)
	if err != nil {
		res.Success = false
		res.ErrorKind = errs.Of(err).String()
		res.ErrorMsg = err.Error()
		return res
	}

	res.Success = true
	res.Output = model.OutputBytes
	res.Bytes = enc.Bytes
	res.SizeBytes = len(enc.Bytes)
	res.EncodeMs = enc.EncodeMs
	return res
}

// Submit enqueues a task and returns a future: a function that blocks until
// the result is ready or ctx is done.
func (p *Pool) Submit(ctx context.Context, input model.PdfInput, pageNum int, opts model.RenderOptions) (fn func() (model.PageResult, error), err error) {
	span, ctx := ddTracer.StartSpanFromContext(ctx, "WorkerPool.submit")
	span.SetTag("page_num", pageNum)
	defer func() { span.Finish(ddTracer.WithError(err)) }()

	select {
	case <-p.closed:
		return nil, errs.New(errs.Cancelled, "worker pool is shut down")
	default:
	}

	resultChan := make(chan model.PageResult, 1)
	task := Task{Ctx: ctx, Input: input, PageNum: pageNum, Opts: opts, result: resultChan}

	select {
	case p.tasks <- task:
	case <-p.closed:
		return nil, errs.New(errs.Cancelled, "worker pool is shut down")
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Cancelled, "submitting task", ctx.Err())
	}

	future := func() (model.PageResult, error) {
		select {
		case r := <-resultChan:
			return r, nil
		case <-ctx.Done():
			return model.PageResult{}, errs.Wrap(errs.Cancelled, "awaiting task result", ctx.Err())
		}
	}
	return future, nil
}

// Stats reports a point-in-time snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	util := 0.0
	if p.workers > 0 {
		util = float64(p.busy) / float64(p.workers)
	}
	return Stats{
		Workers:     p.workers,
		Queued:      len(p.tasks),
		Completed:   p.completed,
		Utilization: util,
	}
}

// Shutdown stops accepting new tasks and waits for in-flight tasks to
// complete, bounded by grace. Tasks still queued (but not yet picked up by
// a worker) when grace elapses are left undrained; Submit starts rejecting
// immediately.
func (p *Pool) Shutdown(grace time.Duration) {
	p.shutdownOnce.Do(func() {
		close(p.closed)
		close(p.tasks)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		log.Warnf("workerpool: shutdown grace period (%s) elapsed with workers still draining", grace)
	}
}
