// Package dispatcher implements the per-request page-planning policy of
// spec §4.5: resolve a PageSelector into batches, submit them to a
// WorkerPool, and collate the results. It consults no global state beyond
// its injected WorkerPool and, for URL inputs, a freshly-built
// rangeloader.Loader; admission control and health checks are the calling
// service endpoint's concern, not the dispatcher's.
//
// Grounded on the teacher's own request/background-goroutine split
// (faster_raster.go's mainEventLoop/processOne), generalized here into
// batch planning across many pages at once. Concurrent batch fan-out uses
// golang.org/x/sync/errgroup, the same package other Nitro-lineage
// services in the pack reach for instead of hand-rolled WaitGroup+error
// channel plumbing.
package dispatcher

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	ddTracer "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/sigma-2026/pdf2img/internal/errs"
	"github.com/sigma-2026/pdf2img/internal/metrics"
	"github.com/sigma-2026/pdf2img/internal/model"
	"github.com/sigma-2026/pdf2img/internal/rangeloader"
	"github.com/sigma-2026/pdf2img/internal/tracker"
	"github.com/sigma-2026/pdf2img/internal/workerpool"
)

// Dispatcher resolves a page selector into worker-pool batches and
// collates their results into a model.ConvertResult.
type Dispatcher struct {
	pool                 *workerpool.Pool
	firstBatchSize       int
	remainingBatchFactor int
	httpClient           *http.Client
	agg                  *metrics.Aggregator
}

// SetAggregator wires a metrics.Aggregator into every RangeLoader the
// dispatcher builds for Url inputs. Nil-safe and a no-op if never called.
func (d *Dispatcher) SetAggregator(agg *metrics.Aggregator) {
	d.agg = agg
}

// New constructs a Dispatcher. firstBatchSize and remainingBatchFactor are
// the spec §4.5 tunables (FIRST_BATCH=6, factor=4 by default); httpClient
// is used to build the RangeLoader for URL inputs (nil selects
// http.DefaultClient).
func New(pool *workerpool.Pool, firstBatchSize, remainingBatchFactor int, httpClient *http.Client) *Dispatcher {
	if firstBatchSize < 1 {
		firstBatchSize = 6
	}
	if remainingBatchFactor < 1 {
		remainingBatchFactor = 4
	}
	return &Dispatcher{
		pool:                 pool,
		firstBatchSize:       firstBatchSize,
		remainingBatchFactor: remainingBatchFactor,
		httpClient:           httpClient,
	}
}

// Convert runs the full spec §4.5 algorithm for one request: resolve the
// plan implied by selector, submit batches, collate sorted page results.
// tr may be nil; when given, first_image_ready and all_images_ready are
// recorded on it.
func (d *Dispatcher) Convert(ctx context.Context, input model.PdfInput, selector model.PageSelector, opts model.RenderOptions, tr *tracker.Tracker) (result model.ConvertResult, err error) {
	span, ctx := ddTracer.StartSpanFromContext(ctx, "Dispatcher.Convert")
	span.SetTag("selector.kind", selector.Kind)
	defer func() { span.Finish(ddTracer.WithError(err)) }()

	t0 := time.Now()

	firstBatch := d.planFirstBatch(selector)

	var firstImageOnce sync.Once
	markFirstImage := func() {
		if tr != nil {
			firstImageOnce.Do(func() { tr.Event(tracker.EventFirstImageReady) })
		}
	}

	// Materialization is deferred to here (spec §4.5 step 1 defers URL
	// handling to step 3): a LocalPath/BytesOwned input passes through
	// untouched; a Url input is fetched now, via the RangeLoader's
	// parallel chunked strategy rather than a single bulk GET.
	materialized, streamStats, err := d.materialize(ctx, input)
	if err != nil {
		return model.ConvertResult{}, err
	}

	// The first batch's response is also where num_pages_total is learned
	// (no separate metadata call, per spec §1 item 3), so bracket it as
	// the pdfInfo phase even though mechanically it's the same round trip
	// as the first batch's page renders.
	if tr != nil {
		tr.BeginPhase(tracker.PhasePdfInfo)
	}
	firstResults, numPagesTotal, err := d.submitBatch(ctx, materialized, firstBatch, opts, markFirstImage)
	if tr != nil {
		tr.EndPhase(tracker.PhasePdfInfo)
	}
	if err != nil {
		return model.ConvertResult{}, err
	}
	all := firstResults

	if selector.Kind == model.SelectAll && numPagesTotal > d.firstBatchSize {
		remaining := numPagesTotal - d.firstBatchSize
		batchSize := d.firstBatchSize
		if perWorker := ceilDiv(remaining, d.remainingBatchFactor); perWorker > batchSize {
			batchSize = perWorker
		}

		var batches [][]int
		for p := d.firstBatchSize + 1; p <= numPagesTotal; p += batchSize {
			end := p + batchSize - 1
			if end > numPagesTotal {
				end = numPagesTotal
			}
			pages := make([]int, 0, end-p+1)
			for pn := p; pn <= end; pn++ {
				pages = append(pages, pn)
			}
			batches = append(batches, pages)
		}

		batchResults := make([][]model.PageResult, len(batches))
		g, gctx := errgroup.WithContext(ctx)
		for i, pages := range batches {
			i, pages := i, pages
			g.Go(func() error {
				res, _, err := d.submitBatch(gctx, materialized, pages, opts, func() {})
				if err != nil {
					return err
				}
				batchResults[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return model.ConvertResult{}, err
		}
		for _, res := range batchResults {
			all = append(all, res...)
		}
	}

	// A page number beyond the document's actual length can only be known
	// after numPagesTotal comes back with the first batch (FirstN/Explicit
	// both submit before that's known); drop those results here rather
	// than let them surface as failed PageResult entries, per spec §4.5
	// ("the worker drops pages exceeding num_pages_total") and spec §8
	// invariant 3 (every page_num in the result is in [1, num_pages_total]).
	if numPagesTotal > 0 {
		inRange := all[:0]
		for _, p := range all {
			if p.PageNum <= numPagesTotal {
				inRange = append(inRange, p)
			}
		}
		all = inRange
	}

	result = model.ConvertResult{
		NumPagesTotal: numPagesTotal,
		Format:        opts.Format,
		Pages:         all,
		WorkerCount:   d.pool.Stats().Workers,
		StreamStats:   streamStats,
	}
	result.SortPages()

	successCount := 0
	for _, p := range result.Pages {
		if p.Success {
			successCount++
		}
		result.RenderMs += p.RenderMs
		result.EncodeMs += p.EncodeMs
	}
	result.NumRendered = successCount
	result.TotalMs = float64(time.Since(t0).Milliseconds())

	if tr != nil {
		tr.Event(tracker.EventAllImagesReady)
	}

	// A batch failure degrades to per-page failure entries rather than
	// failing the whole request, unless every page failed (spec §4.5
	// step 3).
	if len(result.Pages) > 0 && successCount == 0 {
		return model.ConvertResult{}, errs.New(dominantFailureKind(result.Pages), "all pages failed to render")
	}

	return result, nil
}

// planFirstBatch resolves the page numbers of the request's first (and,
// for FirstN/Explicit, only) batch, per spec §4.5 step 2.
func (d *Dispatcher) planFirstBatch(selector model.PageSelector) []int {
	switch selector.Kind {
	case model.SelectFirstN:
		n := selector.N
		if n <= 0 {
			n = d.firstBatchSize
		}
		pages := make([]int, n)
		for i := range pages {
			pages[i] = i + 1
		}
		return pages
	case model.SelectExplicit:
		return selector.Explicit
	default: // model.SelectAll
		pages := make([]int, d.firstBatchSize)
		for i := range pages {
			pages[i] = i + 1
		}
		return pages
	}
}

// materialize resolves a Url input into a BytesOwned one; LocalPath and
// BytesOwned pass through unchanged.
func (d *Dispatcher) materialize(ctx context.Context, input model.PdfInput) (model.PdfInput, *model.StreamStats, error) {
	if input.Kind != model.InputURL {
		return input, nil, nil
	}

	loader := rangeloader.New(input.URL, d.httpClient, rangeloader.DefaultConfig())
	if d.agg != nil {
		loader.SetAggregator(d.agg)
	}
	length, err := loader.Head(ctx)
	if err != nil {
		return model.PdfInput{}, nil, err
	}
	if length <= 0 {
		return model.PdfInput{}, nil, errs.New(errs.FetchFailed, "dispatcher: remote document reported no content length")
	}

	data, err := loader.FetchRange(ctx, 0, length-1)
	if err != nil {
		return model.PdfInput{}, nil, err
	}

	stats := loader.Stats()
	return model.NewBytesInput(data), &model.StreamStats{
		RequestCount: int(stats.RequestCount),
		TotalBytes:   stats.TotalBytes,
		AvgRequestMs: stats.AvgRequestMs,
		FullDownload: stats.FullDownload,
	}, nil
}

// submitBatch submits every page in pages to the pool, then awaits all of
// their futures concurrently via errgroup; once every future has resolved
// it returns the first error, if any (submission failure or cancellation
// -- individual page render/
// encode failures are already folded into PageResult.Success by the
// worker pool and never make submitBatch itself fail). onSuccess is
// called, possibly concurrently, for every page that renders successfully
// -- callers wrap it in a sync.Once to capture only the first.
func (d *Dispatcher) submitBatch(ctx context.Context, input model.PdfInput, pages []int, opts model.RenderOptions, onSuccess func()) ([]model.PageResult, int, error) {
	if len(pages) == 0 {
		return nil, 0, nil
	}

	futures := make([]func() (model.PageResult, error), len(pages))
	for i, pn := range pages {
		future, err := d.pool.Submit(ctx, input, pn, opts)
		if err != nil {
			return nil, 0, err
		}
		futures[i] = future
	}

	results := make([]model.PageResult, len(pages))
	var numPagesTotal int64

	g, _ := errgroup.WithContext(ctx)
	for i := range futures {
		i := i
		g.Go(func() error {
			res, err := futures[i]()
			if err != nil {
				return err
			}
			if res.Success {
				onSuccess()
			}
			bumpMax(&numPagesTotal, int64(res.NumPagesTotal))
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return results, int(atomic.LoadInt64(&numPagesTotal)), nil
}

// bumpMax atomically sets *addr to v if v is larger than the current value.
func bumpMax(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// dominantFailureKind picks the most common ErrorKind among a fully-failed
// page-result set, so the request's top-level error surfaces something
// more useful than a generic failure.
func dominantFailureKind(pages []model.PageResult) errs.Kind {
	counts := make(map[errs.Kind]int, 4)
	var best errs.Kind
	bestCount := 0
	for _, p := range pages {
		k := errs.ParseKind(p.ErrorKind)
		counts[k]++
		if counts[k] > bestCount {
			best = k
			bestCount = counts[k]
		}
	}
	return best
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
