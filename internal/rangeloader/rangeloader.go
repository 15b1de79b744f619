// Package rangeloader fetches a remote PDF's bytes over HTTP byte ranges,
// splitting large ranges into parallel sub-requests and falling back to a
// full download when the origin doesn't advertise range support (spec
// §4.4). It is grounded on cognusion/go-rangetripper's HEAD-probe /
// fetchChunk / stitch-by-offset design, generalized from "one whole-file
// download" to "fetch_range(start, end) on demand."
package rangeloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	ddTracer "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/sigma-2026/pdf2img/internal/errs"
	"github.com/sigma-2026/pdf2img/internal/metrics"
)

const (
	// DefaultChunkSize is the coalesced logical chunk size fetch_range
	// callers should think in terms of.
	DefaultChunkSize = 1 << 20 // 1 MiB
	// DefaultSmallChunkSize is the maximum size of a single sub-request;
	// ranges larger than this are split and fetched concurrently.
	DefaultSmallChunkSize = 256 << 10 // 256 KiB
	// DefaultInitialPrefetch is the default Config.InitialPrefetch size.
	// The Loader stores this value but issues no speculative prefetch
	// request; every fetch starts with the HEAD/range probe.
	DefaultInitialPrefetch = 10 << 10 // 10 KiB
	// DefaultMaxSubRequests bounds fan-out concurrency per fetch_range call.
	DefaultMaxSubRequests = 8
	// DefaultMaxRetries is the number of retries a failed sub-request gets
	// before the whole fetch_range call fails with RangeFetchFailed.
	DefaultMaxRetries = 3
)

// Config configures a Loader.
type Config struct {
	SmallChunkSize  int64
	InitialPrefetch int64
	MaxSubRequests  int64
	MaxRetries      uint64
	RequestTimeout  time.Duration
	OverallTimeout  time.Duration
}

// DefaultConfig returns the spec §4.4 defaults.
func DefaultConfig() Config {
	return Config{
		SmallChunkSize:  DefaultSmallChunkSize,
		InitialPrefetch: DefaultInitialPrefetch,
		MaxSubRequests:  DefaultMaxSubRequests,
		MaxRetries:      DefaultMaxRetries,
		RequestTimeout:  15 * time.Second,
		OverallTimeout:  60 * time.Second,
	}
}

// Stats is the point-in-time progress/timing snapshot for a Loader (spec
// §4.4 stats()).
type Stats struct {
	RequestCount int64
	TotalBytes   int64
	AvgRequestMs float64
	FullDownload bool
}

// Loader fetches byte ranges of a single remote document over HTTP.
type Loader struct {
	url    string
	client *http.Client
	cfg    Config

	mu             sync.Mutex
	contentLength  int64
	rangesOK       bool
	probed         bool
	fullBody       []byte // populated once on full-download fallback
	fullDownloaded bool

	requestCount int64
	totalBytes   int64
	totalMs      int64
	sem          *semaphore.Weighted

	agg *metrics.Aggregator
}

// SetAggregator wires a metrics.Aggregator into the loader so every HTTP
// round trip it makes folds into the process-wide RangeLoader aggregates
// (spec §4.6). Nil-safe and a no-op if never called.
func (l *Loader) SetAggregator(agg *metrics.Aggregator) {
	l.agg = agg
}

// New constructs a Loader for url using cfg. A nil client defaults to
// http.DefaultClient.
func New(url string, client *http.Client, cfg Config) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.SmallChunkSize <= 0 {
		cfg.SmallChunkSize = DefaultSmallChunkSize
	}
	if cfg.MaxSubRequests <= 0 {
		cfg.MaxSubRequests = DefaultMaxSubRequests
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Loader{
		url:    url,
		client: client,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxSubRequests),
	}
}

// Head returns the document's content length, probing via HEAD first and
// falling back to a one-byte range request if HEAD fails or answers with a
// status other than 200. A 200 HEAD without Accept-Ranges: bytes is taken
// as final and marks the origin as not supporting ranges.
func (l *Loader) Head(ctx context.Context) (int64, error) {
	if err := l.probe(ctx); err != nil {
		return 0, err
	}
	return l.contentLength, nil
}

// probe issues a HEAD (or, failing that, a small ranged GET) to learn the
// content length and whether the origin advertises byte-range support.
// Idempotent: subsequent calls reuse the cached result.
func (l *Loader) probe(ctx context.Context) error {
	l.mu.Lock()
	if l.probed {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, l.url, nil)
	if err != nil {
		return errs.Wrap(errs.FetchFailed, "building HEAD request", err)
	}
	res, rtErr := l.client.Do(req)
	if rtErr == nil {
		defer res.Body.Close()
		if res.StatusCode == http.StatusOK {
			l.mu.Lock()
			l.contentLength = res.ContentLength
			l.rangesOK = res.Header.Get("Accept-Ranges") == "bytes"
			l.probed = true
			l.mu.Unlock()
			return nil
		}
	}

	// HEAD failed or wasn't informative; probe with a tiny range GET
	// instead (the "headFake" pattern).
	return l.headFake(ctx)
}

func (l *Loader) headFake(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return errs.Wrap(errs.FetchFailed, "building probe request", err)
	}
	req.Header.Set("Range", "bytes=0-0")

	res, err := l.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.FetchFailed, "probing document", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.probed = true

	if res.StatusCode == http.StatusPartialContent {
		l.rangesOK = true
		if cr := res.Header.Get("Content-Range"); cr != "" {
			var total int64
			if _, scanErr := fmt.Sscanf(cr, "bytes 0-0/%d", &total); scanErr == nil {
				l.contentLength = total
			}
		}
		return nil
	}

	// Server ignored the Range header and sent the whole thing (status
	// 200), or something else went wrong: either way, no range support.
	l.rangesOK = false
	if res.StatusCode != http.StatusOK {
		return errs.New(errs.FetchFailed, fmt.Sprintf("probe returned status %d", res.StatusCode))
	}
	l.contentLength = res.ContentLength
	return nil
}

// FetchRange returns exactly end-start+1 bytes of the document, splitting
// the request into sub-requests of at most SmallChunkSize and fetching
// them concurrently (bounded by MaxSubRequests), or falls back to a full
// download if the origin doesn't support ranges.
func (l *Loader) FetchRange(ctx context.Context, start, end int64) (data []byte, err error) {
	span, ctx := ddTracer.StartSpanFromContext(ctx, "RangeLoader.FetchRange")
	span.SetTag("range.start", start)
	span.SetTag("range.end", end)
	defer func() { span.Finish(ddTracer.WithError(err)) }()

	if end < start {
		return nil, errs.New(errs.InvalidInput, "fetch_range: end before start")
	}

	if l.cfg.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.OverallTimeout)
		defer cancel()
	}

	if err := l.probe(ctx); err != nil {
		return nil, err
	}

	if !l.rangesOK {
		buf, err := l.fullDownload(ctx)
		if err != nil {
			return nil, err
		}
		if end >= int64(len(buf)) {
			end = int64(len(buf)) - 1
		}
		if start > end {
			return []byte{}, nil
		}
		return buf[start : end+1], nil
	}

	want := end - start + 1
	out := make([]byte, want)

	type piece struct{ off, n int64 }
	var pieces []piece
	for off := int64(0); off < want; off += l.cfg.SmallChunkSize {
		n := l.cfg.SmallChunkSize
		if off+n > want {
			n = want - off
		}
		pieces = append(pieces, piece{off: off, n: n})
	}

	var wg sync.WaitGroup
	var firstErr atomic.Value
	for _, p := range pieces {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, errs.Wrap(errs.Cancelled, "fetch_range: waiting for sub-request slot", err)
		}
		wg.Add(1)
		go func(p piece) {
			defer wg.Done()
			defer l.sem.Release(1)

			rangeStart := start + p.off
			rangeEnd := rangeStart + p.n - 1
			chunk, err := l.fetchSubRangeWithRetry(ctx, rangeStart, rangeEnd)
			if err != nil {
				firstErr.CompareAndSwap(nil, err)
				return
			}
			copy(out[p.off:p.off+p.n], chunk)
		}(p)
	}
	wg.Wait()

	if v := firstErr.Load(); v != nil {
		return nil, v.(error)
	}
	return out, nil
}

// fetchSubRangeWithRetry fetches a single byte range, retrying with
// exponential backoff and jitter up to MaxRetries times.
func (l *Loader) fetchSubRangeWithRetry(ctx context.Context, start, end int64) ([]byte, error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), l.cfg.MaxRetries), ctx)

	var out []byte
	opErr := backoff.Retry(func() error {
		b, err := l.fetchSubRange(ctx, start, end)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"start": start, "end": end}).Debug("rangeloader: sub-request failed, retrying")
			return err
		}
		out = b
		return nil
	}, bo)

	if opErr != nil {
		return nil, errs.Wrap(errs.RangeFetchFailed, fmt.Sprintf("range %d-%d exhausted retries", start, end), opErr)
	}
	return out, nil
}

func (l *Loader) fetchSubRange(ctx context.Context, start, end int64) ([]byte, error) {
	reqCtx := ctx
	if l.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, l.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	t0 := time.Now()
	res, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusPartialContent && res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for range %d-%d", res.StatusCode, start, end)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	want := int(end - start + 1)
	if len(body) != want {
		return nil, fmt.Errorf("short read: got %d bytes, want %d", len(body), want)
	}

	atomic.AddInt64(&l.requestCount, 1)
	atomic.AddInt64(&l.totalBytes, int64(len(body)))
	atomic.AddInt64(&l.totalMs, time.Since(t0).Milliseconds())
	if l.agg != nil {
		l.agg.RecordRangeLoader(int64(len(body)))
	}
	return body, nil
}

// fullDownload fetches and caches the entire document once, for origins
// that don't support byte ranges.
func (l *Loader) fullDownload(ctx context.Context) ([]byte, error) {
	l.mu.Lock()
	if l.fullDownloaded {
		buf := l.fullBody
		l.mu.Unlock()
		return buf, nil
	}
	l.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.FetchFailed, "building full-download request", err)
	}

	t0 := time.Now()
	res, err := l.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.FetchFailed, "full download", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errs.New(errs.FetchFailed, fmt.Sprintf("full download returned status %d", res.StatusCode))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errs.Wrap(errs.FetchFailed, "reading full download body", err)
	}

	atomic.AddInt64(&l.requestCount, 1)
	atomic.AddInt64(&l.totalBytes, int64(len(body)))
	atomic.AddInt64(&l.totalMs, time.Since(t0).Milliseconds())
	if l.agg != nil {
		l.agg.RecordRangeLoader(int64(len(body)))
	}

	l.mu.Lock()
	l.fullBody = body
	l.fullDownloaded = true
	l.contentLength = int64(len(body))
	l.mu.Unlock()

	return body, nil
}

// Stats reports the loader's progress/timing snapshot.
func (l *Loader) Stats() Stats {
	count := atomic.LoadInt64(&l.requestCount)
	var avg float64
	if count > 0 {
		avg = float64(atomic.LoadInt64(&l.totalMs)) / float64(count)
	}
	l.mu.Lock()
	full := l.fullDownloaded
	l.mu.Unlock()
	return Stats{
		RequestCount: count,
		TotalBytes:   atomic.LoadInt64(&l.totalBytes),
		AvgRequestMs: avg,
		FullDownload: full,
	}
}
