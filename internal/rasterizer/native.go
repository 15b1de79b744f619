package rasterizer

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sigma-2026/pdf2img/internal/errs"
	"github.com/sigma-2026/pdf2img/internal/model"
)

// RasterTimeout bounds a single page render, mirroring the teacher's own
// RasterTimeout constant.
const RasterTimeout = 10 * time.Second

// Driver is the actual native-rasterizer collaborator: a CGO/MuPDF-class
// library (or equivalent) that opens a document once and renders/encodes
// its pages. It is never implemented in this module -- spec §1 explicitly
// treats it as an external black box -- only injected by whatever process
// wiring constructs a NativeEngine.
type Driver interface {
	Open(input model.PdfInput) error
	PageCount() (int, error)
	// RenderPage returns raw RGBA8888 pixels for pageNum, scaled per the
	// same target-width/max-scale rule as scaleFor (the driver knows its
	// own native page width and applies the rule internally, exactly as
	// the teacher's scalePage does against req.Width).
	RenderPage(ctx context.Context, pageNum, targetWidth int, maxScale float64) (pix []byte, width, height int, err error)
	// EncodeNative optionally encodes raw pixels directly (e.g. to WebP via
	// a linked libwebp); ok is false if the driver doesn't support the
	// requested format, in which case the caller falls back to
	// encodeStdlib.
	EncodeNative(pix []byte, width, height int, opts model.RenderOptions) (encoded []byte, ok bool, err error)
	Close() error
}

// DriverFactory constructs a fresh Driver bound to one document. NativeEngine
// does not take a factory: each NativeEngine is bound to the single input
// and Driver passed to NewNativeEngine.
type DriverFactory func() Driver

type request struct {
	ctx     context.Context
	pageNum int
	opts    model.RenderOptions
	reply   chan reply
}

type reply struct {
	page RenderedPage
	err  error
}

// NativeEngine adapts a single-document Driver behind the Engine interface
// using the teacher's actor-loop shape (faster_raster.go's RequestChan /
// mainEventLoop / processOne): one goroutine owns the Driver and serializes
// access to it, so a Driver that isn't internally thread-safe is still safe
// to call concurrently from many workers.
type NativeEngine struct {
	driver      Driver
	input       model.PdfInput
	requestChan chan *request
	quitChan    chan struct{}
	stopped     sync.WaitGroup

	mu       sync.Mutex
	opened   bool
	openErr  error
	numPages int
}

// NewNativeEngine constructs a NativeEngine bound to input, using driver as
// the native collaborator. The driver is opened lazily on first use (spec
// §4.3 task execution step 1).
func NewNativeEngine(input model.PdfInput, driver Driver) *NativeEngine {
	e := &NativeEngine{
		driver:      driver,
		input:       input,
		requestChan: make(chan *request, 16),
		quitChan:    make(chan struct{}),
	}
	e.stopped.Add(1)
	go e.mainEventLoop()
	return e
}

func (e *NativeEngine) ensureOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opened {
		return e.openErr
	}
	e.opened = true
	if err := e.driver.Open(e.input); err != nil {
		e.openErr = errs.Wrap(errs.RendererUnavailable, "opening document", err)
		return e.openErr
	}
	n, err := e.driver.PageCount()
	if err != nil {
		e.openErr = errs.Wrap(errs.RendererUnavailable, "counting pages", err)
		return e.openErr
	}
	e.numPages = n
	return nil
}

// PageCount opens the document if necessary and returns its page count.
func (e *NativeEngine) PageCount(ctx context.Context, _ model.PdfInput) (int, error) {
	if err := e.ensureOpen(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.numPages, nil
}

// RenderPage enqueues a render request onto the actor loop and waits for
// the reply, honoring ctx and RasterTimeout.
func (e *NativeEngine) RenderPage(ctx context.Context, _ model.PdfInput, pageNum int, opts model.RenderOptions) (RenderedPage, error) {
	if err := e.ensureOpen(); err != nil {
		return RenderedPage{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, RasterTimeout)
	defer cancel()

	replyChan := make(chan reply, 1)
	req := &request{ctx: ctx, pageNum: pageNum, opts: opts, reply: replyChan}

	select {
	case e.requestChan <- req:
	case <-ctx.Done():
		return RenderedPage{}, errs.ErrRasterTimeout
	}

	select {
	case r := <-replyChan:
		return r.page, r.err
	case <-ctx.Done():
		return RenderedPage{}, errs.ErrRasterTimeout
	}
}

// Encode asks the Driver for a native encode first; if it declines, falls
// back to the standard-library codec for PNG/JPEG.
func (e *NativeEngine) Encode(_ context.Context, page RenderedPage, opts model.RenderOptions) (EncodedPage, error) {
	t0 := time.Now()
	if encoded, ok, err := e.driver.EncodeNative(page.Pix, page.Width, page.Height, opts); ok {
		if err != nil {
			return EncodedPage{}, errs.Wrap(errs.EncodeFailed, "native encode", err)
		}
		return EncodedPage{Bytes: encoded, EncodeMs: float64(time.Since(t0).Milliseconds())}, nil
	}
	return encodeStdlib(page, opts)
}

// Close stops the actor loop and releases the Driver.
func (e *NativeEngine) Close() error {
	close(e.quitChan)
	e.stopped.Wait()
	return e.driver.Close()
}

func (e *NativeEngine) mainEventLoop() {
	defer e.stopped.Done()
	for {
		select {
		case req := <-e.requestChan:
			e.processOne(req)
		case <-e.quitChan:
			return
		}
	}
}

func (e *NativeEngine) processOne(req *request) {
	e.mu.Lock()
	total := e.numPages
	e.mu.Unlock()

	if err := validatePageNum(req.pageNum, total); err != nil {
		e.sendReply(req, reply{err: err})
		return
	}

	t0 := time.Now()
	done := make(chan struct{})
	var pix []byte
	var width, height int
	var renderErr error

	go func() {
		defer close(done)
		pix, width, height, renderErr = e.driver.RenderPage(req.ctx, req.pageNum, req.opts.TargetWidth, req.opts.MaxScale)
	}()

	select {
	case <-done:
	case <-req.ctx.Done():
		log.Debugf("rasterizer: page %d cancelled after %s", req.pageNum, time.Since(t0))
		e.sendReply(req, reply{err: errs.ErrRasterTimeout})
		return
	}

	if renderErr != nil {
		e.sendReply(req, reply{err: errs.Wrap(errs.PageRenderFailed, "native render", renderErr)})
		return
	}

	e.sendReply(req, reply{page: RenderedPage{
		Pix:      pix,
		Width:    width,
		Height:   height,
		RenderMs: float64(time.Since(t0).Milliseconds()),
	}})
}

func (e *NativeEngine) sendReply(req *request, r reply) {
	select {
	case req.reply <- r:
	default:
		log.Warnf("rasterizer: dropped reply for page %d, caller gone", req.pageNum)
	}
}
