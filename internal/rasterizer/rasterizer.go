// Package rasterizer defines the contract boundary to the native PDF
// rasterizer and image codec (spec §4.3's "Rasterizer contract (external
// collaborator)") and provides two implementations of it: NativeEngine, an
// actor-loop adapter around an injected native Driver grounded on the
// teacher's own Rasterizer actor (faster_raster.go), and FakeEngine, a
// self-contained pure-Go stand-in used in tests and in environments where
// the native driver isn't available.
package rasterizer

import (
	"context"

	"github.com/sigma-2026/pdf2img/internal/errs"
	"github.com/sigma-2026/pdf2img/internal/model"
)

// RenderedPage is the raw output of a page render: RGBA8888, row-major.
type RenderedPage struct {
	Pix      []byte
	Width    int
	Height   int
	RenderMs float64
}

// EncodedPage is the output of an image-codec encode step.
type EncodedPage struct {
	Bytes    []byte
	EncodeMs float64
}

// Engine is the Rasterizer contract of spec §4.3: render one page to raw
// RGBA pixels, then encode those pixels to a target image format. Multiple
// workers may call either method concurrently; an Engine must either be
// genuinely thread-safe or serialize internally while still respecting the
// pool's published parallelism.
type Engine interface {
	// PageCount reports the number of pages in input, opening/parsing it if
	// necessary.
	PageCount(ctx context.Context, input model.PdfInput) (int, error)
	// RenderPage rasterizes one page of input at the scale implied by
	// opts.TargetWidth/opts.MaxScale (spec §4.3's s = min(target_width /
	// native_width, max_scale)).
	RenderPage(ctx context.Context, input model.PdfInput, pageNum int, opts model.RenderOptions) (RenderedPage, error)
	// Encode converts a rendered page's raw pixels to opts.Format.
	Encode(ctx context.Context, page RenderedPage, opts model.RenderOptions) (EncodedPage, error)
	// Close releases any resources held by the engine.
	Close() error
}

// scaleFor computes spec §4.3's target-width scale factor.
func scaleFor(nativeWidth int, opts model.RenderOptions) float64 {
	if nativeWidth <= 0 || opts.TargetWidth <= 0 {
		return 1.0
	}
	s := float64(opts.TargetWidth) / float64(nativeWidth)
	if opts.MaxScale > 0 && s > opts.MaxScale {
		return opts.MaxScale
	}
	return s
}

func scaledDims(nativeWidth, nativeHeight int, s float64) (int, int) {
	w := int(float64(nativeWidth)*s + 0.5)
	h := int(float64(nativeHeight)*s + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

func validatePageNum(pageNum, total int) error {
	if pageNum < 1 || (total > 0 && pageNum > total) {
		return errs.ErrBadPage
	}
	return nil
}
