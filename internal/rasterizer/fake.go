package rasterizer

import (
	"context"
	"time"

	"github.com/sigma-2026/pdf2img/internal/errs"
	"github.com/sigma-2026/pdf2img/internal/model"
)

// FakeEngine is a pure-Go, self-contained Engine implementation: no native
// library, no CGO, no real PDF parsing. It synthesizes a deterministic
// checkerboard image per page so tests (and native-engine-unavailable
// environments) can exercise the full render→encode→dispatch pipeline
// without an actual rasterizer. It always reports nativeWidth/nativeHeight
// as fixed Letter-at-72dpi dimensions, matching the "unknown native size"
// case a real PDF page would normally report.
type FakeEngine struct {
	// PageCountFn lets tests control num_pages_total per input; nil means
	// every document has FakePageCount pages.
	PageCountFn   func(model.PdfInput) (int, error)
	FakePageCount int

	closed bool
}

const (
	fakeNativeWidth  = 612
	fakeNativeHeight = 792
)

// NewFakeEngine returns a FakeEngine reporting pageCount pages for every
// document.
func NewFakeEngine(pageCount int) *FakeEngine {
	if pageCount < 1 {
		pageCount = 1
	}
	return &FakeEngine{FakePageCount: pageCount}
}

func (f *FakeEngine) PageCount(_ context.Context, input model.PdfInput) (int, error) {
	if f.PageCountFn != nil {
		return f.PageCountFn(input)
	}
	return f.FakePageCount, nil
}

func (f *FakeEngine) RenderPage(ctx context.Context, input model.PdfInput, pageNum int, opts model.RenderOptions) (RenderedPage, error) {
	total, err := f.PageCount(ctx, input)
	if err != nil {
		return RenderedPage{}, err
	}
	if err := validatePageNum(pageNum, total); err != nil {
		return RenderedPage{}, err
	}

	t0 := time.Now()
	s := scaleFor(fakeNativeWidth, opts)
	w, h := scaledDims(fakeNativeWidth, fakeNativeHeight, s)

	pix := make([]byte, 4*w*h)
	const tile = 16
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := 4 * (y*w + x)
			if ((x/tile)+(y/tile))%2 == 0 {
				pix[i], pix[i+1], pix[i+2], pix[i+3] = 0xd0, 0xd0, 0xd0, 0xff
			} else {
				pix[i], pix[i+1], pix[i+2], pix[i+3] = byte(30 + pageNum*7%200), 0x60, 0x90, 0xff
			}
		}
	}

	return RenderedPage{Pix: pix, Width: w, Height: h, RenderMs: float64(time.Since(t0).Milliseconds())}, nil
}

// Encode supports PNG and JPEG via the standard library. WebP has no
// pack-grounded pure-Go encoder, so FakeEngine reports Unsupported for it
// rather than faking bytes that don't decode as WebP.
func (f *FakeEngine) Encode(_ context.Context, page RenderedPage, opts model.RenderOptions) (EncodedPage, error) {
	if opts.Format == model.FormatWebP {
		return EncodedPage{}, errs.New(errs.Unsupported, "FakeEngine cannot encode webp; use a native driver")
	}
	return encodeStdlib(page, opts)
}

func (f *FakeEngine) Close() error {
	f.closed = true
	return nil
}
