package rasterizer

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"time"

	"github.com/sigma-2026/pdf2img/internal/errs"
	"github.com/sigma-2026/pdf2img/internal/model"
)

// encodeStdlib encodes an RGBA page to PNG or JPEG via the standard
// library's image codecs. WebP has no standard-library encoder and no
// pack-grounded third-party one either; it is the native Driver's
// responsibility to produce WebP bytes directly (see native.go), so
// callers relying on encodeStdlib for FormatWebP get Unsupported.
func encodeStdlib(page RenderedPage, opts model.RenderOptions) (EncodedPage, error) {
	t0 := time.Now()

	img := &image.RGBA{
		Pix:    page.Pix,
		Stride: 4 * page.Width,
		Rect:   image.Rect(0, 0, page.Width, page.Height),
	}

	var buf bytes.Buffer
	switch opts.Format {
	case model.FormatPNG:
		enc := &png.Encoder{CompressionLevel: pngCompressionLevel(opts.PNGCompression)}
		if err := enc.Encode(&buf, img); err != nil {
			return EncodedPage{}, errs.Wrap(errs.EncodeFailed, "png encode", err)
		}
	case model.FormatJPEG:
		quality := opts.Quality
		if quality <= 0 || quality > 100 {
			quality = 80
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return EncodedPage{}, errs.Wrap(errs.EncodeFailed, "jpeg encode", err)
		}
	default:
		return EncodedPage{}, errs.New(errs.Unsupported, "format "+string(opts.Format)+" requires a native encoder")
	}

	return EncodedPage{Bytes: buf.Bytes(), EncodeMs: float64(time.Since(t0).Milliseconds())}, nil
}

func pngCompressionLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.DefaultCompression
	case level <= 2:
		return png.BestSpeed
	case level >= 8:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}
