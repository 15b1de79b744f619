// Package model holds the data types shared across the conversion pipeline:
// inputs, page selectors, render options, and per-page/per-request results.
package model

import (
	"sort"
)

// InputKind tags which case of PdfInput is populated.
type InputKind int

const (
	InputLocalPath InputKind = iota
	InputURL
	InputBytes
)

// PdfInput is the tagged-variant input to a conversion request. Exactly one
// of Path, URL, or Bytes is meaningful, selected by Kind. Immutable once
// built; workers only ever read it.
type PdfInput struct {
	Kind  InputKind
	Path  string
	URL   string
	Bytes []byte
}

func NewLocalPathInput(path string) PdfInput { return PdfInput{Kind: InputLocalPath, Path: path} }
func NewURLInput(url string) PdfInput        { return PdfInput{Kind: InputURL, URL: url} }
func NewBytesInput(b []byte) PdfInput        { return PdfInput{Kind: InputBytes, Bytes: b} }

// SelectorKind tags which case of PageSelector is populated.
type SelectorKind int

const (
	SelectAll SelectorKind = iota
	SelectFirstN
	SelectExplicit
)

// PageSelector picks which pages of a document to render.
type PageSelector struct {
	Kind     SelectorKind
	N        int   // meaningful for SelectFirstN
	Explicit []int // meaningful for SelectExplicit; normalized by NormalizeExplicit
}

func AllPages() PageSelector             { return PageSelector{Kind: SelectAll} }
func FirstN(n int) PageSelector          { return PageSelector{Kind: SelectFirstN, N: n} }
func ExplicitPages(pages []int) PageSelector {
	return PageSelector{Kind: SelectExplicit, Explicit: NormalizeExplicit(pages)}
}

// NormalizeExplicit drops non-positive page numbers, de-duplicates, and sorts
// ascending, per spec §3's PageSelector invariant.
func NormalizeExplicit(pages []int) []int {
	seen := make(map[int]struct{}, len(pages))
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if p <= 0 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Format is the target image codec.
type Format string

const (
	FormatWebP Format = "webp"
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// RenderOptions is an immutable per-request rendering configuration.
type RenderOptions struct {
	TargetWidth    int
	MaxScale       float64
	Format         Format
	Quality        int // 0-100, webp & jpeg
	PNGCompression int // 0-9
	WebPEffort     int // 0-6
	Fast           bool
}

// DefaultRenderOptions returns the spec §3 defaults.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		TargetWidth:    1280,
		MaxScale:       4.0,
		Format:         FormatWebP,
		Quality:        80,
		PNGCompression: 6,
		WebPEffort:     4,
	}
}

// OutputKind tags which case of a PageResult's output is populated.
type OutputKind int

const (
	OutputBytes OutputKind = iota
	OutputFilePath
	OutputSinkKey
)

// PageResult is the per-page outcome of a render.
type PageResult struct {
	PageNum       int
	Width         int
	Height        int
	Success       bool
	Output        OutputKind
	Bytes         []byte
	FilePath      string
	SinkKey       string
	SizeBytes     int
	RenderMs      float64
	EncodeMs      float64
	ErrorKind     string
	ErrorMsg      string
	// NumPagesTotal piggybacks the document's page count onto every
	// task's result, per spec §4.5's "the
	// first batch's response yields the page count, no separate metadata
	// call". Zero if the engine couldn't report it (e.g. the task itself
	// failed before opening the document).
	NumPagesTotal int
}

// StreamStats carries RangeLoader progress/timing for a single request.
type StreamStats struct {
	RequestCount  int
	TotalBytes    int64
	AvgRequestMs  float64
	FullDownload  bool
}

// ConvertResult is the aggregate outcome of a convert request.
type ConvertResult struct {
	NumPagesTotal int
	NumRendered   int
	Format        Format
	Pages         []PageResult // ascending by PageNum, no duplicates
	TotalMs       float64
	RenderMs      float64
	EncodeMs      float64
	StreamStats   *StreamStats
	WorkerCount   int
}

// SortPages sorts r.Pages ascending by PageNum in place, satisfying the
// ConvertResult ordering invariant of spec §3.
func (r *ConvertResult) SortPages() {
	sort.Slice(r.Pages, func(i, j int) bool { return r.Pages[i].PageNum < r.Pages[j].PageNum })
}
