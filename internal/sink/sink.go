// Package sink implements the output policy of spec §4.5 step 5 / §6: a
// rendered page's encoded bytes are written to a local file, handed off to
// an object-store uploader, or kept as an in-memory buffer, depending on
// the request's sink_kind. Grounded on the teacher's outputWriter pattern
// (render_tool/render_tool.go: "open a file, hand a writer to the encode
// step"), generalized from "always a local file" to the three-way policy
// spec §6 names. The object-store case is contract-only (spec §1 treats
// cloud storage as an external collaborator): Uploader is injected, no SDK
// is wired.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigma-2026/pdf2img/internal/errs"
	"github.com/sigma-2026/pdf2img/internal/model"
)

// Uploader is the abstract object-store collaborator (spec §1 Non-goals:
// cloud-object-storage upload backends are external).
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// Kind selects a sink policy.
type Kind int

const (
	KindBytes Kind = iota
	KindLocalFile
	KindObjectStore
)

// Params configures a Sink.
type Params struct {
	Kind      Kind
	OutputDir string // for KindLocalFile
	Prefix    string // globalPadId, spec §6: "<prefix>_<pageNum>.<ext>" / "<prefix>/<pageNum>.<ext>"
	Uploader  Uploader // for KindObjectStore
}

// extFor maps a render format to the file extension spec §6's naming
// scheme expects ("webp", "png", "jpg" -- not "jpeg").
func extFor(f model.Format) string {
	if f == model.FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// Sink writes one page's encoded bytes according to Params, returning the
// PageResult fields that describe where the bytes ended up.
type Sink struct {
	params Params
}

// New constructs a Sink.
func New(params Params) *Sink {
	return &Sink{params: params}
}

// Place writes data for pageNum (encoded as format) and populates the
// Output/Bytes/FilePath/SinkKey fields of result accordingly.
func (s *Sink) Place(ctx context.Context, pageNum int, data []byte, format model.Format, result *model.PageResult) error {
	ext := extFor(format)

	switch s.params.Kind {
	case KindBytes:
		result.Output = model.OutputBytes
		result.Bytes = data
		return nil

	case KindLocalFile:
		if s.params.OutputDir == "" {
			return errs.New(errs.InvalidInput, "sink: local file policy requires OutputDir")
		}
		if err := os.MkdirAll(s.params.OutputDir, 0o755); err != nil {
			return errs.Wrap(errs.Unknown, "sink: creating output dir", err)
		}
		name := fmt.Sprintf("%s_%d.%s", s.params.Prefix, pageNum, ext)
		path := filepath.Join(s.params.OutputDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return errs.Wrap(errs.Unknown, "sink: writing page file", err)
		}
		result.Output = model.OutputFilePath
		result.FilePath = path
		return nil

	case KindObjectStore:
		if s.params.Uploader == nil {
			return errs.New(errs.InvalidInput, "sink: object store policy requires an Uploader")
		}
		key := fmt.Sprintf("%s/%d.%s", s.params.Prefix, pageNum, ext)
		if err := s.params.Uploader.Upload(ctx, key, data); err != nil {
			return errs.Wrap(errs.Unknown, "sink: uploading page", err)
		}
		result.Output = model.OutputSinkKey
		result.SinkKey = key
		return nil

	default:
		return errs.New(errs.InvalidInput, "sink: unknown sink kind")
	}
}
