// Command pdf2img-cli is a dev/ops tool that renders a PDF's pages to
// images without going through the HTTP service. Grounded on the teacher's
// render_tool/render_tool.go (kingpin flags, an output-file-per-invocation
// model), generalized from "one page, one file, log.Fatalf on any error"
// to spec §6's multi-page flag surface and explicit exit codes: 0 on
// success, 1 on a conversion failure, 2 on invalid usage.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/sigma-2026/pdf2img/internal/dispatcher"
	"github.com/sigma-2026/pdf2img/internal/model"
	"github.com/sigma-2026/pdf2img/internal/rasterizer"
	"github.com/sigma-2026/pdf2img/internal/sink"
	"github.com/sigma-2026/pdf2img/internal/workerpool"
)

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// parsePagesArg parses the -p flag's "all" or comma-separated page list.
func parsePagesArg(raw string) (model.PageSelector, error) {
	if raw == "all" {
		return model.AllPages(), nil
	}

	parts := strings.Split(raw, ",")
	pages := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return model.PageSelector{}, fmt.Errorf("invalid page number %q", p)
		}
		pages = append(pages, n)
	}
	if len(pages) == 0 {
		return model.PageSelector{}, fmt.Errorf("no pages specified")
	}
	return model.ExplicitPages(pages), nil
}

func formatFor(raw string) (model.Format, error) {
	switch strings.ToLower(raw) {
	case "png":
		return model.FormatPNG, nil
	case "jpeg", "jpg":
		return model.FormatJPEG, nil
	case "webp":
		return model.FormatWebP, nil
	default:
		return "", fmt.Errorf("unknown format %q (want webp, png, or jpg)", raw)
	}
}

func fail(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "pdf2img-cli: "+format+"\n", args...)
	os.Exit(code)
}

func main() {
	app := kingpin.New("pdf2img-cli", "Render PDF pages to images from the command line.")
	source := app.Arg("source", "PDF file path or URL").Required().String()
	outDir := app.Flag("out", "output directory").Default(".").Short('o').String()
	pagesRaw := app.Flag("pages", `pages to render: "all" or a comma-separated list`).Default("1").Short('p').String()
	width := app.Flag("width", "target width in pixels").Default("1280").Short('w').Int()
	quality := app.Flag("quality", "encode quality, 0-100").Default("80").Short('q').Int()
	formatRaw := app.Flag("format", "output format: webp, png, or jpg").Default("png").Short('f').String()
	fast := app.Flag("fast", "favor speed over fidelity").Bool()
	info := app.Flag("info", "print the page count and exit without writing any images").Bool()
	padID := app.Flag("pad-id", "prefix used to name output files").Default("page").String()

	if _, err := app.Parse(os.Args[1:]); err != nil {
		fail(2, "%s", err)
	}

	format, err := formatFor(*formatRaw)
	if err != nil {
		fail(2, "%s", err)
	}

	selector := model.FirstN(1)
	if !*info {
		selector, err = parsePagesArg(*pagesRaw)
		if err != nil {
			fail(2, "%s", err)
		}
	}

	var input model.PdfInput
	if looksLikeURL(*source) {
		input = model.NewURLInput(*source)
	} else {
		input = model.NewLocalPathInput(*source)
	}

	// No native Driver is wired in here: this tool is for local dev/ops
	// use, not a deployment artifact, and FakeEngine exercises the same
	// render -> encode -> dispatch path a real driver would.
	engine := rasterizer.NewFakeEngine(1)
	pool := workerpool.New(2, 8, engine)
	defer pool.Shutdown(5 * time.Second)
	disp := dispatcher.New(pool, 6, 4, http.DefaultClient)

	opts := model.DefaultRenderOptions()
	opts.TargetWidth = *width
	opts.Quality = *quality
	opts.Format = format
	opts.Fast = *fast

	ctx := context.Background()
	result, err := disp.Convert(ctx, input, selector, opts, nil)
	if err != nil {
		fail(1, "%s", err)
	}

	if *info {
		fmt.Printf("pages: %d\n", result.NumPagesTotal)
		os.Exit(0)
	}

	snk := sink.New(sink.Params{Kind: sink.KindLocalFile, OutputDir: *outDir, Prefix: *padID})
	failures := 0
	for i := range result.Pages {
		p := &result.Pages[i]
		if !p.Success {
			failures++
			fmt.Fprintf(os.Stderr, "pdf2img-cli: page %d: %s\n", p.PageNum, p.ErrorMsg)
			continue
		}
		if err := snk.Place(ctx, p.PageNum, p.Bytes, result.Format, p); err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "pdf2img-cli: page %d: %s\n", p.PageNum, err)
			continue
		}
		fmt.Println(p.FilePath)
	}

	if failures > 0 {
		os.Exit(1)
	}
	os.Exit(0)
}
