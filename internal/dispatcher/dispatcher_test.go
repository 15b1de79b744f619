package dispatcher

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigma-2026/pdf2img/internal/model"
	"github.com/sigma-2026/pdf2img/internal/rasterizer"
	"github.com/sigma-2026/pdf2img/internal/tracker"
	"github.com/sigma-2026/pdf2img/internal/workerpool"
)

func newTestDispatcher(t *testing.T, pageCount int) (*Dispatcher, *workerpool.Pool) {
	t.Helper()
	engine := rasterizer.NewFakeEngine(pageCount)
	pool := workerpool.New(4, 64, engine)
	t.Cleanup(func() { pool.Shutdown(time.Second) })
	return New(pool, 6, 4, nil), pool
}

func pngOpts() model.RenderOptions {
	opts := model.DefaultRenderOptions()
	opts.Format = model.FormatPNG
	return opts
}

func TestConvert_FirstN_SingleBatch(t *testing.T) {
	d, _ := newTestDispatcher(t, 20)
	res, err := d.Convert(context.Background(), model.NewBytesInput([]byte("pdf")), model.FirstN(3), pngOpts(), nil)
	require.NoError(t, err)
	assert.Equal(t, 20, res.NumPagesTotal)
	assert.Equal(t, 3, res.NumRendered)
	require.Len(t, res.Pages, 3)
	assert.Equal(t, []int{1, 2, 3}, pageNums(res.Pages))
}

func TestConvert_All_SplitsRemainingBatches(t *testing.T) {
	d, _ := newTestDispatcher(t, 20)
	res, err := d.Convert(context.Background(), model.NewBytesInput([]byte("pdf")), model.AllPages(), pngOpts(), nil)
	require.NoError(t, err)
	assert.Equal(t, 20, res.NumPagesTotal)
	assert.Equal(t, 20, res.NumRendered)
	require.Len(t, res.Pages, 20)
	assert.Equal(t, 1, res.Pages[0].PageNum)
	assert.Equal(t, 20, res.Pages[len(res.Pages)-1].PageNum)
	for i := 1; i < len(res.Pages); i++ {
		assert.Less(t, res.Pages[i-1].PageNum, res.Pages[i].PageNum, "pages must be strictly ascending with no duplicates")
	}
}

func TestConvert_All_SmallDocReturnsAfterFirstBatch(t *testing.T) {
	d, _ := newTestDispatcher(t, 4)
	res, err := d.Convert(context.Background(), model.NewBytesInput([]byte("pdf")), model.AllPages(), pngOpts(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.NumPagesTotal)
	assert.Equal(t, 4, res.NumRendered)
}

func TestConvert_Explicit_DropsOutOfRangePages(t *testing.T) {
	d, _ := newTestDispatcher(t, 5)
	res, err := d.Convert(context.Background(), model.NewBytesInput([]byte("pdf")), model.ExplicitPages([]int{2, 4, 99, 4, -1}), pngOpts(), nil)
	require.NoError(t, err)
	require.Len(t, res.Pages, 2)
	assert.Equal(t, []int{2, 4}, pageNums(res.Pages))
	assert.Equal(t, 2, res.NumRendered)
}

func TestConvert_EmitsFirstAndAllImagesReadyEvents(t *testing.T) {
	d, _ := newTestDispatcher(t, 20)
	tr := tracker.New(nil)
	_, err := d.Convert(context.Background(), model.NewBytesInput([]byte("pdf")), model.AllPages(), pngOpts(), tr)
	require.NoError(t, err)

	summary := tr.Finish(true, "")
	_, hasFirst := summary.EventOffsetMs[tracker.EventFirstImageReady]
	_, hasAll := summary.EventOffsetMs[tracker.EventAllImagesReady]
	assert.True(t, hasFirst)
	assert.True(t, hasAll)
}

func TestConvert_AllPagesFailingSurfacesError(t *testing.T) {
	engine := rasterizer.NewFakeEngine(3)
	pool := workerpool.New(2, 16, engine)
	t.Cleanup(func() { pool.Shutdown(time.Second) })
	d := New(pool, 6, 4, nil)

	// WebP has no in-process encoder (neither FakeEngine nor the stdlib
	// codec supports it), so every page fails at the encode step.
	opts := model.DefaultRenderOptions()
	opts.Format = model.FormatWebP

	_, err := d.Convert(context.Background(), model.NewBytesInput([]byte("pdf")), model.FirstN(3), opts, nil)
	assert.Error(t, err)
}

func TestConvert_CancellationPropagates(t *testing.T) {
	d, _ := newTestDispatcher(t, 500)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Convert(ctx, model.NewBytesInput([]byte("pdf")), model.AllPages(), pngOpts(), nil)
	assert.Error(t, err)
}

func TestConvert_URLInput_MaterializesViaRangeLoader(t *testing.T) {
	body := []byte("fake pdf bytes for range loader materialization test")
	srv := httptest.NewServer(rangeServerHandler(body))
	defer srv.Close()

	d, _ := newTestDispatcher(t, 2)
	res, err := d.Convert(context.Background(), model.NewURLInput(srv.URL), model.AllPages(), pngOpts(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NumPagesTotal)
	require.NotNil(t, res.StreamStats)
	assert.True(t, res.StreamStats.RequestCount > 0)
}

func pageNums(pages []model.PageResult) []int {
	out := make([]int, len(pages))
	for i, p := range pages {
		out[i] = p.PageNum
	}
	return out
}
