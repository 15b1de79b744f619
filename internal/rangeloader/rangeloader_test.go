package rangeloader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigma-2026/pdf2img/internal/errs"
)

func rangeServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		rng := r.Header.Get("Range")
		if rng == "" {
			w.Header().Set("Content-Length", itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}
		start, end := mustParseRange(t, rng, len(body))
		w.Header().Set("Content-Range", "bytes "+itoa(start)+"-"+itoa(end)+"/"+itoa(len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
}

func noRangeServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
}

func TestFetchRange_SingleSmallChunk(t *testing.T) {
	body := make([]byte, 4096)
	for i := range body {
		body[i] = byte(i % 251)
	}
	srv := rangeServer(t, body)
	defer srv.Close()

	l := New(srv.URL, srv.Client(), DefaultConfig())
	got, err := l.FetchRange(context.Background(), 10, 109)
	require.NoError(t, err)
	assert.Equal(t, body[10:110], got)
}

func TestFetchRange_SplitsIntoSubRequests(t *testing.T) {
	body := make([]byte, 2*DefaultSmallChunkSize+500)
	for i := range body {
		body[i] = byte(i)
	}
	srv := rangeServer(t, body)
	defer srv.Close()

	cfg := DefaultConfig()
	l := New(srv.URL, srv.Client(), cfg)
	got, err := l.FetchRange(context.Background(), 0, int64(len(body)-1))
	require.NoError(t, err)
	assert.Equal(t, body, got)

	stats := l.Stats()
	assert.GreaterOrEqual(t, stats.RequestCount, int64(3))
	assert.False(t, stats.FullDownload)
}

func TestFetchRange_FallsBackToFullDownload(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog")
	srv := noRangeServer(t, body)
	defer srv.Close()

	l := New(srv.URL, srv.Client(), DefaultConfig())
	got, err := l.FetchRange(context.Background(), 4, 8)
	require.NoError(t, err)
	assert.Equal(t, body[4:9], got)
	assert.True(t, l.Stats().FullDownload)
}

func TestHead_ReturnsContentLength(t *testing.T) {
	body := make([]byte, 12345)
	srv := rangeServer(t, body)
	defer srv.Close()

	l := New(srv.URL, srv.Client(), DefaultConfig())
	n, err := l.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12345), n)
}

func TestFetchRange_ExhaustedRetriesFailsWithRangeFetchFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "" {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", "100")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RequestTimeout = 2 * time.Second
	l := New(srv.URL, srv.Client(), cfg)

	_, err := l.FetchRange(context.Background(), 0, 9)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RangeFetchFailed))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func mustParseRange(t *testing.T, header string, bodyLen int) (int, int) {
	t.Helper()
	var start, end int
	_, err := fmt.Sscanf(header, "bytes=%d-%d", &start, &end)
	require.NoError(t, err)
	if end >= bodyLen {
		end = bodyLen - 1
	}
	return start, end
}
