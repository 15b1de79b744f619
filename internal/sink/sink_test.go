package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigma-2026/pdf2img/internal/model"
)

func TestPlace_Bytes(t *testing.T) {
	s := New(Params{Kind: KindBytes})
	var res model.PageResult
	err := s.Place(context.Background(), 1, []byte("hello"), model.FormatPNG, &res)
	require.NoError(t, err)
	assert.Equal(t, model.OutputBytes, res.Output)
	assert.Equal(t, []byte("hello"), res.Bytes)
}

func TestPlace_LocalFile(t *testing.T) {
	dir := t.TempDir()
	s := New(Params{Kind: KindLocalFile, OutputDir: dir, Prefix: "padABC"})
	var res model.PageResult
	err := s.Place(context.Background(), 3, []byte("page three"), model.FormatPNG, &res)
	require.NoError(t, err)
	assert.Equal(t, model.OutputFilePath, res.Output)
	assert.Equal(t, filepath.Join(dir, "padABC_3.png"), res.FilePath)

	got, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "page three", string(got))
}

func TestPlace_LocalFile_JPEGExtension(t *testing.T) {
	dir := t.TempDir()
	s := New(Params{Kind: KindLocalFile, OutputDir: dir, Prefix: "padABC"})
	var res model.PageResult
	err := s.Place(context.Background(), 1, []byte("x"), model.FormatJPEG, &res)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "padABC_1.jpg"), res.FilePath)
}

type fakeUploader struct {
	uploaded map[string][]byte
}

func (f *fakeUploader) Upload(_ context.Context, key string, data []byte) error {
	if f.uploaded == nil {
		f.uploaded = make(map[string][]byte)
	}
	f.uploaded[key] = data
	return nil
}

func TestPlace_ObjectStore(t *testing.T) {
	up := &fakeUploader{}
	s := New(Params{Kind: KindObjectStore, Prefix: "docs/abc", Uploader: up})
	var res model.PageResult
	err := s.Place(context.Background(), 2, []byte("data"), model.FormatWebP, &res)
	require.NoError(t, err)
	assert.Equal(t, model.OutputSinkKey, res.Output)
	assert.Equal(t, "docs/abc/2.webp", res.SinkKey)
	assert.Equal(t, []byte("data"), up.uploaded["docs/abc/2.webp"])
}

func TestPlace_ObjectStore_NoUploaderFails(t *testing.T) {
	s := New(Params{Kind: KindObjectStore})
	var res model.PageResult
	err := s.Place(context.Background(), 1, []byte("data"), model.FormatPNG, &res)
	assert.Error(t, err)
}
