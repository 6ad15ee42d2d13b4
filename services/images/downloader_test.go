package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/marketcrawler/internal/listing"
	"sjsage522/marketcrawler/logger"
	"sjsage522/marketcrawler/pkg/errors"
)

func TestFileExt(t *testing.T) {
	tests := map[string]string{
		"https://img.yad2.co.il/a/b.PNG?w=400": ".png",
		"https://img.yad2.co.il/a/b.webp":      ".webp",
		"https://img.yad2.co.il/a/b":           ".jpg",
		"https://img.yad2.co.il/a/b.php":       ".jpg",
		"::::":                                 ".jpg",
	}
	for in, want := range tests {
		assert.Equal(t, want, FileExt(in), in)
	}
}

func TestDownloadAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "images")
	d := NewDownloader(dir, nil, logger.Nop())

	saved, err := d.DownloadAll(context.Background(), []listing.Record{
		{ProductID: "1", ImageURL: server.URL + "/a.png"},
		{ProductID: "2"},
		{ProductID: "3", ImageURL: server.URL + "/missing.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".png", filepath.Ext(entries[0].Name()))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
}

func TestDownloadCanceled(t *testing.T) {
	d := NewDownloader(t.TempDir(), nil, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.DownloadAll(ctx, []listing.Record{{ProductID: "1", ImageURL: "http://127.0.0.1:1/a.jpg"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownloadRateLimited(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	d := NewDownloader(t.TempDir(), nil, logger.Nop())

	_, err := d.Download(context.Background(), server.URL+"/a.jpg")
	assert.Equal(t, errors.ErrorTypeRateLimit, errors.TypeOf(err))

	saved, err := d.DownloadAll(context.Background(), []listing.Record{
		{ProductID: "1", ImageURL: server.URL + "/b.jpg"},
		{ProductID: "2", ImageURL: server.URL + "/c.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits), "the batch stops at the first rate limit")
}
