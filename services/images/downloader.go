package images

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"sjsage522/marketcrawler/helpers"
	"sjsage522/marketcrawler/internal/listing"
	"sjsage522/marketcrawler/internal/pacing"
	"sjsage522/marketcrawler/logger"
	"sjsage522/marketcrawler/pkg/errors"
)

const defaultExt = ".jpg"

var knownExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true, ".avif": true,
}

// Downloader saves listing images under a directory with random file names
type Downloader struct {
	dir   string
	pacer *pacing.Pacer
	fetch func(ctx context.Context, url string) ([]byte, error)
	log   *logger.Logger
}

// NewDownloader creates a downloader writing to dir
func NewDownloader(dir string, pacer *pacing.Pacer, log *logger.Logger) *Downloader {
	if pacer == nil {
		pacer = pacing.New(0)
	}
	return &Downloader{dir: dir, pacer: pacer, fetch: helpers.FetchSimply, log: log}
}

// FileExt returns the image extension of rawURL, or .jpg when unknown
func FileExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultExt
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if !knownExts[ext] {
		return defaultExt
	}
	return ext
}

// Download fetches one image and returns the written file path
func (d *Downloader) Download(ctx context.Context, imageURL string) (string, error) {
	if err := d.pacer.Wait(ctx); err != nil {
		return "", err
	}
	data, err := d.fetch(ctx, imageURL)
	d.pacer.Done()
	if err != nil {
		return "", helpers.ClassifyFetchError(imageURL, "download image", err)
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", errors.NewPersistence(d.dir, "create images dir", err)
	}
	name := filepath.Join(d.dir, uuid.NewString()+FileExt(imageURL))
	if err := renameio.WriteFile(name, data, 0o644); err != nil {
		return "", errors.NewPersistence(name, "write image", err)
	}
	return name, nil
}

// DownloadAll saves the image of every record that has one. Failures are
// logged and skipped, except a rate limit which ends the batch; the number
// of saved files is returned.
func (d *Downloader) DownloadAll(ctx context.Context, records []listing.Record) (int, error) {
	saved := 0
	for _, r := range records {
		if r.ImageURL == "" {
			continue
		}
		name, err := d.Download(ctx, r.ImageURL)
		if err != nil {
			if ctx.Err() != nil {
				return saved, ctx.Err()
			}
			if errors.TypeOf(err) == errors.ErrorTypeRateLimit {
				d.log.Warn().Err(err).Msg("Image host is rate limiting, skipping remaining images")
				return saved, nil
			}
			d.log.Warn().Err(err).Str("product_id", r.ProductID).Msg("Image download failed")
			continue
		}
		d.log.Debug().Str("product_id", r.ProductID).Str("file", name).Msg("Image saved")
		saved++
	}
	return saved, nil
}
