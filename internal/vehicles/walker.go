package vehicles

import (
	"context"
	"io"
	"time"

	"sjsage522/marketcrawler/helpers"
	"sjsage522/marketcrawler/internal/crawler"
	"sjsage522/marketcrawler/internal/listing"
	"sjsage522/marketcrawler/internal/pacing"
	"sjsage522/marketcrawler/logger"
	"sjsage522/marketcrawler/pkg/errors"
)

// Fetcher returns the UTF-8 markup at url
type Fetcher func(ctx context.Context, url string) (io.Reader, error)

// Config tunes a feed traversal
type Config struct {
	// MaxPages caps pages per traversal; 0 means no cap
	MaxPages int
	// WarmupURL is fetched once before the first page so the session
	// carries the site's cookies; empty skips it
	WarmupURL string
}

// Walker pages through the vehicles feed over plain HTTP. The feed is
// served rendered, so no browser is involved.
type Walker struct {
	fetch     Fetcher
	selectors Selectors
	pacer     *pacing.Pacer
	cfg       Config
	now       func() time.Time
	log       *logger.Logger
	warmed    bool
}

// NewWalker creates a feed walker. fetch defaults to
// helpers.FetchWithRandomHeaders.
func NewWalker(fetch Fetcher, selectors Selectors, pacer *pacing.Pacer, cfg Config, now func() time.Time, log *logger.Logger) *Walker {
	if fetch == nil {
		fetch = helpers.FetchWithRandomHeaders
	}
	if pacer == nil {
		pacer = pacing.New(0)
	}
	if now == nil {
		now = time.Now
	}
	return &Walker{fetch: fetch, selectors: selectors, pacer: pacer, cfg: cfg, now: now, log: log}
}

// Walk requests pages 1, 2, ... of the feed at feedURL until a page has no
// listing that this traversal has not already seen. The feed repeats its
// last page past the end, so a page of known listings ends it like an
// empty one. Every page is handed to sink before the next request; a sink
// error aborts the traversal and is returned.
func (w *Walker) Walk(ctx context.Context, feedURL string, filters [][2]string, sink crawler.PageSink) (crawler.WalkResult, error) {
	result := crawler.WalkResult{Observed: make(listing.IDSet)}

	extractor, err := NewExtractor(w.selectors, feedURL, w.now)
	if err != nil {
		result.Reason = crawler.StopFailed
		return result, errors.NewConfiguration("vehicles feed", err)
	}
	w.warmup(ctx)

	for page := 1; ; page++ {
		if w.cfg.MaxPages > 0 && page > w.cfg.MaxPages {
			result.Reason = crawler.StopPageCap
			return result, nil
		}

		log := w.log.WithFields(logger.Fields{"page": page})
		records, err := w.fetchPage(ctx, extractor, feedURL, page, filters)
		if err != nil {
			if ctx.Err() != nil {
				result.Reason = crawler.StopCanceled
				return result, ctx.Err()
			}
			log.Error().Err(err).Msg("Feed page failed")
			result.Reason = crawler.StopFailed
			result.Err = err
			return result, nil
		}

		unseen := 0
		for _, r := range records {
			if !result.Observed.Has(r.ProductID) {
				unseen++
			}
		}
		if unseen == 0 {
			log.Info().Int("records", len(records)).Msg("No new listings on page, feed finished")
			result.Reason = crawler.StopEmpty
			return result, nil
		}

		result.Pages++
		for _, r := range records {
			result.Observed.Add(r.ProductID)
		}
		log.Debug().Int("records", len(records)).Msg("Feed page extracted")
		if err := sink(page, records); err != nil {
			result.Reason = crawler.StopFailed
			return result, err
		}
	}
}

func (w *Walker) fetchPage(ctx context.Context, extractor *Extractor, feedURL string, page int, filters [][2]string) ([]listing.Record, error) {
	pageURL, err := BuildFeedURL(feedURL, page, filters)
	if err != nil {
		return nil, errors.NewConfiguration("vehicles feed", err)
	}

	if err := w.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := w.fetch(ctx, pageURL)
	w.pacer.Done()
	if err != nil {
		return nil, helpers.ClassifyFetchError(pageURL, "fetch feed page", err)
	}

	records, err := extractor.ExtractDocument(body)
	if err != nil {
		return nil, errors.NewParsing(pageURL, "extract feed page", err)
	}
	return records, nil
}

// warmup fetches WarmupURL once per walker. A failure is logged; the feed
// is still tried.
func (w *Walker) warmup(ctx context.Context) {
	if w.warmed || w.cfg.WarmupURL == "" {
		return
	}
	w.warmed = true

	if err := w.pacer.Wait(ctx); err != nil {
		return
	}
	_, err := w.fetch(ctx, w.cfg.WarmupURL)
	w.pacer.Done()
	if err != nil {
		w.log.Warn().Err(err).Str("url", w.cfg.WarmupURL).Msg("Session warmup failed")
	}
}
