package crawler

import (
	"context"
	"fmt"
	"time"

	"sjsage522/marketcrawler/internal/listing"
	"sjsage522/marketcrawler/internal/pacing"
	"sjsage522/marketcrawler/logger"
	"sjsage522/marketcrawler/pkg/errors"
)

// WalkerConfig tunes one collection traversal
type WalkerConfig struct {
	WaitTimeout  time.Duration
	ScrollSettle time.Duration
	MaxScrolls   int
	// MaxPages caps pages per traversal; 0 means no cap
	MaxPages int
}

// Walker traverses a collection page by page. It owns no browser; the
// caller hands one in and tears it down.
type Walker struct {
	browser   Browser
	extractor *CardExtractor
	selectors Selectors
	pacer     *pacing.Pacer
	cfg       WalkerConfig
	log       *logger.Logger
}

// NewWalker creates a walker driving browser
func NewWalker(browser Browser, extractor *CardExtractor, selectors Selectors, pacer *pacing.Pacer, cfg WalkerConfig, log *logger.Logger) *Walker {
	if pacer == nil {
		pacer = pacing.New(0)
	}
	return &Walker{
		browser:   browser,
		extractor: extractor,
		selectors: selectors,
		pacer:     pacer,
		cfg:       cfg,
		log:       log,
	}
}

// WalkResult summarizes a traversal
type WalkResult struct {
	Pages    int
	Observed listing.IDSet
	Reason   StopReason
	// Err is the page failure that ended the traversal, if any
	Err error
}

// Completed reports whether the traversal ran to its natural end
func (r WalkResult) Completed() bool {
	return r.Reason == StopEmpty || r.Reason == StopPageCap
}

// Walk visits pages 1, 2, ... of a collection until a page comes back
// empty, fails, or the page cap is reached. Every page with records is
// handed to sink before the next one is requested; a sink error aborts the
// traversal and is returned.
func (w *Walker) Walk(ctx context.Context, collectionURL string, filters [][2]string, sink PageSink) (WalkResult, error) {
	result := WalkResult{Observed: make(listing.IDSet)}

	for page := 1; ; page++ {
		if w.cfg.MaxPages > 0 && page > w.cfg.MaxPages {
			result.Reason = StopPageCap
			return result, nil
		}
		if err := w.pacer.Wait(ctx); err != nil {
			result.Reason = StopCanceled
			return result, err
		}

		res := w.FetchPage(ctx, PageRequest{CollectionURL: collectionURL, Page: page, Filters: filters})
		w.pacer.Done()

		if res.Stop {
			result.Reason = res.Reason
			result.Err = res.Err
			if ctx.Err() != nil {
				result.Reason = StopCanceled
				return result, ctx.Err()
			}
			return result, nil
		}

		result.Pages++
		for _, r := range res.Records {
			result.Observed.Add(r.ProductID)
		}
		if err := sink(page, res.Records); err != nil {
			result.Reason = StopFailed
			return result, err
		}
	}
}

// FetchPage runs the page state machine for one results page. It never
// returns an error: failures surface as Stop with no records.
func (w *Walker) FetchPage(ctx context.Context, req PageRequest) (res PageResult) {
	log := w.log.WithFields(logger.Fields{"page": req.Page})
	state := StateStart

	defer func() {
		if r := recover(); r != nil {
			res = PageResult{
				Stop:   true,
				Reason: StopFailed,
				Final:  state,
				Err:    errors.NewRender(req.CollectionURL, "page walker panic", fmt.Errorf("%v", r)),
			}
		}
		if res.Err != nil {
			log.Error().Err(res.Err).Str("state", string(state)).Msg("Page traversal failed")
		}
	}()

	fail := func(err error) PageResult {
		return PageResult{Stop: true, Reason: StopFailed, Final: state, Err: err}
	}
	empty := func() PageResult {
		log.Info().Str("state", string(state)).Msg("No listings, traversal ends")
		return PageResult{Stop: true, Reason: StopEmpty, Final: StateEmpty}
	}

	var (
		records  []listing.Record
		needWait bool
	)

	for {
		log.Debug().Str("state", string(state)).Msg("Walker state")

		switch state {
		case StateStart:
			pageURL, err := BuildPageURL(req)
			if err != nil {
				return fail(errors.NewValidation(req.CollectionURL, err.Error()))
			}
			if _, err := w.browser.Render(ctx, pageURL); err != nil {
				return fail(errors.NewNetwork(pageURL, "render page", err))
			}
			state = StateLoaded

		case StateLoaded:
			if w.browser.DetectChallenge(ctx) {
				state = StateChallengeDetected
				continue
			}
			if !w.browser.WaitFor(ctx, w.selectors.Ready, w.cfg.WaitTimeout) {
				return empty()
			}
			state = StateContentReady

		case StateChallengeDetected:
			log.Warn().Bool("headless", w.browser.Headless()).Str("url", w.browser.CurrentURL()).Msg("Challenge detected")
			state = StateRecovering

		case StateRecovering:
			if err := w.browser.Recover(ctx); err != nil {
				return fail(errors.NewChallenge(w.browser.CurrentURL(), "recovery failed", err))
			}
			log.Info().Str("url", w.browser.CurrentURL()).Msg("Challenge cleared")
			needWait = true
			state = StateContentReady

		case StateContentReady:
			if needWait && !w.browser.WaitFor(ctx, w.selectors.Ready, w.cfg.WaitTimeout) {
				return empty()
			}
			state = StateScrolling

		case StateScrolling:
			if err := w.scroll(ctx, log); err != nil {
				return fail(errors.NewRender(w.browser.CurrentURL(), "scroll", err))
			}
			state = StateExtracted

		case StateExtracted:
			html, err := w.browser.Snapshot(ctx)
			if err != nil {
				return fail(errors.NewRender(w.browser.CurrentURL(), "snapshot", err))
			}
			var found bool
			records, found, err = w.extractor.ExtractDocument(html)
			if err != nil {
				return fail(errors.NewParsing(w.browser.CurrentURL(), "snapshot", err))
			}
			if !found || len(records) == 0 {
				return empty()
			}
			state = StateDone

		case StateDone:
			log.Info().Int("records", len(records)).Msg("Page extracted")
			return PageResult{Records: records, Final: StateDone}
		}
	}
}

// scroll loads more cards until a pass adds none or the budget runs out
func (w *Walker) scroll(ctx context.Context, log *logger.Logger) error {
	count, err := w.browser.CountElements(ctx, w.selectors.Card)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < w.cfg.MaxScrolls; attempt++ {
		if err := w.browser.ScrollToBottom(ctx); err != nil {
			return err
		}
		if err := pacing.Sleep(ctx, w.cfg.ScrollSettle); err != nil {
			return err
		}
		next, err := w.browser.CountElements(ctx, w.selectors.Card)
		if err != nil {
			return err
		}
		log.Debug().Int("attempt", attempt+1).Int("cards", next).Msg("Scrolled")
		if next <= count {
			return nil
		}
		count = next
	}
	return nil
}
