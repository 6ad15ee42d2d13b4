package crawler

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/marketcrawler/internal/listing"
	"sjsage522/marketcrawler/logger"
	perrors "sjsage522/marketcrawler/pkg/errors"
)

const collectionURL = "https://market.yad2.co.il/collections/furniture"

func newTestWalker(t *testing.T, b Browser, cfg WalkerConfig) *Walker {
	if cfg.MaxScrolls == 0 {
		cfg.MaxScrolls = 5
	}
	return NewWalker(b, newTestExtractor(t), DefaultSelectors(), nil, cfg, logger.Nop())
}

func TestBuildPageURL(t *testing.T) {
	raw, err := BuildPageURL(PageRequest{
		CollectionURL: collectionURL,
		Page:          3,
		Filters:       [][2]string{{"min_price", "200"}, {"max_price", "2000"}, {"filters", ""}},
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/collections/furniture", u.Path)
	assert.Equal(t, "3", u.Query().Get("page"))
	assert.Equal(t, "creation_date", u.Query().Get("sortBy"))
	assert.Equal(t, "200", u.Query().Get("min_price"))
	assert.Equal(t, "2000", u.Query().Get("max_price"))
	assert.False(t, u.Query().Has("filters"))
}

func TestFetchPageExtractsCards(t *testing.T) {
	b := newMockBrowser(map[int]string{1: resultsHTML(cardHTML("1", "a", "10"), cardHTML("2", "b", "20"))})
	w := newTestWalker(t, b, WalkerConfig{})

	res := w.FetchPage(context.Background(), PageRequest{CollectionURL: collectionURL, Page: 1})

	assert.False(t, res.Stop)
	assert.Equal(t, StateDone, res.Final)
	assert.Len(t, res.Records, 2)
	assert.NoError(t, res.Err)
}

func TestFetchPageWaitTimeoutStops(t *testing.T) {
	b := newMockBrowser(map[int]string{})
	w := newTestWalker(t, b, WalkerConfig{})

	res := w.FetchPage(context.Background(), PageRequest{CollectionURL: collectionURL, Page: 1})

	assert.True(t, res.Stop)
	assert.Empty(t, res.Records)
	assert.Equal(t, StopEmpty, res.Reason)
	assert.Equal(t, StateEmpty, res.Final)
}

func TestFetchPageOnlySkeletonsIsEmpty(t *testing.T) {
	// WaitFor succeeds on the skeleton markup but no card survives extraction
	b := newMockBrowser(map[int]string{1: resultsHTML(skeletonHTML, skeletonHTML)})
	w := newTestWalker(t, b, WalkerConfig{})

	res := w.FetchPage(context.Background(), PageRequest{CollectionURL: collectionURL, Page: 1})

	assert.True(t, res.Stop)
	assert.Equal(t, StopEmpty, res.Reason)
}

func TestFetchPageChallengeRecovery(t *testing.T) {
	b := newMockBrowser(map[int]string{1: resultsHTML(cardHTML("1", "a", "10"))})
	b.challenge = true
	w := newTestWalker(t, b, WalkerConfig{})

	res := w.FetchPage(context.Background(), PageRequest{CollectionURL: collectionURL, Page: 1})

	assert.Equal(t, 1, b.recovered)
	assert.False(t, b.Headless(), "recovery switches to interactive mode")
	assert.Len(t, b.rendered, 1)
	assert.Contains(t, b.CurrentURL(), "page=1", "traversal resumes on the same url")
	assert.False(t, res.Stop)
	assert.Len(t, res.Records, 1)
}

func TestFetchPageRecoveryFailure(t *testing.T) {
	b := newMockBrowser(map[int]string{1: resultsHTML(cardHTML("1", "a", "10"))})
	b.challenge = true
	b.recoverErr = errors.New("operator gave up")
	w := newTestWalker(t, b, WalkerConfig{})

	res := w.FetchPage(context.Background(), PageRequest{CollectionURL: collectionURL, Page: 1})

	assert.True(t, res.Stop)
	assert.Empty(t, res.Records)
	assert.Equal(t, StopFailed, res.Reason)
	assert.Equal(t, perrors.ErrorTypeChallenge, perrors.TypeOf(res.Err))
}

func TestFetchPageRenderErrorStops(t *testing.T) {
	b := newMockBrowser(nil)
	b.renderErr = errors.New("net::ERR_CONNECTION_RESET")
	w := newTestWalker(t, b, WalkerConfig{})

	res := w.FetchPage(context.Background(), PageRequest{CollectionURL: collectionURL, Page: 1})

	assert.True(t, res.Stop)
	assert.Empty(t, res.Records)
	assert.Equal(t, perrors.ErrorTypeNetwork, perrors.TypeOf(res.Err))
}

func TestFetchPageRecoversFromPanic(t *testing.T) {
	b := newMockBrowser(nil)
	b.panicOn = "render"
	w := newTestWalker(t, b, WalkerConfig{})

	var res PageResult
	assert.NotPanics(t, func() {
		res = w.FetchPage(context.Background(), PageRequest{CollectionURL: collectionURL, Page: 1})
	})
	assert.True(t, res.Stop)
	assert.Empty(t, res.Records)
	assert.Equal(t, StopFailed, res.Reason)
}

func TestScrollStopsWhenNoGrowth(t *testing.T) {
	b := newMockBrowser(map[int]string{1: resultsHTML(cardHTML("1", "a", "10"))})
	b.counts = []int{10, 20, 30, 30}
	w := newTestWalker(t, b, WalkerConfig{MaxScrolls: 10})

	res := w.FetchPage(context.Background(), PageRequest{CollectionURL: collectionURL, Page: 1})

	assert.False(t, res.Stop)
	assert.Equal(t, 3, b.scrolls)
}

func TestScrollBudget(t *testing.T) {
	b := newMockBrowser(map[int]string{1: resultsHTML(cardHTML("1", "a", "10"))})
	b.counts = []int{1, 2, 3, 4, 5, 6, 7, 8}
	w := newTestWalker(t, b, WalkerConfig{MaxScrolls: 2})

	w.FetchPage(context.Background(), PageRequest{CollectionURL: collectionURL, Page: 1})

	assert.Equal(t, 2, b.scrolls)
}

func TestWalkCheckpointsEveryPage(t *testing.T) {
	b := newMockBrowser(map[int]string{
		1: resultsHTML(cardHTML("1", "a", "10"), cardHTML("2", "b", "20")),
		2: resultsHTML(cardHTML("3", "c", "30")),
	})
	w := newTestWalker(t, b, WalkerConfig{})

	var pages []int
	var got []listing.Record
	res, err := w.Walk(context.Background(), collectionURL, nil, func(page int, records []listing.Record) error {
		pages = append(pages, page)
		got = append(got, records...)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, pages)
	assert.Len(t, got, 3)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, StopEmpty, res.Reason)
	assert.True(t, res.Completed())
	assert.Equal(t, listing.NewIDSet("1", "2", "3"), res.Observed)
	assert.Len(t, b.rendered, 3)
}

func TestWalkPageCap(t *testing.T) {
	b := newMockBrowser(map[int]string{
		1: resultsHTML(cardHTML("1", "a", "10")),
		2: resultsHTML(cardHTML("2", "b", "20")),
	})
	w := newTestWalker(t, b, WalkerConfig{MaxPages: 1})

	res, err := w.Walk(context.Background(), collectionURL, nil, func(int, []listing.Record) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, StopPageCap, res.Reason)
	assert.True(t, res.Completed())
}

func TestWalkFailedPageIsNotCompleted(t *testing.T) {
	b := newMockBrowser(nil)
	b.renderErr = errors.New("boom")
	w := newTestWalker(t, b, WalkerConfig{})

	res, err := w.Walk(context.Background(), collectionURL, nil, func(int, []listing.Record) error { return nil })

	require.NoError(t, err)
	assert.False(t, res.Completed())
	assert.Equal(t, StopFailed, res.Reason)
	assert.Error(t, res.Err)
}

func TestWalkSinkErrorAborts(t *testing.T) {
	b := newMockBrowser(map[int]string{
		1: resultsHTML(cardHTML("1", "a", "10")),
		2: resultsHTML(cardHTML("2", "b", "20")),
	})
	w := newTestWalker(t, b, WalkerConfig{})

	_, err := w.Walk(context.Background(), collectionURL, nil, func(int, []listing.Record) error {
		return errors.New("disk full")
	})

	assert.EqualError(t, err, "disk full")
	assert.Len(t, b.rendered, 1)
}

func TestWalkCanceled(t *testing.T) {
	b := newMockBrowser(map[int]string{1: resultsHTML(cardHTML("1", "a", "10"))})
	w := newTestWalker(t, b, WalkerConfig{ScrollSettle: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := w.Walk(ctx, collectionURL, nil, func(int, []listing.Record) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopCanceled, res.Reason)
}
