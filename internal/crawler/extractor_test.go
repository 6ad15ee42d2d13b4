package crawler

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC) }

func newTestExtractor(t *testing.T) *CardExtractor {
	e, err := NewCardExtractor(DefaultSelectors(), "https://market.yad2.co.il", fixedNow)
	require.NoError(t, err)
	return e
}

func firstCard(t *testing.T, html string) *goquery.Selection {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc.Find("div.card--product").First()
}

func TestExtractCard(t *testing.T) {
	e := newTestExtractor(t)
	card := firstCard(t, resultsHTML(cardHTML("abc123", "ספה תלת מושבית", "‏1,200 ₪", "כמו חדש", "איסוף עצמי")))

	rec, ok := e.Extract(card)
	require.True(t, ok)
	assert.Equal(t, "abc123", rec.ProductID)
	assert.Equal(t, "ספה תלת מושבית", rec.Title)
	assert.Equal(t, "1,200", rec.CurrentPrice)
	assert.Equal(t, "חיפה", rec.Location)
	assert.Equal(t, "https://img.yad2.co.il/abc123-l.jpg", rec.ImageURL)
	assert.Equal(t, "https://market.yad2.co.il/item/abc123", rec.ProductURL)
	assert.Equal(t, []string{"כמו חדש", "איסוף עצמי"}, rec.Tags)
	assert.Equal(t, "2024-01-02", rec.FirstSeen)
	assert.Equal(t, "2024-01-02", rec.LastSeen)
	assert.True(t, rec.Open())
}

func TestExtractCardWithoutTagsOrSrcset(t *testing.T) {
	e := newTestExtractor(t)
	html := `<div id="searchResults"><a href="https://market.yad2.co.il/item/9"><div class="card--product">
		<img class="card__media" src="/static/9.png"></div></a></div>`

	rec, ok := e.Extract(firstCard(t, html))
	require.True(t, ok)
	assert.Equal(t, "9", rec.ProductID)
	assert.Empty(t, rec.Tags)
	assert.Equal(t, "", rec.Title)
	assert.Equal(t, "", rec.CurrentPrice)
	assert.Equal(t, "https://market.yad2.co.il/static/9.png", rec.ImageURL)
}

func TestExtractSkipsSkeleton(t *testing.T) {
	e := newTestExtractor(t)
	_, ok := e.Extract(firstCard(t, resultsHTML(skeletonHTML)))
	assert.False(t, ok)
}

func TestExtractWithoutLinkIsEmpty(t *testing.T) {
	e := newTestExtractor(t)
	_, ok := e.Extract(firstCard(t, `<div class="card--product"><span class="price__current">5</span></div>`))
	assert.False(t, ok)
}

func TestExtractNeverPanics(t *testing.T) {
	e := newTestExtractor(t)

	assert.NotPanics(t, func() {
		_, ok := e.Extract(nil)
		assert.False(t, ok)

		_, ok = e.Extract(firstCard(t, ""))
		assert.False(t, ok)

		_, ok = e.Extract(firstCard(t, `<div class="card--product"><a href="::::"></a><img class="card__media" srcset=", ,"></div>`))
		assert.False(t, ok)
	})
}

func TestExtractDocument(t *testing.T) {
	e := newTestExtractor(t)

	records, found, err := e.ExtractDocument(resultsHTML(
		cardHTML("1", "a", "10"),
		skeletonHTML,
		cardHTML("2", "b", "20"),
	))
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].ProductID)
	assert.Equal(t, "2", records[1].ProductID)

	records, found, err = e.ExtractDocument(`<html><body><p>nothing here</p></body></html>`)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, records)
}

func TestNewCardExtractorRejectsRelativeBase(t *testing.T) {
	_, err := NewCardExtractor(DefaultSelectors(), "/relative", nil)
	assert.Error(t, err)
}

func TestLargestCandidate(t *testing.T) {
	tests := []struct {
		srcset string
		want   string
	}{
		{"a.jpg 320w, b.jpg 1024w, c.jpg 640w", "b.jpg"},
		{"a.jpg 1x, b.jpg 2x", "b.jpg"},
		{"a.jpg, b.jpg 2x", "b.jpg"},
		{"a.jpg 2x, b.jpg 100w", "b.jpg"},
		{"only.jpg", "only.jpg"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.srcset, func(t *testing.T) {
			assert.Equal(t, tt.want, LargestCandidate(tt.srcset))
		})
	}
}

func TestCleanPrice(t *testing.T) {
	assert.Equal(t, "1,200", CleanPrice(" ₪ 1,200 "))
	assert.Equal(t, "350", CleanPrice("‏350 ש\"ח"))
	assert.Equal(t, "99", CleanPrice("99 NIS"))
	assert.Equal(t, "", CleanPrice(""))
}
