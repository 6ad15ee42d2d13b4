package vehicles

import (
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedURL = "https://www.yad2.co.il/vehicles/cars"

var today = time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

func carCard(id, title, price string) string {
	return fmt.Sprintf(`<div class="feed-item-base_feedItemBox__5WVY1">
	<a class="feed-item-base_itemLink__wBfEL" href="/vehicles/item/%[1]s?opened-from=feed&component-type=main_feed">
		<img class="single-image_image__Iv6T9" src="https://img.yad2.co.il/Pic/%[1]s-s.jpeg"
			srcset="https://img.yad2.co.il/Pic/%[1]s-s.jpeg 1x, https://img.yad2.co.il/Pic/%[1]s-l.jpeg 2x">
		<span class="feed-item-info_heading__k5pVC">%[2]s</span>
		<span class="feed-item-info_marketingText__eNE4R">1.6 סטנדרט  אוט'</span>
		<span class="feed-item-info_yearAndHandBox___JLbc">2019 • יד 2</span>
		<span class="price_price__xQt90">%[3]s ₪</span>
	</a>
</div>`, id, title, price)
}

func feedPage(cards ...string) string {
	return `<html><body><main><div class="feed-list_feed__abc">` + strings.Join(cards, "") + `</div></main></body></html>`
}

func newTestExtractor(t *testing.T) *Extractor {
	e, err := NewExtractor(DefaultSelectors(), feedURL, func() time.Time { return today })
	require.NoError(t, err)
	return e
}

func TestExtractDocument(t *testing.T) {
	commercial := `<div class="feed-item-base_feedItemBox__5WVY1 commercial">
	<a class="feed-item-base_itemLink__wBfEL" href="https://www.yad2.co.il/vehicles/item/dealer9">
		<span class="feed-item-info_heading__k5pVC">קיה פיקנטו</span>
		<span class="commercial-item-left-side_agencyName__psfbp"> אוטו דיל </span>
		<span class="price_price__xQt90">54,900 ₪</span>
		<span class="monthly-payment_monthlyPaymentBox__9nxfH">החל מ-1,150 ₪ לחודש</span>
	</a>
</div>`
	noLink := `<div class="feed-item-base_feedItemBox__5WVY1"><span class="feed-item-info_heading__k5pVC">banner</span></div>`

	records, err := newTestExtractor(t).ExtractDocument(strings.NewReader(feedPage(carCard("abc123", "טויוטה קורולה", "89,000"), commercial, noLink)))
	require.NoError(t, err)
	require.Len(t, records, 2)

	car := records[0]
	assert.Equal(t, "abc123", car.ProductID)
	assert.Equal(t, "טויוטה קורולה", car.Title)
	assert.Equal(t, "89,000", car.CurrentPrice)
	assert.Equal(t, "https://www.yad2.co.il/vehicles/item/abc123", car.ProductURL)
	assert.Equal(t, "https://img.yad2.co.il/Pic/abc123-l.jpeg", car.ImageURL)
	assert.Equal(t, "2024-03-05", car.FirstSeen)
	assert.Equal(t, "2024-03-05", car.LastSeen)
	assert.Equal(t, map[string]string{
		AttrModelDetails: "1.6 סטנדרט אוט'",
		AttrYear:         "2019 • יד 2",
	}, car.Attributes)

	dealer := records[1]
	assert.Equal(t, "dealer9", dealer.ProductID)
	assert.Empty(t, dealer.ImageURL)
	assert.Equal(t, "אוטו דיל", dealer.Attributes[AttrAgency])
	assert.Equal(t, "החל מ-1,150 ₪ לחודש", dealer.Attributes[AttrMonthlyPayment])
}

func TestExtractDocumentWithoutCards(t *testing.T) {
	records, err := newTestExtractor(t).ExtractDocument(strings.NewReader("<html><body>אין תוצאות</body></html>"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNewExtractorRejectsRelativeBase(t *testing.T) {
	_, err := NewExtractor(DefaultSelectors(), "/vehicles/cars", nil)
	assert.Error(t, err)
}

func TestBuildFeedURL(t *testing.T) {
	tests := []struct {
		name    string
		filters [][2]string
		want    url.Values
	}{
		{
			name:    "no filters",
			filters: nil,
			want:    url.Values{"priceOnly": {"1"}, "page": {"2"}},
		},
		{
			name:    "both price bounds",
			filters: [][2]string{{"manufacturer", "35"}, {"max_price", "200000"}, {"min_price", "50000"}},
			want:    url.Values{"priceOnly": {"1"}, "page": {"2"}, "manufacturer": {"35"}, "price": {"50000-200000"}},
		},
		{
			name:    "open upper bound",
			filters: [][2]string{{"min_price", "50000"}, {"year", "2018-2024"}},
			want:    url.Values{"priceOnly": {"1"}, "page": {"2"}, "year": {"2018-2024"}, "price": {"50000--1"}},
		},
		{
			name:    "open lower bound and empty values",
			filters: [][2]string{{"max_price", "100000"}, {"model", ""}, {"min_price", ""}},
			want:    url.Values{"priceOnly": {"1"}, "page": {"2"}, "price": {"-1-100000"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := BuildFeedURL(feedURL, 2, tt.filters)
			require.NoError(t, err)

			u, err := url.Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, "/vehicles/cars", u.Path)
			assert.Equal(t, tt.want, u.Query())
		})
	}
}
