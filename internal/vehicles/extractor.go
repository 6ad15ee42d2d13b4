package vehicles

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"sjsage522/marketcrawler/helpers"
	"sjsage522/marketcrawler/internal/crawler"
	"sjsage522/marketcrawler/internal/listing"
)

// Extractor turns feed cards into records
type Extractor struct {
	selectors Selectors
	base      *url.URL
	now       func() time.Time
}

// NewExtractor creates an extractor resolving links against baseURL
func NewExtractor(selectors Selectors, baseURL string, now func() time.Time) (*Extractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	if now == nil {
		now = time.Now
	}
	return &Extractor{selectors: selectors, base: base, now: now}, nil
}

// ExtractDocument parses one feed page
func (e *Extractor) ExtractDocument(r io.Reader) ([]listing.Record, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse feed page: %w", err)
	}

	var records []listing.Record
	doc.Find(e.selectors.Card).Each(func(_ int, card *goquery.Selection) {
		if rec, ok := e.Extract(card); ok {
			records = append(records, rec)
		}
	})
	return records, nil
}

// Extract produces a record from one card. A card without a link to the
// listing yields ok=false; any other missing element becomes an empty field.
func (e *Extractor) Extract(card *goquery.Selection) (listing.Record, bool) {
	href, ok := card.Find(e.selectors.Link).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return listing.Record{}, false
	}
	productURL := helpers.CanonicalURL(e.base, href)
	id := helpers.LastPathSegment(productURL)
	if id == "" {
		return listing.Record{}, false
	}

	attrs := make(map[string]string, 4)
	for key, sel := range map[string]string{
		AttrModelDetails:   e.selectors.ModelDetails,
		AttrYear:           e.selectors.Year,
		AttrAgency:         e.selectors.Agency,
		AttrMonthlyPayment: e.selectors.MonthlyPayment,
	} {
		if v := text(card, sel); v != "" {
			attrs[key] = v
		}
	}
	if len(attrs) == 0 {
		attrs = nil
	}

	today := listing.Date(e.now())
	return listing.Record{
		ProductID:    id,
		Title:        text(card, e.selectors.Title),
		CurrentPrice: crawler.CleanPrice(text(card, e.selectors.Price)),
		ImageURL:     e.imageURL(card),
		ProductURL:   productURL,
		FirstSeen:    today,
		LastSeen:     today,
		Attributes:   attrs,
	}, true
}

func text(card *goquery.Selection, selector string) string {
	return strings.Join(strings.Fields(card.Find(selector).First().Text()), " ")
}

func (e *Extractor) imageURL(card *goquery.Selection) string {
	img := card.Find(e.selectors.Image).First()
	src := crawler.LargestCandidate(img.AttrOr("srcset", ""))
	if src == "" {
		src = strings.TrimSpace(img.AttrOr("src", ""))
	}
	if src == "" {
		return ""
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return e.base.ResolveReference(ref).String()
}
