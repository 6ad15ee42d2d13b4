package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"sjsage522/marketcrawler/helpers"
	"sjsage522/marketcrawler/internal/listing"
)

// CardExtractor turns one rendered listing card into a record. All markup
// knowledge lives in its Selectors.
type CardExtractor struct {
	selectors Selectors
	base      *url.URL
	now       func() time.Time
}

// NewCardExtractor creates an extractor resolving links against baseURL
func NewCardExtractor(selectors Selectors, baseURL string, now func() time.Time) (*CardExtractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	if now == nil {
		now = time.Now
	}
	return &CardExtractor{selectors: selectors, base: base, now: now}, nil
}

// ExtractDocument parses a page snapshot. found is false when the results
// container is missing.
func (e *CardExtractor) ExtractDocument(html string) (records []listing.Record, found bool, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false, fmt.Errorf("parse snapshot: %w", err)
	}

	container := doc.Find(e.selectors.Container)
	if container.Length() == 0 {
		return nil, false, nil
	}

	container.Find(e.selectors.Card).Each(func(_ int, card *goquery.Selection) {
		if r, ok := e.Extract(card); ok {
			records = append(records, r)
		}
	})
	return records, true, nil
}

// Extract produces a record from one card. It never panics: missing
// sub-elements become empty fields, and placeholder cards or cards without
// an identifiable link yield ok=false.
func (e *CardExtractor) Extract(card *goquery.Selection) (rec listing.Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rec, ok = listing.Record{}, false
		}
	}()

	if card == nil || card.Length() == 0 {
		return listing.Record{}, false
	}
	for _, class := range e.selectors.SkipClasses {
		if card.HasClass(class) {
			return listing.Record{}, false
		}
	}

	productURL := e.productURL(card)
	id := helpers.LastPathSegment(productURL)
	if id == "" {
		return listing.Record{}, false
	}

	today := listing.Date(e.now())
	return listing.Record{
		ProductID:    id,
		Title:        e.title(card),
		CurrentPrice: CleanPrice(card.Find(e.selectors.Price).First().Text()),
		Location:     strings.TrimSpace(card.Find(e.selectors.Location).First().Text()),
		ImageURL:     e.imageURL(card),
		ProductURL:   productURL,
		Tags:         e.tags(card),
		FirstSeen:    today,
		LastSeen:     today,
	}, true
}

func (e *CardExtractor) productURL(card *goquery.Selection) string {
	link := card.Closest(e.selectors.Link)
	href, exists := link.Attr("href")
	if !exists || strings.TrimSpace(href) == "" {
		href, exists = card.Find(e.selectors.Link + "[href]").First().Attr("href")
		if !exists {
			return ""
		}
	}
	return helpers.CanonicalURL(e.base, href)
}

func (e *CardExtractor) title(card *goquery.Selection) string {
	sel := card.NextAllFiltered(e.selectors.Title).First()
	if sel.Length() == 0 {
		sel = card.Find(e.selectors.Title).First()
	}
	return strings.TrimSpace(sel.Text())
}

func (e *CardExtractor) imageURL(card *goquery.Selection) string {
	img := card.Find(e.selectors.Image).First()
	if img.Length() == 0 {
		return ""
	}
	src := ""
	if srcset, ok := img.Attr("srcset"); ok {
		src = LargestCandidate(srcset)
	}
	if src == "" {
		src = strings.TrimSpace(img.AttrOr("src", ""))
	}
	if src == "" {
		src = strings.TrimSpace(img.AttrOr("data-src", ""))
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

func (e *CardExtractor) tags(card *goquery.Selection) []string {
	var tags []string
	card.Find(e.selectors.Tags).Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			tags = append(tags, t)
		}
	})
	return tags
}

// LargestCandidate picks the highest resolution url of a srcset attribute.
// Width descriptors rank above density ones; a bare url counts as 1x.
func LargestCandidate(srcset string) string {
	best, bestScore := "", -1.0
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(candidate)
		if len(fields) == 0 {
			continue
		}
		score := 0.001
		if len(fields) > 1 {
			d := fields[len(fields)-1]
			n, err := strconv.ParseFloat(d[:len(d)-1], 64)
			switch {
			case err != nil:
			case strings.HasSuffix(d, "w"):
				score = n
			case strings.HasSuffix(d, "x"):
				score = n / 1000
			}
		}
		if score > bestScore {
			best, bestScore = fields[0], score
		}
	}
	return best
}

var currencyMarks = []string{"₪", "ש\"ח", "ש״ח", "NIS"}

// CleanPrice strips currency symbols, whitespace and direction marks from a
// displayed price. The result stays a display string.
func CleanPrice(s string) string {
	for _, m := range currencyMarks {
		s = strings.ReplaceAll(s, m, "")
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.Is(unicode.Bidi_Control, r) {
			return -1
		}
		return r
	}, s)
}
