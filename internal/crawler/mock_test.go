package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// mockBrowser serves canned snapshots keyed by the page query parameter
type mockBrowser struct {
	pages     map[int]string
	challenge bool
	headless  bool

	renderErr  error
	recoverErr error
	panicOn    string
	counts     []int

	rendered  []string
	recovered int
	scrolls   int
	current   string
}

var _ Browser = (*mockBrowser)(nil)

func newMockBrowser(pages map[int]string) *mockBrowser {
	return &mockBrowser{pages: pages, headless: true}
}

func (m *mockBrowser) page() int {
	u, err := url.Parse(m.current)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(u.Query().Get("page"))
	return n
}

func (m *mockBrowser) Render(ctx context.Context, u string) (string, error) {
	if m.panicOn == "render" {
		panic("driver crashed")
	}
	if m.renderErr != nil {
		return "", m.renderErr
	}
	m.rendered = append(m.rendered, u)
	m.current = u
	return m.pages[m.page()], nil
}

func (m *mockBrowser) WaitFor(ctx context.Context, selector string, timeout time.Duration) bool {
	return strings.Contains(m.pages[m.page()], "card--product")
}

func (m *mockBrowser) ScrollToBottom(ctx context.Context) error {
	m.scrolls++
	return nil
}

func (m *mockBrowser) CountElements(ctx context.Context, selector string) (int, error) {
	if len(m.counts) > 0 {
		n := m.counts[0]
		m.counts = m.counts[1:]
		return n, nil
	}
	return strings.Count(m.pages[m.page()], "card--product"), nil
}

func (m *mockBrowser) Snapshot(ctx context.Context) (string, error) {
	return m.pages[m.page()], nil
}

func (m *mockBrowser) DetectChallenge(ctx context.Context) bool {
	return m.challenge
}

func (m *mockBrowser) Recover(ctx context.Context) error {
	if m.recoverErr != nil {
		return m.recoverErr
	}
	m.recovered++
	m.headless = false
	m.challenge = false
	return nil
}

func (m *mockBrowser) Headless() bool { return m.headless }

func (m *mockBrowser) CurrentURL() string { return m.current }

// cardHTML renders one listing card the way the results page does
func cardHTML(id, title, price string, tags ...string) string {
	var tagHTML string
	if len(tags) > 0 {
		tagHTML = `<div class="boa-product-tags-container">`
		for _, t := range tags {
			tagHTML += fmt.Sprintf(`<span class="boa-product-tag"> %s </span>`, t)
		}
		tagHTML += `</div>`
	}
	return fmt.Sprintf(`
<a href="/item/%s?opened-from=collection">
  <div class="card--product">
    <div class="product-image-container">
      <img class="card__media" src="https://img.yad2.co.il/%s-s.jpg"
           srcset="https://img.yad2.co.il/%s-s.jpg 320w, https://img.yad2.co.il/%s-l.jpg 1024w">
    </div>
    <div class="price__default"><span class="price__current">%s</span></div>
    <p class="product-location"> חיפה </p>
    %s
  </div>
  <div class="card__title"> %s </div>
</a>`, id, id, id, id, price, tagHTML, title)
}

const skeletonHTML = `<div class="card--product boa-skeleton-card"></div>`

func resultsHTML(cards ...string) string {
	return `<html><body><div id="searchResults">` + strings.Join(cards, "\n") + `</div></body></html>`
}
