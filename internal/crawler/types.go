package crawler

import (
	"context"
	"time"

	"sjsage522/marketcrawler/internal/listing"
)

// Browser is the rendering capability the walker drives. Navigation is
// stateful: cookies and session survive between calls within one process.
type Browser interface {
	// Render navigates to url and returns the rendered markup
	Render(ctx context.Context, url string) (string, error)

	// WaitFor blocks until selector matches or timeout elapses. A timeout
	// returns false and is not an error.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) bool

	// ScrollToBottom scrolls the page to its current end
	ScrollToBottom(ctx context.Context) error

	// CountElements returns the number of nodes matching selector
	CountElements(ctx context.Context, selector string) (int, error)

	// Snapshot returns the current rendered markup
	Snapshot(ctx context.Context) (string, error)

	// DetectChallenge reports whether an interstitial is showing
	DetectChallenge(ctx context.Context) bool

	// Recover clears an interstitial: it restarts interactively when
	// headless, re-navigates to the last URL and blocks until the
	// interstitial is gone.
	Recover(ctx context.Context) error

	// Headless reports whether the browser runs without a window
	Headless() bool

	// CurrentURL returns the page the browser is on
	CurrentURL() string
}

// Selectors contains CSS selectors for the collection results markup
type Selectors struct {
	// Container holds every listing card
	Container string
	// Card matches one listing card inside Container
	Card string
	// Ready matches a fully rendered card; the walker waits for it
	Ready string
	// SkipClasses marks placeholder or disallowed cards
	SkipClasses []string

	Link     string
	Title    string
	Image    string
	Price    string
	Location string
	Tags     string
}

// DefaultSelectors returns the selectors of the current marketplace markup
func DefaultSelectors() Selectors {
	return Selectors{
		Container:   "div#searchResults",
		Card:        "div.card--product",
		Ready:       "div.card--product:not(.boa-skeleton-card)",
		SkipClasses: []string{"boa-skeleton-card"},
		Link:        "a",
		Title:       "div.card__title",
		Image:       "img.card__media",
		Price:       "div.price__default span.price__current",
		Location:    "p.product-location",
		Tags:        "div.boa-product-tags-container span.boa-product-tag",
	}
}

// State is a page walker state
type State string

const (
	StateStart             State = "START"
	StateLoaded            State = "LOADED"
	StateChallengeDetected State = "CHALLENGE_DETECTED"
	StateRecovering        State = "RECOVERING"
	StateContentReady      State = "CONTENT_READY"
	StateScrolling         State = "SCROLLING"
	StateExtracted         State = "EXTRACTED"
	StateDone              State = "DONE"
	StateEmpty             State = "EMPTY"
)

// StopReason explains why a traversal ended
type StopReason string

const (
	StopNone     StopReason = ""
	StopEmpty    StopReason = "empty"
	StopFailed   StopReason = "failed"
	StopPageCap  StopReason = "page_cap"
	StopCanceled StopReason = "canceled"
)

// PageRequest addresses one results page of a collection
type PageRequest struct {
	CollectionURL string
	Page          int
	Filters       [][2]string
}

// PageResult is the outcome of one page visit
type PageResult struct {
	Records []listing.Record
	Stop    bool
	Reason  StopReason
	Final   State
	Err     error
}

// PageSink receives every page's records as soon as they are extracted
type PageSink func(page int, records []listing.Record) error
