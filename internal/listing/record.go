package listing

import (
	"strings"
	"time"
)

// DateLayout is the on-disk format of every date column
const DateLayout = "2006-01-02"

// TagSeparator joins tags in the stored tags column
const TagSeparator = ", "

// Record is one observed marketplace item at a point in time.
// Dates are DateLayout strings so they sort lexically; ClosingDate is empty
// while the listing is open. Attributes holds feed specific columns such as
// a vehicle's year; it is nil for collection listings.
type Record struct {
	ProductID    string   `json:"product_id"`
	Title        string   `json:"title"`
	CurrentPrice string   `json:"current_price"`
	Location     string   `json:"location"`
	ImageURL     string   `json:"image_url"`
	ProductURL   string   `json:"product_url"`
	Tags         []string `json:"tags"`
	FirstSeen    string   `json:"first_seen_date"`
	LastSeen     string   `json:"last_seen_date"`
	ClosingDate  string   `json:"closing_date,omitempty"`

	Attributes map[string]string `json:"attributes,omitempty"`
}

// Open reports whether the listing has not been closed
func (r Record) Open() bool {
	return r.ClosingDate == ""
}

// TagString returns the tags joined for storage
func (r Record) TagString() string {
	return strings.Join(r.Tags, TagSeparator)
}

// SplitTags is the inverse of TagString
func SplitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// Date formats t as a record date
func Date(t time.Time) string {
	return t.Format(DateLayout)
}

// IDSet is a set of product ids
type IDSet map[string]struct{}

// NewIDSet builds a set from ids
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id
func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

// Has reports membership
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}
