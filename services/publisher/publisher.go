package publisher

import (
	"context"
	"encoding/json"

	"sjsage522/marketcrawler/internal/listing"
)

// Publisher represents a service for publishing messages
type Publisher interface {
	// Publish publishes a message to a stream under key
	Publish(ctx context.Context, key string, message []byte) error

	// TrimStreams trims all streams to the configured maximum length
	TrimStreams(ctx context.Context) error

	// Close closes the publisher connection
	Close() error
}

// Listing is the payload announced for a newly seen listing
type Listing struct {
	Category string `json:"category"`
	listing.Record
}

// PublishListings announces every record under the category key. It stops
// at the first failure and reports how many were sent.
func PublishListings(ctx context.Context, p Publisher, category string, records []listing.Record) (int, error) {
	sent := 0
	for _, r := range records {
		data, err := json.Marshal(Listing{Category: category, Record: r})
		if err != nil {
			return sent, err
		}
		if err := p.Publish(ctx, category, data); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Nop discards everything. It stands in when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) TrimStreams(context.Context) error             { return nil }
func (Nop) Close() error                                  { return nil }
