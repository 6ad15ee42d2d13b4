package vehicles

import (
	"fmt"
	"net/url"
	"strconv"

	"sjsage522/marketcrawler/config"
)

// openBound stands for a missing end of the price range
const openBound = "-1"

// BuildFeedURL returns one page of the vehicles feed at feedURL. min_price
// and max_price fold into a single price range; every other non-empty
// filter is passed through as is. Listings without a price are excluded.
func BuildFeedURL(feedURL string, page int, filters [][2]string) (string, error) {
	u, err := url.Parse(feedURL)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}

	q := url.Values{}
	q.Set("priceOnly", "1")
	q.Set("page", strconv.Itoa(page))

	minPrice, maxPrice := openBound, openBound
	for _, kv := range filters {
		if kv[1] == "" {
			continue
		}
		switch kv[0] {
		case config.FilterMinPrice:
			minPrice = kv[1]
		case config.FilterMaxPrice:
			maxPrice = kv[1]
		default:
			q.Set(kv[0], kv[1])
		}
	}
	if minPrice != openBound || maxPrice != openBound {
		q.Set("price", minPrice+"-"+maxPrice)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}
