package crawler

import (
	"fmt"
	"net/url"
	"strconv"
)

// SortNewestFirst orders results by creation date, newest first
const SortNewestFirst = "creation_date"

// BuildPageURL returns the address of one results page of a collection.
// Empty filter values are left out.
func BuildPageURL(req PageRequest) (string, error) {
	u, err := url.Parse(req.CollectionURL)
	if err != nil {
		return "", fmt.Errorf("parse collection url: %w", err)
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(req.Page))
	q.Set("sortBy", SortNewestFirst)
	for _, kv := range req.Filters {
		if kv[1] != "" {
			q.Set(kv[0], kv[1])
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
