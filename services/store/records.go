package store

import (
	"slices"

	"sjsage522/marketcrawler/internal/listing"
)

// Column names of the listing checkpoint
const (
	ColProductID    = "product_id"
	ColTitle        = "title"
	ColCurrentPrice = "current_price"
	ColLocation     = "location"
	ColImageURL     = "image_url"
	ColProductURL   = "product_url"
	ColTags         = "tags"
	ColFirstSeen    = "first_seen_date"
	ColLastSeen     = "last_seen_date"
	ColClosingDate  = "closing_date"
)

// Header is the fixed column order of a listing checkpoint
var Header = []string{
	ColProductID,
	ColTitle,
	ColCurrentPrice,
	ColLocation,
	ColImageURL,
	ColProductURL,
	ColTags,
	ColFirstSeen,
	ColLastSeen,
	ColClosingDate,
}

// recordsFromTable converts rows to records, dropping rows without an id.
// Columns outside Header are read into Attributes.
func recordsFromTable(t *Table) []listing.Record {
	var extra []string
	for _, col := range t.Header {
		if !slices.Contains(Header, col) {
			extra = append(extra, col)
		}
	}

	records := make([]listing.Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		if row[ColProductID] == "" {
			continue
		}
		r := listing.Record{
			ProductID:    row[ColProductID],
			Title:        row[ColTitle],
			CurrentPrice: row[ColCurrentPrice],
			Location:     row[ColLocation],
			ImageURL:     row[ColImageURL],
			ProductURL:   row[ColProductURL],
			Tags:         listing.SplitTags(row[ColTags]),
			FirstSeen:    row[ColFirstSeen],
			LastSeen:     row[ColLastSeen],
			ClosingDate:  row[ColClosingDate],
		}
		for _, col := range extra {
			if v := row[col]; v != "" {
				if r.Attributes == nil {
					r.Attributes = make(map[string]string)
				}
				r.Attributes[col] = v
			}
		}
		records = append(records, r)
	}
	return records
}

// tableFromRecords lays out Header followed by the sorted union of
// attribute keys.
func tableFromRecords(records []listing.Record) *Table {
	t := &Table{Header: slices.Clone(Header), Rows: make([]map[string]string, 0, len(records))}
	for _, r := range records {
		for k := range r.Attributes {
			t.EnsureColumns(k)
		}
	}
	slices.Sort(t.Header[len(Header):])

	for _, r := range records {
		row := map[string]string{
			ColProductID:    r.ProductID,
			ColTitle:        r.Title,
			ColCurrentPrice: r.CurrentPrice,
			ColLocation:     r.Location,
			ColImageURL:     r.ImageURL,
			ColProductURL:   r.ProductURL,
			ColTags:         r.TagString(),
			ColFirstSeen:    r.FirstSeen,
			ColLastSeen:     r.LastSeen,
			ColClosingDate:  r.ClosingDate,
		}
		for k, v := range r.Attributes {
			row[k] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Load reads a listing checkpoint. A missing file is an empty store.
func Load(path string) ([]listing.Record, error) {
	t, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	return recordsFromTable(t), nil
}

// Persist atomically replaces path with records
func Persist(records []listing.Record, path string) error {
	return WriteTable(path, tableFromRecords(records))
}
