package store

import (
	"maps"
	"sort"

	"sjsage522/marketcrawler/internal/listing"
)

type rowKey struct {
	id       string
	lastSeen string
}

// Merge reconciles fresh observations with the existing records.
//
// An open resident row for a product is updated in place instead of gaining
// a duplicate; observations older than the resident row are ignored so
// last_seen never moves backwards. The update always takes the observed
// price, while an empty title, location, image, url, tag list or attribute
// in the observation keeps the resident value. Products without an open row get a new
// row whose first_seen is the earliest one ever recorded for that product.
// The result is deduplicated on (product_id, last_seen_date) keeping the
// later-arriving row and sorted by last_seen desc, product_id asc.
//
// Neither argument is modified.
func Merge(existing, fresh []listing.Record) []listing.Record {
	rows := make([]listing.Record, len(existing))
	copy(rows, existing)

	firstSeen := make(map[string]string)
	open := make(map[string]int)
	for i, r := range rows {
		if fs, ok := firstSeen[r.ProductID]; !ok || (r.FirstSeen != "" && r.FirstSeen < fs) {
			firstSeen[r.ProductID] = r.FirstSeen
		}
		if !r.Open() {
			continue
		}
		if j, ok := open[r.ProductID]; !ok || rows[j].LastSeen < r.LastSeen {
			open[r.ProductID] = i
		}
	}

	// rows touched by this batch arrive after untouched ones, so they win
	// the (product_id, last_seen_date) dedup
	touched := make(map[int]bool)
	var order []int

	for _, r := range fresh {
		if r.ProductID == "" {
			continue
		}

		if !r.Open() {
			rows = append(rows, r)
			order = append(order, len(rows)-1)
			continue
		}

		if i, ok := open[r.ProductID]; ok {
			if r.LastSeen < rows[i].LastSeen {
				continue
			}
			rows[i] = updateOpen(rows[i], r)
			if !touched[i] {
				touched[i] = true
				order = append(order, i)
			}
			continue
		}

		nr := r
		if nr.FirstSeen == "" {
			nr.FirstSeen = nr.LastSeen
		}
		if fs, ok := firstSeen[nr.ProductID]; ok && fs != "" && fs < nr.FirstSeen {
			nr.FirstSeen = fs
		}
		firstSeen[nr.ProductID] = nr.FirstSeen

		rows = append(rows, nr)
		i := len(rows) - 1
		open[nr.ProductID] = i
		touched[i] = true
		order = append(order, i)
	}

	ordered := make([]listing.Record, 0, len(rows))
	for i, r := range rows[:len(existing)] {
		if !touched[i] {
			ordered = append(ordered, r)
		}
	}
	for _, i := range order {
		ordered = append(ordered, rows[i])
	}

	return sortRecords(dedupe(ordered))
}

// updateOpen applies an observation to a resident open row. first_seen and
// closing_date are never taken from the observation.
func updateOpen(resident, obs listing.Record) listing.Record {
	out := resident
	out.CurrentPrice = obs.CurrentPrice
	out.LastSeen = obs.LastSeen
	if obs.Title != "" {
		out.Title = obs.Title
	}
	if obs.ImageURL != "" {
		out.ImageURL = obs.ImageURL
	}
	if obs.ProductURL != "" {
		out.ProductURL = obs.ProductURL
	}
	if obs.Location != "" {
		out.Location = obs.Location
	}
	if len(obs.Tags) > 0 {
		out.Tags = obs.Tags
	}
	if len(obs.Attributes) > 0 {
		// resident rows may share their map with the caller's slice
		out.Attributes = maps.Clone(resident.Attributes)
		if out.Attributes == nil {
			out.Attributes = make(map[string]string, len(obs.Attributes))
		}
		for k, v := range obs.Attributes {
			if v != "" {
				out.Attributes[k] = v
			}
		}
	}
	return out
}

// dedupe keeps the last row for every (product_id, last_seen_date)
func dedupe(rows []listing.Record) []listing.Record {
	last := make(map[rowKey]int, len(rows))
	for i, r := range rows {
		last[rowKey{r.ProductID, r.LastSeen}] = i
	}
	out := make([]listing.Record, 0, len(last))
	for i, r := range rows {
		if last[rowKey{r.ProductID, r.LastSeen}] == i {
			out = append(out, r)
		}
	}
	return out
}

func sortRecords(rows []listing.Record) []listing.Record {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].LastSeen != rows[j].LastSeen {
			return rows[i].LastSeen > rows[j].LastSeen
		}
		return rows[i].ProductID < rows[j].ProductID
	})
	return rows
}
