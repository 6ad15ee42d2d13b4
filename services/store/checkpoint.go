package store

import (
	"encoding/json"
	"os"

	"github.com/google/renameio/v2"

	"sjsage522/marketcrawler/internal/listing"
	"sjsage522/marketcrawler/logger"
	"sjsage522/marketcrawler/pkg/errors"
)

// Checkpoint is one job's persisted record set. It is both the job's output
// and the state a later run resumes from.
type Checkpoint struct {
	path       string
	records    []listing.Record
	openAtLoad listing.IDSet
	log        *logger.Logger
}

// Open loads the checkpoint at path, or starts an empty one
func Open(path string, log *logger.Logger) (*Checkpoint, error) {
	records, err := Load(path)
	if err != nil {
		return nil, errors.NewPersistence(path, "load checkpoint", err)
	}

	c := &Checkpoint{
		path:       path,
		records:    records,
		openAtLoad: openIDs(records),
		log:        log,
	}
	c.log.Debug().
		Str("path", path).
		Int("rows", len(records)).
		Int("open", len(c.openAtLoad)).
		Msg("Checkpoint loaded")
	return c, nil
}

// Path returns the checkpoint file
func (c *Checkpoint) Path() string {
	return c.path
}

// Records returns the current record set
func (c *Checkpoint) Records() []listing.Record {
	return c.records
}

// OpenAtLoad returns the ids that were open when the checkpoint was loaded
func (c *Checkpoint) OpenAtLoad() listing.IDSet {
	return c.openAtLoad
}

// Apply merges fresh observations and persists the result. It returns the
// records for products that had no open row before this call. On a persist
// error the in-memory state is left unchanged.
func (c *Checkpoint) Apply(fresh []listing.Record) ([]listing.Record, error) {
	before := openIDs(c.records)
	merged := Merge(c.records, fresh)

	if err := Persist(merged, c.path); err != nil {
		return nil, errors.NewPersistence(c.path, "persist checkpoint", err)
	}
	c.records = merged

	var added []listing.Record
	seen := make(listing.IDSet)
	for _, r := range merged {
		if r.Open() && !before.Has(r.ProductID) && !seen.Has(r.ProductID) {
			seen.Add(r.ProductID)
			added = append(added, r)
		}
	}

	c.log.Debug().
		Int("fresh", len(fresh)).
		Int("added", len(added)).
		Int("rows", len(merged)).
		Msg("Checkpoint saved")
	return added, nil
}

// Close stamps date as the closing date of the given open listings and
// persists the result
func (c *Checkpoint) Close(ids []string, date string) error {
	if len(ids) == 0 {
		return nil
	}
	targets := listing.NewIDSet(ids...)

	updated := make([]listing.Record, len(c.records))
	copy(updated, c.records)
	for i, r := range updated {
		if r.Open() && targets.Has(r.ProductID) {
			updated[i].ClosingDate = date
		}
	}

	if err := Persist(updated, c.path); err != nil {
		return errors.NewPersistence(c.path, "persist closeout", err)
	}
	c.records = updated

	c.log.Info().Int("closed", len(ids)).Str("date", date).Msg("Listings closed")
	return nil
}

func openIDs(records []listing.Record) listing.IDSet {
	ids := make(listing.IDSet)
	for _, r := range records {
		if r.Open() {
			ids.Add(r.ProductID)
		}
	}
	return ids
}

// StreaksPath is the sidecar file holding absence streaks for a checkpoint
func StreaksPath(checkpointPath string) string {
	return checkpointPath + ".absences.json"
}

// LoadStreaks reads absence streaks. A missing file is an empty map.
func LoadStreaks(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, errors.NewPersistence(path, "read streaks", err)
	}

	streaks := map[string]int{}
	if err := json.Unmarshal(data, &streaks); err != nil {
		return nil, errors.NewPersistence(path, "decode streaks", err)
	}
	return streaks, nil
}

// SaveStreaks atomically replaces the streak sidecar
func SaveStreaks(path string, streaks map[string]int) error {
	data, err := json.MarshalIndent(streaks, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return errors.NewPersistence(path, "write streaks", err)
	}
	return nil
}
