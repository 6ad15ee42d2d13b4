package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"sjsage522/marketcrawler/internal/listing"
	"sjsage522/marketcrawler/logger"
	"sjsage522/marketcrawler/pkg/errors"
)

// Mirror keeps a relational copy of a category's checkpoint
type Mirror interface {
	Upsert(ctx context.Context, category string, records []listing.Record) error
	Close() error
}

const batchSize = 50

// columns of the listings table, in insert order
var columns = []string{
	"category", "product_id", "title", "current_price", "location", "image_url",
	"product_url", "tags", "first_seen_date", "last_seen_date", "closing_date", "attributes",
}

// PostgresMirror upserts listings into PostgreSQL
type PostgresMirror struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresMirror connects, retrying while the server comes up, and
// creates the schema when missing.
func NewPostgresMirror(ctx context.Context, dsn string, log *logger.Logger) (*PostgresMirror, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.NewConfiguration("postgres: open", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		log.Debug().Err(err).Int("attempt", i+1).Msg("Postgres not ready")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		db.Close()
		return nil, errors.NewPersistence("postgres", "ping failed after retries", err)
	}

	m := &PostgresMirror{db: db, log: log}
	if err := m.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.NewPersistence("postgres", "migrate", err)
	}
	return m, nil
}

func (m *PostgresMirror) migrate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			category        VARCHAR(100) NOT NULL,
			product_id      TEXT         NOT NULL,
			title           TEXT         NOT NULL DEFAULT '',
			current_price   TEXT         NOT NULL DEFAULT '',
			location        TEXT         NOT NULL DEFAULT '',
			image_url       TEXT         NOT NULL DEFAULT '',
			product_url     TEXT         NOT NULL DEFAULT '',
			tags            TEXT[]       NOT NULL DEFAULT '{}',
			first_seen_date DATE         NOT NULL,
			last_seen_date  DATE         NOT NULL,
			closing_date    DATE,
			attributes      JSONB        NOT NULL DEFAULT '{}',
			updated_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			PRIMARY KEY (category, product_id, last_seen_date)
		);

		ALTER TABLE listings ADD COLUMN IF NOT EXISTS attributes JSONB NOT NULL DEFAULT '{}';

		CREATE INDEX IF NOT EXISTS idx_listings_open ON listings(category) WHERE closing_date IS NULL;
	`)
	return err
}

// Upsert writes records in batches; a row with the same key is overwritten
func (m *PostgresMirror) Upsert(ctx context.Context, category string, records []listing.Record) error {
	for i := 0; i < len(records); i += batchSize {
		end := min(i+batchSize, len(records))
		if err := m.upsertBatch(ctx, category, records[i:end]); err != nil {
			return errors.NewPersistence("postgres", fmt.Sprintf("upsert %s", category), err)
		}
	}
	m.log.Debug().Str("category", category).Int("rows", len(records)).Msg("Mirrored listings")
	return nil
}

func (m *PostgresMirror) upsertBatch(ctx context.Context, category string, batch []listing.Record) error {
	query, args, err := upsertQuery(category, batch)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx, query, args...)
	return err
}

// upsertQuery builds one multi-row INSERT ... ON CONFLICT statement
func upsertQuery(category string, batch []listing.Record) (string, []interface{}, error) {
	n := len(columns)
	values := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*n)

	for idx, r := range batch {
		holders := make([]string, n)
		for c := range holders {
			holders[c] = fmt.Sprintf("$%d", idx*n+c+1)
		}
		values = append(values, "("+strings.Join(holders, ",")+")")

		var closing interface{}
		if r.ClosingDate != "" {
			closing = r.ClosingDate
		}
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		attrs := []byte("{}")
		if len(r.Attributes) > 0 {
			var err error
			if attrs, err = json.Marshal(r.Attributes); err != nil {
				return "", nil, err
			}
		}
		args = append(args,
			category, r.ProductID, r.Title, r.CurrentPrice, r.Location, r.ImageURL,
			r.ProductURL, pq.Array(tags), r.FirstSeen, r.LastSeen, closing, string(attrs))
	}

	updates := make([]string, 0, n)
	for _, c := range columns[2:] {
		if c == "last_seen_date" {
			continue
		}
		updates = append(updates, c+" = EXCLUDED."+c)
	}
	updates = append(updates, "updated_at = NOW()")

	query := fmt.Sprintf(`INSERT INTO listings (%s) VALUES %s
		ON CONFLICT (category, product_id, last_seen_date) DO UPDATE SET %s`,
		strings.Join(columns, ", "), strings.Join(values, ","), strings.Join(updates, ", "))
	return query, args, nil
}

// Close closes the connection pool
func (m *PostgresMirror) Close() error {
	return m.db.Close()
}

// Nop mirrors nothing
type Nop struct{}

func (Nop) Upsert(context.Context, string, []listing.Record) error { return nil }
func (Nop) Close() error                                          { return nil }
