package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"sjsage522/marketcrawler/helpers"
	"sjsage522/marketcrawler/internal/pacing"
	"sjsage522/marketcrawler/logger"
	"sjsage522/marketcrawler/pkg/errors"
	"sjsage522/marketcrawler/services/store"
)

// Columns added to every enriched row
const (
	ColDescription = "description"
	ColDetails     = "details_json"
)

const (
	descriptionSelector = "div.product-description span.boa-product-description-details"
	specItemSelector    = "div.boa-attributes-container li.product-spec__item"
	specLabelSelector   = ".product-spec__label"
	specValueSelector   = ".product-spec__value"
)

// Details is what a listing page adds to its row
type Details struct {
	Description string
	Attributes  map[string]string
}

// ParseDetails extracts the free-text description and the attribute table
// of a listing page. Missing parts are left empty.
func ParseDetails(r io.Reader) (Details, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Details{}, errors.NewParsing("detail page", "parse html", err)
	}

	d := Details{
		Description: strings.TrimSpace(doc.Find(descriptionSelector).First().Text()),
		Attributes:  map[string]string{},
	}
	doc.Find(specItemSelector).Each(func(_ int, s *goquery.Selection) {
		label := s.Find(specLabelSelector).First()
		value := s.Find(specValueSelector).First()
		if label.Length() == 0 || value.Length() == 0 {
			return
		}
		d.Attributes[strings.TrimSpace(label.Text())] = strings.TrimSpace(value.Text())
	})
	return d, nil
}

// AttributesJSON encodes attributes keeping non-ASCII text readable
func AttributesJSON(attrs map[string]string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(attrs); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Options tunes an Enricher
type Options struct {
	// Limit caps the number of pages fetched; 0 means no cap
	Limit int
	Delay time.Duration
}

// Result counts what a run did
type Result struct {
	Enriched int
	Failed   int
	Skipped  int
}

// Enricher adds detail-page data to a listing CSV
type Enricher struct {
	fetch func(ctx context.Context, url string) (io.Reader, error)
	pacer *pacing.Pacer
	opts  Options
	log   *logger.Logger
}

// NewEnricher creates an enricher fetching with browser-like headers
func NewEnricher(opts Options, log *logger.Logger) *Enricher {
	return &Enricher{
		fetch: helpers.FetchWithRandomHeaders,
		pacer: pacing.New(opts.Delay),
		opts:  opts,
		log:   log,
	}
}

// Run enriches every row of in whose product_url is not yet in out. The
// output is rewritten after each row, so an interrupted run loses nothing
// and a rerun only fetches what is missing. A failed fetch leaves its row
// out of the output to be retried next time.
func (e *Enricher) Run(ctx context.Context, in, out string) (Result, error) {
	var res Result

	input, err := store.ReadTable(in)
	if err != nil {
		return res, errors.NewPersistence(in, "read input", err)
	}
	if len(input.Rows) > 0 && !slices.Contains(input.Header, store.ColProductURL) {
		return res, errors.NewValidation(in, "missing product_url column")
	}

	output, err := store.ReadTable(out)
	if err != nil {
		return res, errors.NewPersistence(out, "read output", err)
	}
	done := make(map[string]bool)
	for _, u := range output.Column(store.ColProductURL) {
		if u != "" {
			done[u] = true
		}
	}
	e.log.Info().Int("rows", len(input.Rows)).Int("done", len(done)).Msg("Enrichment started")

	output.EnsureColumns(input.Header...)
	output.EnsureColumns(ColDescription, ColDetails)

	fetched := 0
	for _, row := range input.Rows {
		url := row[store.ColProductURL]
		if url == "" || done[url] {
			res.Skipped++
			continue
		}
		if e.opts.Limit > 0 && fetched >= e.opts.Limit {
			break
		}
		fetched++

		details, err := e.details(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			e.log.Error().Err(err).Str("url", url).Msg("Detail fetch failed")
			res.Failed++
			continue
		}

		attrs, err := AttributesJSON(details.Attributes)
		if err != nil {
			res.Failed++
			continue
		}
		enriched := make(map[string]string, len(row)+2)
		for k, v := range row {
			enriched[k] = v
		}
		enriched[ColDescription] = details.Description
		enriched[ColDetails] = attrs
		output.Rows = append(output.Rows, enriched)
		done[url] = true

		if err := store.WriteTable(out, output); err != nil {
			return res, errors.NewPersistence(out, "write output", err)
		}
		res.Enriched++
		e.log.Debug().Str("url", url).Int("attributes", len(details.Attributes)).Msg("Row enriched")
	}

	e.log.Info().Int("enriched", res.Enriched).Int("failed", res.Failed).Msg("Enrichment finished")
	return res, nil
}

func (e *Enricher) details(ctx context.Context, url string) (Details, error) {
	if err := e.pacer.Wait(ctx); err != nil {
		return Details{}, err
	}
	body, err := e.fetch(ctx, url)
	e.pacer.Done()
	if err != nil {
		return Details{}, helpers.ClassifyFetchError(url, "fetch detail page", err)
	}
	return ParseDetails(body)
}
