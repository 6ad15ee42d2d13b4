package caption

import (
	"bytes"
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"sjsage522/marketcrawler/logger"
	"sjsage522/marketcrawler/pkg/errors"
	"sjsage522/marketcrawler/services/store"
)

//go:embed prompts/bike_trader.tmpl
var defaultPrompt string

// Answer columns, in the order the prompt asks for them
var Fields = []string{
	"state",
	"desirability",
	"photo_appeal",
	"issues",
	"desc_match",
	"new_price",
	"sell_price",
	"offer_price",
}

// ColFullCaption holds the raw completion
const ColFullCaption = "full_caption"

const (
	colDescription = "description"
	colPrice       = store.ColCurrentPrice
	colImage       = store.ColImageURL
	colID          = store.ColProductID
)

// PromptData feeds the prompt template
type PromptData struct {
	Description string
	Price       string
}

// LoadPrompt parses the template at path, or the built-in one when path is empty
func LoadPrompt(path string) (*template.Template, error) {
	text := defaultPrompt
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.NewConfiguration("read prompt template", err)
		}
		text = string(data)
	}
	tmpl, err := template.New("prompt").Parse(text)
	if err != nil {
		return nil, errors.NewConfiguration("parse prompt template", err)
	}
	return tmpl, nil
}

// ParseCaption splits a completion into the answer fields. Blank lines are
// dropped, missing answers are empty and extra lines are joined into the last.
func ParseCaption(caption string) map[string]string {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(caption), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	n := len(Fields)
	if len(lines) > n {
		lines = append(lines[:n-1], strings.Join(lines[n-1:], " "))
	}

	out := make(map[string]string, n)
	for i, f := range Fields {
		if i < len(lines) {
			out[f] = lines[i]
		} else {
			out[f] = ""
		}
	}
	return out
}

// DefaultOutput is captioned_<name> next to the input
func DefaultOutput(in string) string {
	return filepath.Join(filepath.Dir(in), "captioned_"+filepath.Base(in))
}

// Result counts what a run did
type Result struct {
	Captioned int
	Failed    int
	Skipped   int
}

// Captioner asks a Completer about every listing image of a CSV
type Captioner struct {
	completer Completer
	prompt    *template.Template
	limit     int
	log       *logger.Logger
}

// NewCaptioner creates a captioner; limit 0 means no cap on API calls
func NewCaptioner(completer Completer, prompt *template.Template, limit int, log *logger.Logger) *Captioner {
	return &Captioner{completer: completer, prompt: prompt, limit: limit, log: log}
}

func rowKey(row map[string]string) string {
	if id := row[colID]; id != "" {
		return id
	}
	return row[colImage]
}

// Run writes every row of in to out with the answer columns filled. Rows
// already captioned in an existing out are carried over; out is rewritten
// after each completion. An API error leaves that row's answers empty so a
// rerun tries it again.
func (c *Captioner) Run(ctx context.Context, in, out string) (Result, error) {
	var res Result

	table, err := store.ReadTable(in)
	if err != nil {
		return res, errors.NewPersistence(in, "read input", err)
	}
	previous, err := store.ReadTable(out)
	if err != nil {
		return res, errors.NewPersistence(out, "read output", err)
	}
	done := make(map[string]map[string]string)
	for _, row := range previous.Rows {
		if row[ColFullCaption] != "" {
			done[rowKey(row)] = row
		}
	}

	table.EnsureColumns(Fields...)
	table.EnsureColumns(ColFullCaption)

	carried := append(append([]string{}, Fields...), ColFullCaption)
	calls := 0
	for i, row := range table.Rows {
		if prev, ok := done[rowKey(row)]; ok {
			for _, f := range carried {
				row[f] = prev[f]
			}
			res.Skipped++
			continue
		}

		image := row[colImage]
		if !strings.HasPrefix(image, "https://") {
			c.log.Warn().Int("row", i).Msg("No usable image url, skipping")
			res.Skipped++
			continue
		}
		if c.limit > 0 && calls >= c.limit {
			continue
		}
		calls++

		var prompt bytes.Buffer
		if err := c.prompt.Execute(&prompt, PromptData{Description: row[colDescription], Price: row[colPrice]}); err != nil {
			return res, errors.NewConfiguration("render prompt", err)
		}

		caption, err := c.completer.Complete(ctx, image, prompt.String())
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			c.log.Error().Err(err).Int("row", i).Msg("Captioning failed")
			res.Failed++
			caption = ""
		} else {
			res.Captioned++
		}

		for f, v := range ParseCaption(caption) {
			row[f] = v
		}
		row[ColFullCaption] = caption

		if err := store.WriteTable(out, table); err != nil {
			return res, errors.NewPersistence(out, "write output", err)
		}
	}

	// carried-over rows must land even when nothing new was captioned
	if err := store.WriteTable(out, table); err != nil {
		return res, errors.NewPersistence(out, "write output", err)
	}
	c.log.Info().Int("captioned", res.Captioned).Int("failed", res.Failed).Int("skipped", res.Skipped).Msg("Captioning finished")
	return res, nil
}
