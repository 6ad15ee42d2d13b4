package store

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// Table is a CSV file held in memory: a header plus rows keyed by column name
type Table struct {
	Header []string
	Rows   []map[string]string
}

// Column returns the values of one column in row order
func (t *Table) Column(name string) []string {
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[name]
	}
	return out
}

// EnsureColumns appends any missing columns to the header
func (t *Table) EnsureColumns(names ...string) {
	have := make(map[string]bool, len(t.Header))
	for _, h := range t.Header {
		have[h] = true
	}
	for _, n := range names {
		if !have[n] {
			t.Header = append(t.Header, n)
			have[n] = true
		}
	}
}

// ReadTable loads a CSV file, skipping a leading UTF-8 signature.
// A missing file yields an empty table and no error.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if head, _ := br.Peek(len(bom)); bytes.Equal(head, bom) {
		br.Discard(len(bom))
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	t := &Table{Header: header}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = rec[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// commit finishes a pending file. Replaced in tests to simulate a crash
// between the temporary write and the exchange.
var commit = func(pf *renameio.PendingFile) error {
	return pf.CloseAtomicallyReplace()
}

// WriteTable replaces path with t. The content goes to a temporary file in
// the same directory which is renamed over path only after it was fully
// written, so readers see either the old file or the new one.
func WriteTable(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return err
	}
	defer pf.Cleanup()

	if _, err := pf.Write(bom); err != nil {
		return err
	}

	w := csv.NewWriter(pf)
	if err := w.Write(t.Header); err != nil {
		return err
	}
	rec := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for i, name := range t.Header {
			rec[i] = row[name]
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	return commit(pf)
}
