package extract

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sensor-harvest/internal/fetcher"
)

// Table is a source of rows whose first row is the header.
type Table interface {
	// Path is the file the rows come from. It names the table in errors.
	Path() string
	// Open starts streaming rows, header first.
	Open(ctx context.Context) (*RowStream, error)
}

// RowStream carries the rows of an open table. Close must be called once
// the caller stops reading.
type RowStream struct {
	Rows <-chan []string
	Errs <-chan error

	cancel context.CancelFunc
	closer io.Closer
}

// Close stops the producer and releases the underlying file.
func (s *RowStream) Close() error {
	s.cancel()
	for range s.Rows {
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Err returns the producer error, if any. It is only meaningful once Rows is
// drained.
func (s *RowStream) Err() error {
	return <-s.Errs
}

// CSVTable reads delimited text.
type CSVTable struct {
	File      string
	Separator rune
	Charset   string
}

// NewCSVTable returns a table over path using the mapping's separator and charset.
func NewCSVTable(path string, m Mapping) *CSVTable {
	return &CSVTable{File: path, Separator: m.Separator, Charset: m.Charset}
}

// Path implements Table.
func (t *CSVTable) Path() string { return t.File }

// Open implements Table.
func (t *CSVTable) Open(ctx context.Context) (*RowStream, error) {
	f, err := os.Open(t.File)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: open %s", t.File)
	}
	r, err := fetcher.DecodeReader(f, t.Charset)
	if err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "extract: open %s", t.File)
	}

	ctx, cancel := context.WithCancel(ctx)
	rows, errs := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		Delimiter:  t.Separator,
		LazyQuotes: true,
		TrimSpace:  true,
	})
	return &RowStream{Rows: rows, Errs: errs, cancel: cancel, closer: f}, nil
}

// XLSXTable reads one sheet of a workbook.
type XLSXTable struct {
	File  string
	Sheet string
}

// NewXLSXTable returns a table over the mapping's sheet of path, or the
// first sheet when none is named.
func NewXLSXTable(path string, m Mapping) *XLSXTable {
	return &XLSXTable{File: path, Sheet: m.Sheet}
}

// Path implements Table.
func (t *XLSXTable) Path() string { return t.File }

// Open implements Table.
func (t *XLSXTable) Open(ctx context.Context) (*RowStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	rows, errs := fetcher.StreamXLSX(ctx, t.File, fetcher.XLSXOptions{SheetName: t.Sheet})
	return &RowStream{Rows: rows, Errs: errs, cancel: cancel}, nil
}

// baseName is the file name of path without its extension.
func baseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// isBlank reports whether every cell of row is empty.
func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// scanTable reads the header of t, hands it to onHeader, then hands each
// non-blank row with its 1-based line number to onRow. Returning an error
// from either callback stops the scan.
func scanTable(ctx context.Context, t Table, onHeader func([]string) error, onRow func(line int, row []string) error) error {
	stream, err := t.Open(ctx)
	if err != nil {
		return err
	}
	defer stream.Close() //nolint:errcheck

	line := 0
	for row := range stream.Rows {
		line++
		if line == 1 {
			if err := onHeader(row); err != nil {
				return err
			}
			continue
		}
		if onRow == nil {
			return nil
		}
		if isBlank(row) {
			continue
		}
		if err := onRow(line, row); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return eris.Wrapf(err, "extract: read %s", t.Path())
	}
	if line == 0 {
		return eris.Wrapf(ErrMissingHeaders, "%s: empty file", t.Path())
	}
	return nil
}
