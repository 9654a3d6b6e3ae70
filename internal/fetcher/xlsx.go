package fetcher

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects the sheet to stream.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// StreamXLSX sends the rows of one workbook sheet to a channel. Blank rows
// are dropped and trailing blank cells trimmed, so formatted but empty
// regions below a sensor table do not reach the extractor. Date cells are
// rendered as RFC 3339 timestamps. Both channels close when done.
func StreamXLSX(ctx context.Context, path string, opts XLSXOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		wb, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrapf(err, "xlsx: open %s", path)
			return
		}
		sheet, err := selectSheet(wb, opts)
		if err != nil {
			errCh <- err
			return
		}

		for _, row := range sheet.Rows {
			cells := rowValues(row, wb.Date1904)
			if len(cells) == 0 {
				continue
			}
			select {
			case rowCh <- cells:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xlsx: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func selectSheet(wb *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		if sheet, ok := wb.Sheet[opts.SheetName]; ok {
			return sheet, nil
		}
		return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
	}
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(wb.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(wb.Sheets))
	}
	return wb.Sheets[opts.SheetIndex], nil
}

// rowValues returns the cell texts of row up to its last non-blank cell.
func rowValues(row *xlsx.Row, date1904 bool) []string {
	if row == nil {
		return nil
	}
	out := make([]string, len(row.Cells))
	last := -1
	for i, c := range row.Cells {
		out[i] = cellValue(c, date1904)
		if strings.TrimSpace(out[i]) != "" {
			last = i
		}
	}
	return out[:last+1]
}

func cellValue(c *xlsx.Cell, date1904 bool) string {
	if c.Type() == xlsx.CellTypeNumeric && c.IsTime() {
		if t, err := c.GetTime(date1904); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return c.String()
}
