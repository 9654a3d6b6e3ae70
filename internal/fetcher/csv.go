package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads delimited text and sends every row, header included, to
// the row channel. A leading UTF-8 byte order mark is dropped. Both channels
// are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(skipBOM(r))
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// DecodeReader wraps r so that it yields UTF-8 from the named charset
// ("latin1", "windows-1252", "utf-16le", ...). An empty name or a UTF-8
// charset returns r unchanged.
func DecodeReader(r io.Reader, charset string) (io.Reader, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	if name == "" || name == "utf-8" || name == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(r), nil
}

func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	return br
}
