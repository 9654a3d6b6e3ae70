package om

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// TextEncoding describes how a DataArray payload is serialized.
type TextEncoding struct {
	TokenSeparator   string `json:"token_separator"`
	BlockSeparator   string `json:"block_separator"`
	DecimalSeparator string `json:"decimal_separator"`
}

// DefaultEncoding is the encoding every extracted payload uses.
var DefaultEncoding = TextEncoding{
	TokenSeparator:   ",",
	BlockSeparator:   "@@",
	DecimalSeparator: ".",
}

// Warning records a cell whose value could not be parsed and was replaced by zero.
type Warning struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Value  string `json:"value"`
}

func (w Warning) String() string {
	return fmt.Sprintf("row %d: unparsable value %q in column %s replaced by 0", w.Row, w.Value, w.Column)
}

// MeasureBlockBuilder accumulates encoded record blocks. Values are appended
// in field order and CloseBlock terminates the current record.
type MeasureBlockBuilder struct {
	enc          TextEncoding
	inputDecimal string

	out      strings.Builder
	pending  []string
	blocks   int
	warnings []Warning
}

// NewMeasureBlockBuilder returns an empty builder writing with enc.
func NewMeasureBlockBuilder(enc TextEncoding) *MeasureBlockBuilder {
	return &MeasureBlockBuilder{enc: enc, inputDecimal: "."}
}

// WithDecimalSeparator sets the decimal separator accepted by AppendCell in
// addition to ".".
func (b *MeasureBlockBuilder) WithDecimalSeparator(sep string) *MeasureBlockBuilder {
	if sep != "" {
		b.inputDecimal = sep
	}
	return b
}

// AppendValue appends a number to the current block.
func (b *MeasureBlockBuilder) AppendValue(v float64) {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if b.enc.DecimalSeparator != "" && b.enc.DecimalSeparator != "." {
		s = strings.Replace(s, ".", b.enc.DecimalSeparator, 1)
	}
	b.pending = append(b.pending, s)
}

// AppendDate appends a UTC RFC 3339 timestamp to the current block.
func (b *MeasureBlockBuilder) AppendDate(t time.Time) {
	b.pending = append(b.pending, t.UTC().Format(time.RFC3339Nano))
}

// AppendCell parses raw as a number and appends it. A value that does not
// parse is replaced by 0 and recorded as a warning.
func (b *MeasureBlockBuilder) AppendCell(raw, column string, row int) float64 {
	v, err := ParseDecimal(raw, b.inputDecimal)
	if err != nil {
		b.warnings = append(b.warnings, Warning{Row: row, Column: column, Value: raw})
		v = 0
	}
	b.AppendValue(v)
	return v
}

// CloseBlock terminates the current record. Closing an empty block is a no-op.
func (b *MeasureBlockBuilder) CloseBlock() {
	if len(b.pending) == 0 {
		return
	}
	b.out.WriteString(strings.Join(b.pending, b.enc.TokenSeparator))
	b.out.WriteString(b.enc.BlockSeparator)
	b.pending = b.pending[:0]
	b.blocks++
}

// Build returns the payload of all closed blocks.
func (b *MeasureBlockBuilder) Build() string {
	return b.out.String()
}

// BlockCount returns the number of closed blocks.
func (b *MeasureBlockBuilder) BlockCount() int {
	return b.blocks
}

// Warnings returns the zero-substitution warnings recorded so far.
func (b *MeasureBlockBuilder) Warnings() []Warning {
	return b.warnings
}

// Encoding returns the encoding the builder writes with.
func (b *MeasureBlockBuilder) Encoding() TextEncoding {
	return b.enc
}

// ParseDecimal parses a number written with "." or decimalSep as the
// decimal separator.
func ParseDecimal(raw, decimalSep string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, eris.New("om: empty numeric value")
	}
	if decimalSep != "" && decimalSep != "." {
		s = strings.Replace(s, decimalSep, ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "om: parse number %q", raw)
	}
	return v, nil
}
