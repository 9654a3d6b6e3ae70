// Package extract turns column-mapped sensor tables into O&M observations,
// procedure trees and spatiotemporal bounds.
package extract

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sensor-harvest/internal/om"
)

// Provider configuration keys understood by ParseMapping.
const (
	ParamSeparator        = "separator"
	ParamCharset          = "charset"
	ParamSheet            = "sheet"
	ParamMainColumn       = "main_column"
	ParamDateColumn       = "date_column"
	ParamDateFormat       = "date_format"
	ParamLongitudeColumn  = "longitude_column"
	ParamLatitudeColumn   = "latitude_column"
	ParamMeasureColumns   = "measure_columns"
	ParamMeasureSeparator = "measure_columns_separator"
	ParamFOIColumn        = "foi_column"
	ParamObservationType  = "observation_type"
	ParamProcedureID      = "procedure_id"
	ParamExtractUOM       = "extract_uom"
	ParamDecimalSeparator = "decimal_separator"
)

// Mapping tells the extractor what each column of a table means.
type Mapping struct {
	Separator        rune
	Charset          string
	Sheet            string
	MainColumn       string `validate:"required"`
	DateColumn       string
	DateFormat       string
	LongitudeColumn  string `validate:"required_with=LatitudeColumn"`
	LatitudeColumn   string `validate:"required_with=LongitudeColumn"`
	MeasureColumns   []string
	FOIColumn        string
	Kind             om.Kind
	ProcedureID      string
	ExtractUOM       bool
	DecimalSeparator string `validate:"omitempty,oneof=. 0x2C"`
}

var validate = validator.New()

// ParseMapping reads a mapping from the string-keyed provider configuration.
func ParseMapping(params map[string]string) (Mapping, error) {
	m := Mapping{
		Separator:        ',',
		Charset:          params[ParamCharset],
		Sheet:            params[ParamSheet],
		MainColumn:       strings.TrimSpace(params[ParamMainColumn]),
		DateColumn:       strings.TrimSpace(params[ParamDateColumn]),
		DateFormat:       params[ParamDateFormat],
		LongitudeColumn:  strings.TrimSpace(params[ParamLongitudeColumn]),
		LatitudeColumn:   strings.TrimSpace(params[ParamLatitudeColumn]),
		FOIColumn:        strings.TrimSpace(params[ParamFOIColumn]),
		ProcedureID:      strings.TrimSpace(params[ParamProcedureID]),
		DecimalSeparator: params[ParamDecimalSeparator],
	}

	if sep := params[ParamSeparator]; sep != "" {
		if sep == `\t` || sep == "tab" {
			sep = "\t"
		}
		r, size := utf8.DecodeRuneInString(sep)
		if size != len(sep) {
			return Mapping{}, eris.Errorf("extract: separator %q must be a single character", sep)
		}
		m.Separator = r
	}

	if raw := params[ParamMeasureColumns]; raw != "" {
		msep := params[ParamMeasureSeparator]
		if msep == "" {
			msep = ","
		}
		for _, c := range strings.Split(raw, msep) {
			if c = strings.TrimSpace(c); c != "" {
				m.MeasureColumns = append(m.MeasureColumns, c)
			}
		}
	}

	if raw := params[ParamObservationType]; raw != "" {
		kind, err := om.ParseKind(raw)
		if err != nil {
			return Mapping{}, eris.Wrap(err, "extract: observation_type")
		}
		m.Kind = kind
	}

	if raw := params[ParamExtractUOM]; raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Mapping{}, eris.Wrapf(err, "extract: extract_uom %q", raw)
		}
		m.ExtractUOM = b
	}

	if err := m.Validate(); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

// Validate checks the mapping for missing or contradictory roles.
func (m *Mapping) Validate() error {
	if err := validate.Struct(m); err != nil {
		return eris.Wrap(err, "extract: invalid mapping")
	}
	if m.Kind != om.Profile && m.DateColumn == "" {
		m.DateColumn = m.MainColumn
	}
	if m.Kind == om.Trajectory && m.LongitudeColumn == "" {
		return eris.New("extract: invalid mapping: Trajectory requires longitude_column and latitude_column")
	}
	return nil
}
