package extract

import (
	"context"

	"github.com/sells-group/sensor-harvest/internal/om"
)

// ProcedureTreeBuilder derives the sensor identity of a table. It scans rows
// for the bound but builds no payload and no sampling feature.
type ProcedureTreeBuilder struct {
	table   Table
	mapping Mapping
}

// NewProcedureTreeBuilder returns a builder over t.
func NewProcedureTreeBuilder(t Table, m Mapping) *ProcedureTreeBuilder {
	return &ProcedureTreeBuilder{table: t, mapping: m}
}

// Build returns the single procedure tree of the table.
func (b *ProcedureTreeBuilder) Build(ctx context.Context) (om.ProcedureTree, error) {
	e := NewExtractor(b.table, b.mapping)
	bound := om.NewBound()

	var (
		l      *layout
		reader *rowReader
	)
	err := scanTable(ctx, b.table,
		func(header []string) error {
			var err error
			l, err = classify(b.table.Path(), header, b.mapping)
			reader = e.newRowReader(l)
			return err
		},
		func(line int, row []string) error {
			if b.mapping.Kind == om.Profile {
				if _, err := om.ParseDecimal(cell(row, l.main), b.mapping.DecimalSeparator); err != nil {
					return nil
				}
			}
			if l.date >= 0 {
				t, err := reader.parseDate(line, l.date, cell(row, l.date))
				if err != nil {
					return err
				}
				bound.AddDate(t)
			}
			if lon, lat, ok := reader.position(row); ok {
				bound.AddPosition(lon, lat)
			}
			return nil
		})
	if err != nil {
		return om.ProcedureTree{}, err
	}

	return om.ProcedureTree{
		ID:             e.ProcedureID(),
		Type:           om.ComponentType,
		MeasuredFields: l.measureNames(),
		Bound:          bound,
	}, nil
}
