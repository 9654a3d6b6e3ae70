package extract

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/om"
)

// Extractor reads one table according to a column mapping.
type Extractor struct {
	table   Table
	mapping Mapping
	log     *zap.Logger
}

// NewExtractor returns an extractor over t.
func NewExtractor(t Table, m Mapping) *Extractor {
	return &Extractor{
		table:   t,
		mapping: m,
		log:     zap.L().With(zap.String("component", "extract"), zap.String("path", t.Path())),
	}
}

// ProcedureID is the configured procedure id, or the file base name.
func (e *Extractor) ProcedureID() string {
	if e.mapping.ProcedureID != "" {
		return e.mapping.ProcedureID
	}
	return baseName(e.table.Path())
}

// foiGroup accumulates the rows of one feature of interest.
type foiGroup struct {
	key       string
	block     *om.MeasureBlockBuilder
	bound     *om.SpatioTemporalBound
	positions [][2]float64
	seen      map[[2]float64]bool
}

// addPosition widens the bound and records each distinct position once, in
// encounter order.
func (g *foiGroup) addPosition(lon, lat float64) {
	g.bound.AddPosition(lon, lat)
	p := [2]float64{lon, lat}
	if g.seen[p] {
		return
	}
	if g.seen == nil {
		g.seen = make(map[[2]float64]bool)
	}
	g.seen[p] = true
	g.positions = append(g.positions, p)
}

// rowReader turns raw rows into block values and bound updates.
type rowReader struct {
	path    string
	mapping Mapping
	layout  *layout
	dates   dateParser
	log     *zap.Logger
}

func (r *rowReader) parseDate(line, i int, raw string) (time.Time, error) {
	t, err := r.dates.parse(raw)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "extract: %s line %d column %s", r.path, line, r.layout.col(i).name)
	}
	return t, nil
}

// position returns the row's lon/lat when both cells parse.
func (r *rowReader) position(row []string) (float64, float64, bool) {
	if r.layout.lon < 0 || r.layout.lat < 0 {
		return 0, 0, false
	}
	lon, err := om.ParseDecimal(cell(row, r.layout.lon), r.mapping.DecimalSeparator)
	if err != nil {
		return 0, 0, false
	}
	lat, err := om.ParseDecimal(cell(row, r.layout.lat), r.mapping.DecimalSeparator)
	if err != nil {
		return 0, 0, false
	}
	return lon, lat, true
}

// read appends one row to g. It reports false when the row was skipped.
func (r *rowReader) read(g *foiGroup, line int, row []string) (bool, error) {
	l := r.layout

	var mainValue float64
	if r.mapping.Kind == om.Profile {
		v, err := om.ParseDecimal(cell(row, l.main), r.mapping.DecimalSeparator)
		if err != nil {
			r.log.Warn("extract: skipping row with unparsable main value",
				zap.Int("line", line), zap.String("value", cell(row, l.main)))
			return false, nil
		}
		mainValue = v
	}

	var mainTime time.Time
	if l.date >= 0 {
		t, err := r.parseDate(line, l.date, cell(row, l.date))
		if err != nil {
			return false, err
		}
		g.bound.AddDate(t)
		mainTime = t
	}
	if r.mapping.Kind != om.Profile && l.date != l.main {
		t, err := r.parseDate(line, l.main, cell(row, l.main))
		if err != nil {
			return false, err
		}
		mainTime = t
	}

	if lon, lat, ok := r.position(row); ok {
		g.addPosition(lon, lat)
	}

	for n, i := range l.payload {
		switch {
		case n == 0 && r.mapping.Kind == om.Profile:
			g.block.AppendValue(mainValue)
		case n == 0:
			g.block.AppendDate(mainTime)
		default:
			g.block.AppendCell(cell(row, i), l.col(i).name, line)
		}
	}
	g.block.CloseBlock()
	return true, nil
}

func (e *Extractor) newRowReader(l *layout) *rowReader {
	return &rowReader{
		path:    e.table.Path(),
		mapping: e.mapping,
		layout:  l,
		dates:   newDateParser(e.mapping.DateFormat),
		log:     e.log,
	}
}

// Extract reads the whole table into observations, one per feature of
// interest, together with the procedure tree and merged bound.
func (e *Extractor) Extract(ctx context.Context) (*om.ExtractionResult, error) {
	var (
		l      *layout
		reader *rowReader
		groups []*foiGroup
		byKey  = map[string]*foiGroup{}
	)

	procedure := e.ProcedureID()
	groupFor := func(row []string) *foiGroup {
		key := ""
		if l.foi >= 0 {
			key = cell(row, l.foi)
		}
		g, ok := byKey[key]
		if !ok {
			g = &foiGroup{
				key:   key,
				block: om.NewMeasureBlockBuilder(om.DefaultEncoding).WithDecimalSeparator(e.mapping.DecimalSeparator),
				bound: om.NewBound(),
			}
			byKey[key] = g
			groups = append(groups, g)
		}
		return g
	}

	err := scanTable(ctx, e.table,
		func(header []string) error {
			var err error
			l, err = classify(e.table.Path(), header, e.mapping)
			reader = e.newRowReader(l)
			return err
		},
		func(line int, row []string) error {
			_, err := reader.read(groupFor(row), line, row)
			return err
		})
	if err != nil {
		return nil, err
	}

	phen := l.phenomenon()
	res := &om.ExtractionResult{
		Fields: l.fields,
		Bound:  om.NewBound(),
	}
	if phen.ID != "" {
		res.Phenomena = []om.Phenomenon{phen}
	}

	for _, g := range groups {
		if g.block.BlockCount() == 0 {
			continue
		}
		featureID := g.key
		if featureID == "" {
			featureID = procedure + "-sf"
		}
		feature := om.NewSamplingFeature(featureID, featureID, g.positions)
		g.bound.SetGeometry(feature.Geometry)
		res.FeaturesOfInterest = append(res.FeaturesOfInterest, feature)

		res.Observations = append(res.Observations, om.Observation{
			ID:                uuid.NewString(),
			Procedure:         procedure,
			Kind:              e.mapping.Kind,
			FeatureOfInterest: &feature,
			Phenomenon:        phen,
			SamplingTime:      g.bound.TemporalExtent(),
			Result: om.DataArray{
				Fields:   l.fields,
				Encoding: g.block.Encoding(),
				Count:    g.block.BlockCount(),
				Values:   g.block.Build(),
			},
		})
		res.Bound.Merge(g.bound)
		res.Warnings = append(res.Warnings, g.block.Warnings()...)
	}
	if len(res.FeaturesOfInterest) == 1 {
		res.Bound.SetGeometry(res.FeaturesOfInterest[0].Geometry)
	}

	res.ProcedureTrees = []om.ProcedureTree{{
		ID:             procedure,
		Type:           om.ComponentType,
		MeasuredFields: l.measureNames(),
		Bound:          res.Bound.Clone(),
	}}

	if len(res.Warnings) > 0 {
		e.log.Warn("extract: unparsable cells replaced by 0", zap.Int("count", len(res.Warnings)))
	}
	e.log.Debug("extract: table read",
		zap.Int("observations", len(res.Observations)),
		zap.Int("features", len(res.FeaturesOfInterest)))
	return res, nil
}

// header reads and classifies the header row only.
func (e *Extractor) header(ctx context.Context) (*layout, error) {
	var l *layout
	err := scanTable(ctx, e.table, func(header []string) error {
		var err error
		l, err = classify(e.table.Path(), header, e.mapping)
		return err
	}, nil)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// PhenomenonNames returns the measured field names without reading rows.
func (e *Extractor) PhenomenonNames(ctx context.Context) ([]string, error) {
	l, err := e.header(ctx)
	if err != nil {
		return nil, err
	}
	return l.measureNames(), nil
}

// Templates returns the structure-only observation of the table.
func (e *Extractor) Templates(ctx context.Context) ([]om.Observation, error) {
	l, err := e.header(ctx)
	if err != nil {
		return nil, err
	}
	return []om.Observation{{
		Procedure:  e.ProcedureID(),
		Kind:       e.mapping.Kind,
		Phenomenon: l.phenomenon(),
		Result: om.DataArray{
			Fields:   l.fields,
			Encoding: om.DefaultEncoding,
		},
	}}, nil
}

// TemporalBounds scans the date column only. A table without a date column
// yields an empty extent.
func (e *Extractor) TemporalBounds(ctx context.Context) (om.TemporalExtent, error) {
	var (
		l      *layout
		reader *rowReader
	)
	bound := om.NewBound()
	err := scanTable(ctx, e.table,
		func(header []string) error {
			var err error
			l, err = classify(e.table.Path(), header, e.mapping)
			reader = e.newRowReader(l)
			return err
		},
		func(line int, row []string) error {
			if l.date < 0 {
				return nil
			}
			t, err := reader.parseDate(line, l.date, cell(row, l.date))
			if err != nil {
				return err
			}
			bound.AddDate(t)
			return nil
		})
	if err != nil {
		return om.TemporalExtent{}, err
	}
	return bound.TemporalExtent(), nil
}

// Procedures returns the procedure tree of the table.
func (e *Extractor) Procedures(ctx context.Context) ([]om.ProcedureTree, error) {
	tree, err := NewProcedureTreeBuilder(e.table, e.mapping).Build(ctx)
	if err != nil {
		return nil, err
	}
	return []om.ProcedureTree{tree}, nil
}
