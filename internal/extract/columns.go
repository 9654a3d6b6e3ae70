package extract

import (
	"regexp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sensor-harvest/internal/om"
)

// ErrMissingHeaders is returned when a column named by the mapping is not
// present in the header row.
var ErrMissingHeaders = eris.New("extract: missing headers")

type role int

const (
	roleIgnored role = iota
	roleMain
	roleDate
	roleLongitude
	roleLatitude
	roleMeasure
	roleFOI
)

// uomHeader matches headers of the form "TEMP (Cel)".
var uomHeader = regexp.MustCompile(`^(.*?)\s*\(([^)]+)\)\s*$`)

type column struct {
	index int
	raw   string
	name  string
	uom   string
	role  role
}

// layout is the classified header of a table.
type layout struct {
	columns []column

	main, date, lon, lat, foi int

	// payload lists the header indexes written to each block, in order.
	payload []int
	// fields is the record shape matching payload.
	fields []om.Field
	// measures are the phenomenon components, in header order.
	measures []om.Field
}

func (l *layout) col(i int) column { return l.columns[i] }

// splitHeader separates the unit from a header when extractUOM is set.
func splitHeader(raw string, extractUOM bool) (name, uom string) {
	raw = strings.TrimSpace(raw)
	if extractUOM {
		if m := uomHeader.FindStringSubmatch(raw); m != nil {
			return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		}
	}
	return raw, ""
}

// classify assigns every header column exactly one role and derives the
// record shape. The main role wins when main and date name the same column.
func classify(path string, header []string, m Mapping) (*layout, error) {
	l := &layout{main: -1, date: -1, lon: -1, lat: -1, foi: -1}

	find := func(name string) int {
		for _, c := range l.columns {
			if c.name == name || c.raw == name {
				return c.index
			}
		}
		return -1
	}

	for i, raw := range header {
		name, uom := splitHeader(raw, m.ExtractUOM)
		l.columns = append(l.columns, column{index: i, raw: strings.TrimSpace(raw), name: name, uom: uom})
	}

	var missing []string
	assign := func(name string, r role) int {
		if name == "" {
			return -1
		}
		i := find(name)
		if i < 0 {
			missing = append(missing, name)
			return -1
		}
		if l.columns[i].role == roleIgnored {
			l.columns[i].role = r
		}
		return i
	}

	l.main = assign(m.MainColumn, roleMain)
	l.date = assign(m.DateColumn, roleDate)
	l.lon = assign(m.LongitudeColumn, roleLongitude)
	l.lat = assign(m.LatitudeColumn, roleLatitude)
	l.foi = assign(m.FOIColumn, roleFOI)

	if len(m.MeasureColumns) > 0 {
		for _, name := range m.MeasureColumns {
			assign(name, roleMeasure)
		}
	} else {
		for i := range l.columns {
			if l.columns[i].role == roleIgnored && l.columns[i].name != "" {
				l.columns[i].role = roleMeasure
			}
		}
	}

	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrMissingHeaders, "%s: %s", path, strings.Join(missing, ", "))
	}

	mainType := om.FieldTime
	if m.Kind == om.Profile {
		mainType = om.FieldQuantity
	}
	l.addPayload(l.main, mainType)
	if m.Kind == om.Trajectory {
		l.addPayload(l.lon, om.FieldQuantity)
		l.addPayload(l.lat, om.FieldQuantity)
	}
	for _, c := range l.columns {
		if c.role != roleMeasure {
			continue
		}
		l.addPayload(c.index, om.FieldQuantity)
		l.measures = append(l.measures, l.fields[len(l.fields)-1])
	}
	return l, nil
}

func (l *layout) addPayload(i int, t om.FieldType) {
	c := l.columns[i]
	l.payload = append(l.payload, i)
	l.fields = append(l.fields, om.Field{
		Name:    c.name,
		UOM:     c.uom,
		Ordinal: len(l.fields) + 1,
		Type:    t,
	})
}

// measureNames returns the measured field names in header order.
func (l *layout) measureNames() []string {
	return om.FieldNames(l.measures)
}

// phenomenon is the composite (or single) phenomenon of the measures.
func (l *layout) phenomenon() om.Phenomenon {
	return om.NewPhenomenon(slices.Clone(l.measures))
}

// cell returns the trimmed value at header index i, or "" when the row is short.
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
