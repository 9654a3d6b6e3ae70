package om

import (
	"slices"

	"github.com/twpayne/go-geom"
)

// SRID is the spatial reference of every sampling feature geometry.
const SRID = 4326

// SamplingFeature is the place where observations were made: a point for a
// fixed station, a curve for a moving platform.
type SamplingFeature struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Geometry geom.T `json:"-"`
}

// NewSamplingFeature builds a feature from positions given in encounter
// order. One distinct position yields a point, more yield a line string.
// No positions yields a feature without geometry.
func NewSamplingFeature(id, name string, positions [][2]float64) SamplingFeature {
	f := SamplingFeature{ID: id, Name: name}
	switch distinct(positions) {
	case 0:
	case 1:
		f.Geometry = geom.NewPointFlat(geom.XY, []float64{positions[0][0], positions[0][1]}).SetSRID(SRID)
	default:
		flat := make([]float64, 0, 2*len(positions))
		for _, p := range positions {
			flat = append(flat, p[0], p[1])
		}
		f.Geometry = geom.NewLineStringFlat(geom.XY, flat).SetSRID(SRID)
	}
	return f
}

// IsCurve reports whether the feature geometry is a line string.
func (f SamplingFeature) IsCurve() bool {
	_, ok := f.Geometry.(*geom.LineString)
	return ok
}

// SameGeometry reports whether f and o have identical coordinates.
func (f SamplingFeature) SameGeometry(o SamplingFeature) bool {
	if f.Geometry == nil || o.Geometry == nil {
		return f.Geometry == nil && o.Geometry == nil
	}
	return f.Geometry.Layout() == o.Geometry.Layout() &&
		slices.Equal(f.Geometry.FlatCoords(), o.Geometry.FlatCoords())
}

func distinct(positions [][2]float64) int {
	seen := make(map[[2]float64]struct{}, len(positions))
	for _, p := range positions {
		seen[p] = struct{}{}
	}
	return len(seen)
}
