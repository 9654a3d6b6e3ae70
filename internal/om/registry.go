package om

// Registry is the append-only set of phenomena and sampling features a
// service already knows. Resolving through it reuses matching identities
// instead of creating duplicates.
type Registry struct {
	Phenomena []Phenomenon
	Features  []SamplingFeature
}

// ResolvePhenomenon returns the known phenomenon with the same component set
// as p, registering p when there is none. The bool reports whether p is new.
func (r *Registry) ResolvePhenomenon(p Phenomenon) (Phenomenon, bool) {
	for _, known := range r.Phenomena {
		if known.SameComponents(p) {
			return known, false
		}
	}
	r.Phenomena = append(r.Phenomena, p)
	return p, true
}

// ResolveFeature returns the known feature with identical geometry, or the
// known feature with the same id, registering f when neither exists.
func (r *Registry) ResolveFeature(f SamplingFeature) (SamplingFeature, bool) {
	for _, known := range r.Features {
		if f.Geometry != nil && known.SameGeometry(f) {
			return known, false
		}
	}
	for _, known := range r.Features {
		if known.ID == f.ID {
			return known, false
		}
	}
	r.Features = append(r.Features, f)
	return f, true
}
