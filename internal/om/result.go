package om

// ExtractionResult is everything one extraction produced.
type ExtractionResult struct {
	Fields             []Field
	Phenomena          []Phenomenon
	Observations       []Observation
	ProcedureTrees     []ProcedureTree
	FeaturesOfInterest []SamplingFeature
	Bound              *SpatioTemporalBound
	Warnings           []Warning
}

// ForProcedure narrows r to the observations of one procedure. Phenomena and
// features are narrowed to those the remaining observations reference.
func (r *ExtractionResult) ForProcedure(id string) *ExtractionResult {
	out := &ExtractionResult{Fields: r.Fields, Bound: NewBound(), Warnings: r.Warnings}

	phen := map[string]bool{}
	foi := map[string]bool{}
	for _, o := range r.Observations {
		if o.Procedure != id {
			continue
		}
		out.Observations = append(out.Observations, o)
		phen[o.Phenomenon.ID] = true
		if o.FeatureOfInterest != nil {
			foi[o.FeatureOfInterest.ID] = true
		}
	}
	for _, p := range r.Phenomena {
		if phen[p.ID] {
			out.Phenomena = append(out.Phenomena, p)
		}
	}
	for _, f := range r.FeaturesOfInterest {
		if foi[f.ID] {
			out.FeaturesOfInterest = append(out.FeaturesOfInterest, f)
		}
	}
	for _, t := range r.ProcedureTrees {
		if t.ID == id {
			out.ProcedureTrees = append(out.ProcedureTrees, t)
			out.Bound.Merge(t.Bound)
		}
	}
	return out
}
