package om

// ComponentType is the procedure type of a single-file sensor.
const ComponentType = "Component"

// ProcedureTree is the identity of a sensor and its sub-sensors.
type ProcedureTree struct {
	ID             string               `json:"id"`
	Type           string               `json:"type"`
	MeasuredFields []string             `json:"measured_fields"`
	Bound          *SpatioTemporalBound `json:"bound,omitempty"`
	Children       []ProcedureTree      `json:"children,omitempty"`
}

// IDs returns the id of t followed by the ids of its descendants, depth first.
func (t ProcedureTree) IDs() []string {
	ids := []string{t.ID}
	for _, c := range t.Children {
		ids = append(ids, c.IDs()...)
	}
	return ids
}
