package om

// DataArray is the encoded result of an observation. Fields describe one
// record; Values holds Count encoded blocks.
type DataArray struct {
	Fields   []Field      `json:"fields"`
	Encoding TextEncoding `json:"encoding"`
	Count    int          `json:"count"`
	Values   string       `json:"values,omitempty"`
}

// Observation binds a procedure, a feature of interest and a phenomenon to
// a block of measurements.
type Observation struct {
	ID                string           `json:"id"`
	Procedure         string           `json:"procedure"`
	Kind              Kind             `json:"kind"`
	FeatureOfInterest *SamplingFeature `json:"feature_of_interest,omitempty"`
	Phenomenon        Phenomenon       `json:"phenomenon"`
	SamplingTime      TemporalExtent   `json:"sampling_time"`
	Result            DataArray        `json:"result"`
}

// Template returns the structure of o with no measurements.
func (o Observation) Template() Observation {
	t := o
	t.ID = ""
	t.SamplingTime = TemporalExtent{}
	t.Result.Count = 0
	t.Result.Values = ""
	return t
}

// IsTemplate reports whether o carries no measurements.
func (o Observation) IsTemplate() bool {
	return o.Result.Count == 0 && o.Result.Values == ""
}

// Field looks up a record field by name.
func (o Observation) Field(name string) (Field, bool) {
	for _, f := range o.Result.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
