package om

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
)

// Phenomenon is the observed property of an observation. A composite
// phenomenon groups several measured fields.
type Phenomenon struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Components []Field `json:"components"`
}

// NewPhenomenon derives a phenomenon from its measured fields. The id
// depends only on the set of field names, so the same columns always yield
// the same phenomenon.
func NewPhenomenon(fields []Field) Phenomenon {
	p := Phenomenon{Components: slices.Clone(fields)}
	switch len(fields) {
	case 0:
	case 1:
		p.ID = fields[0].Name
		p.Name = fields[0].Name
	default:
		sum := sha256.Sum256([]byte(strings.Join(sortedNames(fields), "|")))
		p.ID = "composite-" + hex.EncodeToString(sum[:8])
		p.Name = p.ID
	}
	return p
}

// IsComposite reports whether p groups more than one field.
func (p Phenomenon) IsComposite() bool {
	return len(p.Components) > 1
}

// SameComponents reports whether p and o measure the same set of fields.
func (p Phenomenon) SameComponents(o Phenomenon) bool {
	return slices.Equal(sortedNames(p.Components), sortedNames(o.Components))
}

func sortedNames(fields []Field) []string {
	names := FieldNames(fields)
	slices.Sort(names)
	return names
}
