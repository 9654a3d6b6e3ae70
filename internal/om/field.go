package om

// FieldType distinguishes the index time field from measured quantities.
type FieldType string

const (
	FieldQuantity FieldType = "Quantity"
	FieldTime     FieldType = "Time"
)

// Field is one column of a record. An empty UOM means no unit was declared.
type Field struct {
	Name    string    `json:"name"`
	UOM     string    `json:"uom,omitempty"`
	Ordinal int       `json:"ordinal"`
	Type    FieldType `json:"type"`
}

// FieldNames returns the names of fields in order.
func FieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
