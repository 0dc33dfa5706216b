package etl

// Record is one usage row as a source produced it. Keys are field names
// exactly as they appeared upstream.
type Record struct {
	Data map[string]any `json:"data"`
}

// Value looks up column, reporting whether the record carries it at all.
// A present key holding nil is still present.
func (r Record) Value(column string) (any, bool) {
	v, ok := r.Data[column]
	return v, ok
}

// Field names one key seen in a source and the kind of values it held:
// text, number, boolean or datetime.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema is the set of fields a source yields, in a stable order.
type Schema struct {
	Fields []Field `json:"fields"`
}

func (s *Schema) FieldNames() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, f.Name)
	}
	return out
}

// Has reports whether name is one of the schema's fields.
func (s *Schema) Has(name string) bool {
	return s.index(name) >= 0
}

func (s *Schema) index(name string) int {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return i
		}
	}
	return -1
}
