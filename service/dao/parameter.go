package dao

// Parameter is a name/value filter applied by List implementations. An
// implementation that does not recognise a name ignores it.
type Parameter struct {
	Name  string
	Value interface{}
}

// NewParameter builds a filter; a single value stays scalar, several become
// a slice.
func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}

// StringValue returns the scalar string value, or "" when the parameter
// holds something else.
func (p *Parameter) StringValue() string {
	if p == nil {
		return ""
	}
	if s, ok := p.Value.(string); ok {
		return s
	}
	return ""
}
