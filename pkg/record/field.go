package record

import "strings"

// Field is the (name, data_type, value) triple produced by the parse
// engine and consumed/produced by the transform engine. DataType is the
// declared PDL/MDL type name ("ip", "digit", "time/clf", "json", "obj",
// "array", "_" for ignore); Value's Kind is consistent with DataType by
// construction, never checked again downstream.
type Field struct {
	Name     string
	DataType string
	Value    Value
}

// NewField builds a Field, a thin constructor kept mainly so call sites
// read as a single expression inside group/pipe evaluation.
func NewField(name, dataType string, v Value) Field {
	return Field{Name: name, DataType: dataType, Value: v}
}

// IsTemporary reports whether the field's name begins with "__", the
// marker for names rewritten to Ignore once their producing rule/model
// finishes.
func (f Field) IsTemporary() bool {
	return strings.HasPrefix(f.Name, "__")
}

// IsIgnore reports whether the field's value is the absent sentinel.
func (f Field) IsIgnore() bool { return f.Value.IsIgnore() }
