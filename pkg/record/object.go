package record

import "strings"

// Object is an ordered name -> Value map, used for MDL's object{} blocks
// and for JSON/KV sub-field compounds that retain their original key
// order. Lookups are linear; object bodies are small (tens of keys), so a
// hash index would not pay for itself and would cost an allocation on
// every sub-parse.
type Object struct {
	keys   []string
	values []Value
}

// NewObject returns an empty, ready-to-use Object.
func NewObject() *Object { return &Object{} }

// Set appends or overwrites a key, preserving first-insertion order on
// overwrite.
func (o *Object) Set(key string, v Value) {
	for i, k := range o.keys {
		if k == key {
			o.values[i] = v
			return
		}
	}
	o.keys = append(o.keys, key)
	o.values = append(o.values, v)
}

// Get looks up a key; ok is false when the key is absent (distinct from
// the key being present with an Ignore value).
func (o *Object) Get(key string) (Value, bool) {
	for i, k := range o.keys {
		if k == key {
			return o.values[i], true
		}
	}
	return Ignore, false
}

// Keys returns the ordered key list. Callers must not mutate the slice.
func (o *Object) Keys() []string { return o.keys }

// Len reports the number of keys.
func (o *Object) Len() int { return len(o.keys) }

func (o *Object) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(o.values[i].String())
	}
	b.WriteByte('}')
	return b.String()
}
