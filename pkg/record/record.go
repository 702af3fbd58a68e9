package record

import "strconv"

// Record is an ordered sequence of fields carrying the rule_id of the PDL
// rule that produced them. Duplicate field names are permitted; repeated
// keys inside a KV body are exposed positionally as name[0], name[1], ...
// by IndexedName, applied by the KV parser, never inferred here. Fields
// produced repeatedly by a some_of group keep their plain name.
type Record struct {
	RuleID    string
	Fields    []Field
	HasTemp   bool // true iff compile-time analysis found a "__" target
}

// New returns an empty record for the given rule id.
func New(ruleID string) *Record {
	return &Record{RuleID: ruleID}
}

// Append adds a field, preserving arrival order.
func (r *Record) Append(f Field) {
	r.Fields = append(r.Fields, f)
	if f.IsTemporary() {
		r.HasTemp = true
	}
}

// IndexedName renders the "name[i]" form used for repeated keys.
func IndexedName(base string, i int) string {
	return base + "[" + strconv.Itoa(i) + "]"
}

// Get returns the value of the first field named name, ok=false if absent.
func (r *Record) Get(name string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Ignore, false
}

// GetAll returns every field named name, in record order.
func (r *Record) GetAll(name string) []Field {
	var out []Field
	for _, f := range r.Fields {
		if f.Name == name {
			out = append(out, f)
		}
	}
	return out
}

// Names returns the field names in record order (not deduplicated).
func (r *Record) Names() []string {
	out := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		out[i] = f.Name
	}
	return out
}

// Remove deletes the first field named name (used by MDL's take()),
// reporting the removed value.
func (r *Record) Remove(name string) (Value, bool) {
	for i, f := range r.Fields {
		if f.Name == name {
			v := f.Value
			r.Fields = append(r.Fields[:i], r.Fields[i+1:]...)
			return v, true
		}
	}
	return Ignore, false
}

// ApplyTemporaryFilter rewrites every "__"-prefixed field's value to
// Ignore. Callers should skip calling this entirely when HasTemp is false
// (the compile-time hint), keeping the common case a no-op branch.
func (r *Record) ApplyTemporaryFilter() {
	if !r.HasTemp {
		return
	}
	for i := range r.Fields {
		if r.Fields[i].IsTemporary() {
			r.Fields[i].Value = Ignore
		}
	}
}

// Clone returns a shallow copy: the Field slice is copied into a new
// backing array, so fields can be appended or removed on the clone without
// touching r, but the underlying Value payloads (and any shared byte
// buffers) are not duplicated, matching the "record is owned by one worker
// at a time, fanned out via clone-on-write handles" contract.
func (r *Record) Clone() *Record {
	out := &Record{RuleID: r.RuleID, HasTemp: r.HasTemp}
	out.Fields = make([]Field, len(r.Fields))
	copy(out.Fields, r.Fields)
	return out
}
