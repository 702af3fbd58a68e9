// Package pdl implements the Parse DSL: lexer, parser, compiler and the
// byte-level matcher that executes a compiled rule against a payload.
package pdl

import "github.com/ssw-labs/flowcore/pkg/scan"

// DataType names a field's declared type: a builtin ("chars", "digit",
// "ip", ...), a namespaced builtin ("time/clf", "http/request"), or
// "array" with an optional element subtype.
type DataType struct {
	Namespace string
	Name      string
	ArrayOf   *DataType
}

func (t DataType) String() string {
	s := t.Name
	if t.Namespace != "" {
		s = t.Namespace + "/" + t.Name
	}
	if t.ArrayOf != nil {
		s += "/" + t.ArrayOf.String()
	}
	return s
}

// PipeCall is one "| name(args)" stage in a field's pipe chain.
type PipeCall struct {
	Name string
	Args []string
	Neg  bool // wrapped in not(...)
}

// Format captures a field's optional "<L,R>" scope markers or a quote
// character, used by quoted/scoped field scanning.
type Format struct {
	HasQuote bool
	Quote    byte
	HasScope bool
	ScopeL   string
	ScopeR   string
}

// Annotation is a "#[tag(k:v,...)]" or "#[copy_raw(name)]" marker.
type Annotation struct {
	Tag      string
	KV       map[string]string
	CopyRaw  string
}

// PreprocStep is one stage of a rule's "|ns/name|..." preprocessing
// pipeline, applied to the whole payload before field matching.
type PreprocStep struct {
	Namespace string
	Name      string
	PluginKey string // set when Namespace=="plg_pipe"
}

// IncompletePolicy controls RuleIncomplete handling for a rule.
type IncompletePolicy string

const (
	IncompleteError  IncompletePolicy = "error"
	IncompleteWarn   IncompletePolicy = "warn"
	IncompleteSilent IncompletePolicy = "silent"
)

// FieldNode is a leaf field declaration inside a group.
type FieldNode struct {
	Repeat      bool
	Type        DataType
	SubFields   []FieldNode // json/kv/kvarr children, declaration order
	Name        string
	FieldCnt    int // "^n", -1 when absent
	Format      *Format
	Sep         *scan.Separator
	Pipes       []PipeCall
	Annotations []Annotation
}

// GroupMeta is the group combinator kind.
type GroupMeta string

const (
	MetaSeq     GroupMeta = "seq"
	MetaAlt     GroupMeta = "alt"
	MetaOpt     GroupMeta = "opt"
	MetaSomeOf  GroupMeta = "some_of"
	MetaNot     GroupMeta = "not"
)

// GroupNode is one "(meta? field,...)[n]sep" clause of a rule body.
type GroupNode struct {
	Meta   GroupMeta
	Fields []FieldNode
	Length int // "[n]" bound, -1 when absent
	Sep    *scan.Separator
}

// Rule is one compiled-from-source "rule <path> { ... }" declaration.
type Rule struct {
	Path             string
	Preproc          []PreprocStep
	Groups           []GroupNode
	Annotations      []Annotation
	NoTemporaries    bool
	IncompletePolicy IncompletePolicy
}

// Package groups rules declared under one "package P { ... }" block.
type Package struct {
	Name  string
	Rules []Rule
}

// Document is the parse result of one PDL source unit.
type Document struct {
	Packages []Package
}
