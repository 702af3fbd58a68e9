package pdl

import (
	"fmt"

	"github.com/ssw-labs/flowcore/pkg/apperr"
)

// Diagnostic is one compile-time finding. Kind mirrors apperr.Kind values
// but stays a plain string here so diagnostics can be collected even when
// compilation does not abort (e.g. a single malformed rule among many).
type Diagnostic struct {
	Kind     string
	Location string
	Message  string
	RulePath string
}

// namespacedTypeWhitelist lists the registered ns/name type prefixes.
var namespacedTypeWhitelist = map[string]bool{
	"time": true, "http": true, "proto": true, "syslog": true, "net": true,
}

var builtinTypes = map[string]bool{
	"chars": true, "digit": true, "float": true, "bool": true, "ip": true,
	"ipnet": true, "bytes": true, "json": true, "kv": true, "kvarr": true,
	"obj": true, "array": true, "_": true, "raw": true,
}

// Compiled is the output of compiling one or more PDL documents: a
// rule_id -> Rule index, ready for the matcher.
type Compiled struct {
	Rules []*Rule
	byID  map[string]*Rule
}

// Lookup returns the compiled rule for an exact rule_id.
func (c *Compiled) Lookup(ruleID string) (*Rule, bool) {
	r, ok := c.byID[ruleID]
	return r, ok
}

// Compile parses src and validates every rule, returning the compiled set
// plus a diagnostic list. A rule that fails validation is excluded from
// the result but does not stop compilation of the remaining rules,
// matching the "all-or-nothing per rule" failure contract.
func Compile(src string) (*Compiled, []Diagnostic, error) {
	doc, err := Parse(src)
	if err != nil {
		return nil, nil, err
	}
	out := &Compiled{byID: map[string]*Rule{}}
	var diags []Diagnostic
	for _, pkg := range doc.Packages {
		for i := range pkg.Rules {
			r := pkg.Rules[i]
			ruleDiags := validateRule(&r)
			if len(ruleDiags) > 0 {
				for _, d := range ruleDiags {
					d.RulePath = r.Path
					diags = append(diags, d)
				}
				continue
			}
			out.Rules = append(out.Rules, &r)
			out.byID[r.Path] = &r
		}
	}
	return out, diags, nil
}

func validateRule(r *Rule) []Diagnostic {
	var diags []Diagnostic
	add := func(kind, msg string) {
		diags = append(diags, Diagnostic{Kind: kind, Message: msg})
	}

	for _, step := range r.Preproc {
		if step.Namespace != "plg_pipe" {
			if !validPreprocStep(step.Namespace, step.Name) {
				add("compile", fmt.Sprintf("unknown preprocessing step %s/%s", step.Namespace, step.Name))
			}
		}
	}

	var walkFields func(fields []FieldNode)
	walkFields = func(fields []FieldNode) {
		for _, f := range fields {
			if reservedWords[f.Name] {
				add("compile", fmt.Sprintf("reserved word %q used as field name", f.Name))
			}
			if !validType(f.Type) {
				add("compile", fmt.Sprintf("unknown type %q", f.Type.String()))
			}
			if f.FieldCnt >= 0 && f.Type.Name != "chars" && f.Type.Name != "_" {
				add("compile", fmt.Sprintf("field_cnt ('^%d') only legal on chars/_ types, got %q", f.FieldCnt, f.Type.String()))
			}
			for _, pc := range f.Pipes {
				if err := validatePipeCall(pc); err != nil {
					add("compile", err.Error())
				}
			}
			walkFields(f.SubFields)
		}
	}
	for _, g := range r.Groups {
		walkFields(g.Fields)
	}
	return diags
}

func validPreprocStep(ns, name string) bool {
	switch ns {
	case "decode":
		return name == "base64" || name == "hex"
	case "unquote":
		return name == "unescape"
	case "strip":
		return name == "bom"
	default:
		return false
	}
}

func validType(t DataType) bool {
	if t.Name == "array" {
		if t.ArrayOf == nil {
			return true
		}
		return validType(*t.ArrayOf)
	}
	if t.Namespace != "" {
		return namespacedTypeWhitelist[t.Namespace]
	}
	return builtinTypes[t.Name]
}

func validatePipeCall(pc PipeCall) error {
	sig, ok := FieldPipeCatalogue[pc.Name]
	if !ok {
		return apperr.Compile("pdl", "validate_pipe", fmt.Sprintf("unknown pipe function %q", pc.Name))
	}
	if sig.Arity >= 0 && len(pc.Args) != sig.Arity {
		return apperr.Compile("pdl", "validate_pipe", fmt.Sprintf("pipe %q expects %d arguments, got %d", pc.Name, sig.Arity, len(pc.Args)))
	}
	return nil
}
