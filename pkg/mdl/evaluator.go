package mdl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/record"
)

// LookupStore is the narrow interface the evaluator needs from a backing
// key/value or tabular store to execute select_expr and object{} bodies
// that call out to it. Concrete stores (e.g. the redis-backed one) satisfy
// this without the mdl package importing their transport dependencies.
type LookupStore interface {
	Select(table string, cols []string, where string, rec *record.Record) ([]record.Value, error)
}

// Evaluator executes one Compiled model's body against a field vector,
// producing an output record. It is stateless across calls beyond the
// immutable static pool, so one Evaluator may be shared by many workers.
type Evaluator struct {
	statics map[string]record.Value
	lookup  LookupStore
}

// NewEvaluator builds an Evaluator bound to a compiled model's static pool
// and a lookup store (nil is fine when the model never uses select_expr).
func NewEvaluator(c *Compiled, lookup LookupStore) *Evaluator {
	return &Evaluator{statics: c.Statics, lookup: lookup}
}

// Run executes model body statements against in, producing a new output
// record. Only take() mutates in: it removes the fields it resolves.
func (e *Evaluator) Run(model *Model, in *record.Record) (*record.Record, error) {
	out := record.New(in.RuleID)
	scope := &scope{in: in, locals: map[string]record.Value{}}
	for _, st := range model.Body {
		v, err := e.evalStmt(st, scope)
		if err != nil {
			return nil, err
		}
		e.assign(out, scope, st.Targets, v)
	}
	out.HasTemp = model.HasTemp
	out.ApplyTemporaryFilter()
	return out, nil
}

type scope struct {
	in     *record.Record
	locals map[string]record.Value
}

func (e *Evaluator) assign(out *record.Record, sc *scope, targets []Target, v record.Value) {
	if len(targets) == 1 {
		t := targets[0]
		if t.Discard {
			return
		}
		sc.locals[t.Name] = v
		out.Append(record.NewField(t.Name, t.Type, v))
		return
	}
	// multi-target destructuring: only meaningful when v is an Array with
	// matching arity; extra targets receive Ignore.
	arr, ok := v.Array()
	for i, t := range targets {
		if t.Discard {
			continue
		}
		var tv record.Value
		if ok && i < len(arr) {
			tv = arr[i]
		} else if !ok && i == 0 {
			tv = v
		} else {
			tv = record.Ignore
		}
		sc.locals[t.Name] = tv
		out.Append(record.NewField(t.Name, t.Type, tv))
	}
}

func (e *Evaluator) evalStmt(st Statement, sc *scope) (record.Value, error) {
	if st.Pure {
		if v, ok := e.lookupPureResult(st); ok {
			return v, nil
		}
	}
	return e.eval(st.Expr, sc)
}

// lookupPureResult returns a cached static-pool value for a body statement
// that is itself pure but was not hoisted (e.g. pure expressions outside
// the static{} block still get no compiler caching beyond the pool built
// from static{} itself) — this is a no-op fast path placeholder that keeps
// room for future memoization without changing evaluation semantics.
func (e *Evaluator) lookupPureResult(st Statement) (record.Value, bool) {
	return record.Value{}, false
}

func (e *Evaluator) eval(expr Expr, sc *scope) (record.Value, error) {
	switch v := expr.(type) {
	case LiteralExpr:
		return evalLiteral(v)
	case VarGetExpr:
		if sc != nil {
			if val, ok := sc.locals[v.Name]; ok {
				return val, nil
			}
		}
		if val, ok := e.statics[v.Name]; ok {
			return val, nil
		}
		return record.Ignore, apperr.Transform("mdl", "var_get", "undefined variable "+v.Name)
	case ReadExpr:
		return e.evalRead(v, sc)
	case FmtExpr:
		return e.evalFmt(v, sc)
	case PipeExpr:
		seed, err := e.eval(v.Seed, sc)
		if err != nil {
			return record.Value{}, err
		}
		return e.runPipes(seed, v.Pipes, sc)
	case MatchExpr:
		return e.evalMatch(v, sc)
	case ObjectExpr:
		return e.evalObject(v, sc)
	case CollectExpr:
		return e.evalCollect(v, sc)
	case SQLExpr:
		return e.evalSQL(v, sc)
	case BuiltinCallExpr:
		return e.evalBuiltin(v, sc)
	default:
		return record.Value{}, apperr.Invariant("mdl", "eval", "unknown expression kind")
	}
}

func evalLiteral(l LiteralExpr) (record.Value, error) {
	lit := strings.Trim(l.Lit, "'\"")
	switch l.TypeName {
	case "chars", "raw":
		return record.Chars(lit), nil
	case "digit":
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return record.Value{}, apperr.Transform("mdl", "literal", "invalid digit literal "+lit)
		}
		return record.Digit(n), nil
	case "float":
		n, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return record.Value{}, apperr.Transform("mdl", "literal", "invalid float literal "+lit)
		}
		return record.Float(n), nil
	case "bool":
		return record.Bool(lit == "true"), nil
	default:
		return record.Chars(lit), nil
	}
}

// evalRead resolves read()/take() against the input record using the
// priority order option > keys > get > bare key. take() additionally
// removes the resolved field(s) from the input scope's underlying record.
func (e *Evaluator) evalRead(r ReadExpr, sc *scope) (record.Value, error) {
	var result record.Value
	found := false

	switch {
	case len(r.Args.Option) > 0:
		for _, k := range r.Args.Option {
			if v, ok := sc.in.Get(k); ok && !v.IsIgnore() {
				result, found = v, true
				if r.Take {
					sc.in.Remove(k)
				}
				break
			}
		}
	case len(r.Args.Keys) > 0:
		var arr []record.Value
		for _, pat := range r.Args.Keys {
			for _, name := range sc.in.Names() {
				if matchKeyPattern(pat, name) {
					if v, ok := sc.in.Get(name); ok {
						arr = append(arr, v)
					}
				}
			}
		}
		if len(arr) > 0 {
			result, found = record.Array(arr), true
			if r.Take {
				for _, pat := range r.Args.Keys {
					for _, name := range append([]string{}, sc.in.Names()...) {
						if matchKeyPattern(pat, name) {
							sc.in.Remove(name)
						}
					}
				}
			}
		}
	case r.Args.Get != "":
		if v, ok := e.resolvePath(sc.in, r.Args.Get); ok {
			result, found = v, true
			if r.Take {
				sc.in.Remove(r.Args.Get)
			}
		}
	case r.Args.Key != "":
		if v, ok := e.resolvePath(sc.in, r.Args.Key); ok {
			result, found = v, true
			if r.Take {
				sc.in.Remove(r.Args.Key)
			}
		}
	}

	if found {
		return result, nil
	}
	if r.Default != nil {
		return e.eval(r.Default, sc)
	}
	return record.Ignore, nil
}

// resolvePath supports a bare field name or a dotted "a.b.c" path walking
// into nested Object values produced by json/kv sub-fields.
func (e *Evaluator) resolvePath(rec *record.Record, path string) (record.Value, bool) {
	parts := strings.Split(path, ".")
	v, ok := rec.Get(parts[0])
	if !ok {
		return record.Ignore, false
	}
	for _, p := range parts[1:] {
		obj, isObj := v.Object()
		if !isObj {
			return record.Ignore, false
		}
		v, ok = obj.Get(p)
		if !ok {
			return record.Ignore, false
		}
	}
	return v, true
}

func matchKeyPattern(pattern, name string) bool {
	if pattern == name {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

func (e *Evaluator) evalFmt(f FmtExpr, sc *scope) (record.Value, error) {
	args := make([]interface{}, len(f.Args))
	for i, a := range f.Args {
		v, err := e.eval(a, sc)
		if err != nil {
			return record.Value{}, err
		}
		s, _ := v.AsChars()
		args[i] = s
	}
	return record.Chars(fmt.Sprintf(rewriteFmtVerbs(f.Format), args...)), nil
}

// rewriteFmtVerbs converts MDL's "%v"-only format mini-language assumption
// through unchanged; kept as a seam in case future verbs diverge from
// fmt.Sprintf's.
func rewriteFmtVerbs(format string) string { return format }

func (e *Evaluator) evalMatch(m MatchExpr, sc *scope) (record.Value, error) {
	scrutinees := make([]record.Value, len(m.Scrutinee))
	for i, s := range m.Scrutinee {
		v, err := e.eval(s, sc)
		if err != nil {
			return record.Value{}, err
		}
		scrutinees[i] = v
	}
	for _, c := range m.Cases {
		for _, cond := range c.Conds {
			ok, err := e.evalCond(cond, scrutinees)
			if err != nil {
				return record.Value{}, err
			}
			if ok {
				return e.eval(c.Result, sc)
			}
		}
	}
	if m.Default != nil {
		return e.eval(m.Default, sc)
	}
	return record.Ignore, nil
}

func (e *Evaluator) evalCond(c Cond, scrutinees []record.Value) (bool, error) {
	if len(scrutinees) == 0 {
		return false, nil
	}
	sv := scrutinees[0]
	str, _ := sv.AsChars()

	switch {
	case c.LiteralEq != nil:
		lit, err := evalLiteral(*c.LiteralEq)
		if err != nil {
			return false, err
		}
		return sv.Equal(lit), nil
	case c.IsRange:
		n, ok := numericOf(sv)
		if !ok {
			return false, nil
		}
		lo, _ := strconv.ParseFloat(c.RangeLo, 64)
		hi, _ := strconv.ParseFloat(c.RangeHi, 64)
		return n >= lo && n <= hi, nil
	case c.FuncName != "":
		return evalMatchFunc(c.FuncName, c.FuncArgs, sv, str)
	}
	return false, nil
}

func numericOf(v record.Value) (float64, bool) {
	if n, ok := v.Digit(); ok {
		return float64(n), true
	}
	if n, ok := v.Float(); ok {
		return n, true
	}
	return 0, false
}

func evalMatchFunc(name string, args []string, sv record.Value, str string) (bool, error) {
	arg := func(i int) string {
		if i < len(args) {
			return strings.Trim(args[i], "'\"")
		}
		return ""
	}
	switch name {
	case "starts_with":
		return strings.HasPrefix(str, arg(0)), nil
	case "ends_with":
		return strings.HasSuffix(str, arg(0)), nil
	case "contains":
		return strings.Contains(str, arg(0)), nil
	case "iequals":
		return strings.EqualFold(str, arg(0)), nil
	case "is_empty":
		return str == "" || sv.IsIgnore(), nil
	case "regex_match":
		re, err := compileMatchRegex(arg(0))
		if err != nil {
			return false, err
		}
		return re.MatchString(str), nil
	case "gt", "lt", "eq":
		n, ok := numericOf(sv)
		if !ok {
			return false, nil
		}
		cmp, err := strconv.ParseFloat(arg(0), 64)
		if err != nil {
			return false, nil
		}
		switch name {
		case "gt":
			return n > cmp, nil
		case "lt":
			return n < cmp, nil
		default:
			return n == cmp, nil
		}
	case "in_range":
		n, ok := numericOf(sv)
		if !ok {
			return false, nil
		}
		lo, _ := strconv.ParseFloat(arg(0), 64)
		hi, _ := strconv.ParseFloat(arg(1), 64)
		return n >= lo && n <= hi, nil
	default:
		return false, apperr.Compile("mdl", "match_func", "unknown match function "+name)
	}
}

var matchRegexCache sync.Map

func compileMatchRegex(pattern string) (*regexp.Regexp, error) {
	if v, ok := matchRegexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, apperr.Compile("mdl", "regex_match", "invalid regex "+pattern).Wrap(err)
	}
	matchRegexCache.Store(pattern, re)
	return re, nil
}

func (e *Evaluator) evalObject(o ObjectExpr, sc *scope) (record.Value, error) {
	obj := record.NewObject()
	nested := &scope{locals: map[string]record.Value{}}
	if sc != nil {
		nested.in = sc.in
		for k, v := range sc.locals {
			nested.locals[k] = v
		}
	}
	for _, st := range o.Body {
		v, err := e.eval(st.Expr, nested)
		if err != nil {
			return record.Value{}, err
		}
		for _, t := range st.Targets {
			if t.Discard {
				continue
			}
			nested.locals[t.Name] = v
			obj.Set(t.Name, v)
		}
	}
	return record.ObjectValue(obj), nil
}

func (e *Evaluator) evalCollect(c CollectExpr, sc *scope) (record.Value, error) {
	v, err := e.eval(c.Inner, sc)
	if err != nil {
		return record.Value{}, err
	}
	if _, ok := v.Array(); ok {
		return v, nil
	}
	if v.IsIgnore() {
		return record.Array(nil), nil
	}
	return record.Array([]record.Value{v}), nil
}

func (e *Evaluator) evalSQL(s SQLExpr, sc *scope) (record.Value, error) {
	if e.lookup == nil {
		return record.Value{}, apperr.Transform("mdl", "select", "no lookup store configured for select_expr")
	}
	rows, err := e.lookup.Select(s.Table, s.Cols, s.Where, sc.in)
	if err != nil {
		return record.Value{}, apperr.SinkIO("mdl", "select", "lookup store query failed").Wrap(err)
	}
	return record.Array(rows), nil
}

func (e *Evaluator) evalBuiltin(b BuiltinCallExpr, sc *scope) (record.Value, error) {
	args := make([]record.Value, len(b.Args))
	for i, a := range b.Args {
		v, err := e.eval(a, sc)
		if err != nil {
			return record.Value{}, err
		}
		args[i] = v
	}
	return runBuiltin(b.Namespace, b.Name, args)
}
