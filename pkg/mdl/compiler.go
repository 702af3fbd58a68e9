package mdl

import (
	"os"
	"strings"

	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/record"
)

// Compiled is a model ready for repeated evaluation: the static block has
// been executed once into a constant pool, and references/SQL text have
// been validated.
type Compiled struct {
	Model   *Model
	Statics map[string]record.Value
}

// Compile parses src and resolves its static block into a constant pool.
// Compile errors here are fatal at load time, matching PDL's compile-time
// failure posture.
func Compile(src string) (*Compiled, error) {
	m, err := ParseModel(src)
	if err != nil {
		return nil, err
	}
	if !m.Enable {
		return &Compiled{Model: m, Statics: map[string]record.Value{}}, nil
	}

	statics := map[string]record.Value{}
	for _, st := range m.Static {
		if !st.Pure {
			return nil, apperr.Compile("mdl", "static", "static block statement depends on per-record input").
				WithMetadata("model", m.Name)
		}
		v, err := evalStaticExpr(st.Expr, statics)
		if err != nil {
			return nil, err
		}
		for _, t := range st.Targets {
			if !t.Discard {
				statics[t.Name] = v
			}
		}
	}

	if err := validateReferences(m, statics); err != nil {
		return nil, err
	}
	if err := validateSQL(m); err != nil {
		return nil, err
	}

	return &Compiled{Model: m, Statics: statics}, nil
}

// validateReferences ensures every VarGetExpr resolves to either a static
// pool entry or a body-local assigned by an earlier statement in the same
// model (mirroring the order Evaluator.Run actually populates sc.locals in,
// since body statements execute top to bottom and each target becomes
// visible to every statement after it, never before). read/take targets are
// resolved dynamically against a record, not at compile time, so they are
// not checked here.
func validateReferences(m *Model, statics map[string]record.Value) error {
	known := make(map[string]bool, len(statics))
	for name := range statics {
		known[name] = true
	}

	var walk func(e Expr) error
	walk = func(e Expr) error {
		switch v := e.(type) {
		case VarGetExpr:
			if !known[v.Name] {
				return apperr.Compile("mdl", "reference", "undefined variable "+v.Name).
					WithMetadata("model", m.Name)
			}
		case PipeExpr:
			return walk(v.Seed)
		case FmtExpr:
			for _, a := range v.Args {
				if err := walk(a); err != nil {
					return err
				}
			}
		case ObjectExpr:
			for _, st := range v.Body {
				if err := walk(st.Expr); err != nil {
					return err
				}
				for _, t := range st.Targets {
					if !t.Discard {
						known[t.Name] = true
					}
				}
			}
		case CollectExpr:
			return walk(v.Inner)
		case BuiltinCallExpr:
			for _, a := range v.Args {
				if err := walk(a); err != nil {
					return err
				}
			}
		case MatchExpr:
			for _, s := range v.Scrutinee {
				if err := walk(s); err != nil {
					return err
				}
			}
			for _, c := range v.Cases {
				if err := walk(c.Result); err != nil {
					return err
				}
			}
			if v.Default != nil {
				return walk(v.Default)
			}
		}
		return nil
	}
	for _, st := range m.Body {
		if err := walk(st.Expr); err != nil {
			return err
		}
		for _, t := range st.Targets {
			if !t.Discard {
				known[t.Name] = true
			}
		}
	}
	return nil
}

// validateSQL enforces the STRICT_SQL gate: when set, a select_expr whose
// Where text contains one of a fixed list of banned tokens (";", "--",
// drop/delete/insert/update/exec) fails to compile. Any other Where text
// passes through to the backing store unchanged.
func validateSQL(m *Model) error {
	if os.Getenv("STRICT_SQL") == "" {
		return nil
	}
	var walk func(e Expr) error
	banned := []string{";", "--", "drop ", "delete ", "insert ", "update ", "exec "}
	walk = func(e Expr) error {
		if sql, ok := e.(SQLExpr); ok {
			lower := strings.ToLower(sql.Where)
			for _, b := range banned {
				if strings.Contains(lower, b) {
					return apperr.Compile("mdl", "sql", "where predicate contains disallowed token").
						WithMetadata("model", m.Name).WithMetadata("token", b)
				}
			}
		}
		switch v := e.(type) {
		case PipeExpr:
			return walk(v.Seed)
		case ObjectExpr:
			for _, st := range v.Body {
				if err := walk(st.Expr); err != nil {
					return err
				}
			}
		case CollectExpr:
			return walk(v.Inner)
		}
		return nil
	}
	for _, st := range m.Body {
		if err := walk(st.Expr); err != nil {
			return err
		}
	}
	return nil
}

// evalStaticExpr evaluates a pure expression against the statics built so
// far. It reuses the runtime evaluator with a nil record/lookup context,
// since pure expressions by construction never touch either.
func evalStaticExpr(e Expr, statics map[string]record.Value) (record.Value, error) {
	ev := &Evaluator{statics: statics}
	return ev.eval(e, nil)
}
