package mdl

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-labs/flowcore/pkg/record"
)

// TestReadGetWithMatchBranch exercises spec scenario C: a JSON sub-field
// read via get(), then a match expression choosing a branch on a
// starts_with condition over the previously-assigned local.
func TestReadGetWithMatchBranch(t *testing.T) {
	src := `
name: /test/model_c;
---
lvl = read(message) | get(level);
severity = match lvl { starts_with('ERR') => chars(critical), _ => chars(info) };
`
	compiled, err := Compile(src)
	require.NoError(t, err)

	obj := record.NewObject()
	obj.Set("level", record.Chars("ERROR"))
	obj.Set("code", record.Digit(500))
	in := record.New("/app/log")
	in.Append(record.NewField("message", "json", record.ObjectValue(obj)))

	ev := NewEvaluator(compiled, nil)
	out, err := ev.Run(compiled.Model, in)
	require.NoError(t, err)

	sev, ok := out.Get("severity")
	require.True(t, ok)
	s, _ := sev.Chars()
	assert.Equal(t, "critical", s)
}

// TestReadGetWithMatchBranchDefaultArm checks the match's default arm
// fires when the condition fails.
func TestReadGetWithMatchBranchDefaultArm(t *testing.T) {
	src := `
name: /test/model_c_default;
---
lvl = read(message) | get(level);
severity = match lvl { starts_with('ERR') => chars(critical), _ => chars(info) };
`
	compiled, err := Compile(src)
	require.NoError(t, err)

	obj := record.NewObject()
	obj.Set("level", record.Chars("DEBUG"))
	in := record.New("/app/log")
	in.Append(record.NewField("message", "json", record.ObjectValue(obj)))

	ev := NewEvaluator(compiled, nil)
	out, err := ev.Run(compiled.Model, in)
	require.NoError(t, err)

	sev, ok := out.Get("severity")
	require.True(t, ok)
	s, _ := sev.Chars()
	assert.Equal(t, "info", s)
}

// TestStaticBlockEvaluatedOnce exercises spec scenario F: the static
// block's object{} is evaluated exactly once at compile time and every
// subsequent Run() call against distinct records sees the same cached
// constant.
func TestStaticBlockEvaluatedOnce(t *testing.T) {
	src := `
name: /test/static_once;
---
static {
	t = object {
		id = chars(E1);
		tpl = chars('X <*> Y');
	};
}
eid = t | get(id);
`
	compiled, err := Compile(src)
	require.NoError(t, err)

	staticObj, ok := compiled.Statics["t"].Object()
	require.True(t, ok)
	idVal, ok := staticObj.Get("id")
	require.True(t, ok)
	s, _ := idVal.Chars()
	assert.Equal(t, "E1", s)

	ev := NewEvaluator(compiled, nil)
	for i := 0; i < 5; i++ {
		in := record.New("/test/rule")
		in.Append(record.NewField("n", "chars", record.Chars(fmt.Sprintf("rec-%d", i))))

		out, err := ev.Run(compiled.Model, in)
		require.NoError(t, err)

		eid, ok := out.Get("eid")
		require.True(t, ok)
		got, _ := eid.Chars()
		assert.Equal(t, "E1", got)
	}
}

// TestStaticBlockRejectsImpureStatement checks that a static{} statement
// depending on per-record input (read/take) fails to compile rather than
// silently evaluating against a nil record.
func TestStaticBlockRejectsImpureStatement(t *testing.T) {
	src := `
name: /test/impure_static;
---
static {
	x = read(foo);
}
y = x;
`
	_, err := Compile(src)
	assert.Error(t, err)
}

// TestTakeRemovesFieldFromInput checks the take()/read() distinction: a
// taken field is physically removed from the underlying input record, so
// a later read() of the same key finds nothing.
func TestTakeRemovesFieldFromInput(t *testing.T) {
	src := `
name: /test/take;
---
a = take(x);
b = read(x);
`
	compiled, err := Compile(src)
	require.NoError(t, err)

	in := record.New("/test/rule")
	in.Append(record.NewField("x", "chars", record.Chars("hello")))

	ev := NewEvaluator(compiled, nil)
	out, err := ev.Run(compiled.Model, in)
	require.NoError(t, err)

	a, ok := out.Get("a")
	require.True(t, ok)
	s, _ := a.Chars()
	assert.Equal(t, "hello", s)

	b, ok := out.Get("b")
	require.True(t, ok)
	assert.True(t, b.IsIgnore())
}

// TestStrictSQLGateRejectsDisallowedToken checks that STRICT_SQL, when
// set, rejects a select_expr whose where predicate contains a banned
// keyword instead of handing it verbatim to the lookup store.
func TestStrictSQLGateRejectsDisallowedToken(t *testing.T) {
	t.Setenv("STRICT_SQL", "1")

	src := `
name: /test/sql_gate;
---
row = select * from events where id = 1 or drop something;
`
	_, err := Compile(src)
	assert.Error(t, err)
}

// TestSQLGateUnsetAllowsAnyPredicate checks the STRICT_SQL gate is opt-in:
// with the env var unset, the same predicate compiles fine.
func TestSQLGateUnsetAllowsAnyPredicate(t *testing.T) {
	src := `
name: /test/sql_gate_unset;
---
row = select * from events where id = 1 or drop something;
`
	_, err := Compile(src)
	require.NoError(t, err)
}
