// Package mdl implements the Model DSL: lexer, parser, compiler (with
// static-block hoisting) and the evaluator that executes a compiled model
// against a field vector.
package mdl

// Target is one assignment destination. Discard marks "_" (value computed
// then dropped); Type is an optional ":type" coercion.
type Target struct {
	Name    string
	Type    string
	Discard bool
}

// IsTemporary reports whether the target name begins with "__".
func (t Target) IsTemporary() bool {
	return len(t.Name) >= 2 && t.Name[0] == '_' && t.Name[1] == '_'
}

// Statement assigns the evaluated Expr to one or more Targets.
type Statement struct {
	Targets []Target
	Expr    Expr
	Pure    bool // computed at compile time: true if Expr has no dependency on input
}

// Expr is the interface implemented by every expression-kind AST node.
type Expr interface{ isExpr() }

type LiteralExpr struct {
	TypeName string
	Lit      string
}

// ArgSpec is the argument form accepted by read()/take().
type ArgSpec struct {
	Option []string // option:[k,k,...] — first non-Ignore field wins
	Keys   []string // keys:[k,...] — collects all matches (wildcard *) into an Array
	Get    string    // get:v — single named field
	Key    string    // bare single key or JSON path
}

type ReadExpr struct {
	Take    bool
	Args    ArgSpec
	Default Expr // default body "{ _ : gen }", nil if absent
}

type FmtExpr struct {
	Format string
	Args   []Expr
}

type MDLPipeCall struct {
	Name string
	Args []string
}

type PipeExpr struct {
	Seed  Expr
	Pipes []MDLPipeCall
}

type VarGetExpr struct {
	Name string
}

// Cond is one branch condition in a match case, joined with other Conds
// in the same case by OR.
type Cond struct {
	// exactly one of the following is set
	LiteralEq  *LiteralExpr
	RangeLo    string
	RangeHi    string
	IsRange    bool
	FuncName   string
	FuncArgs   []string
}

type MatchCase struct {
	Conds  []Cond
	Result Expr
}

type MatchExpr struct {
	Scrutinee []Expr
	Cases     []MatchCase
	Default   Expr // nil if no "_ => ..." arm
}

type ObjectExpr struct {
	Body []Statement
}

type CollectExpr struct {
	Inner Expr
}

type SQLExpr struct {
	Cols  []string
	Table string
	Where string
}

type BuiltinCallExpr struct {
	Namespace string
	Name      string
	Args      []Expr
}

func (LiteralExpr) isExpr()     {}
func (ReadExpr) isExpr()        {}
func (FmtExpr) isExpr()         {}
func (PipeExpr) isExpr()        {}
func (VarGetExpr) isExpr()      {}
func (MatchExpr) isExpr()       {}
func (ObjectExpr) isExpr()      {}
func (CollectExpr) isExpr()     {}
func (SQLExpr) isExpr()         {}
func (BuiltinCallExpr) isExpr() {}

// Model is one compiled "name:...;rule:...;---..." declaration.
type Model struct {
	Name        string
	RulePattern string
	Enable      bool
	Static      []Statement
	Body        []Statement
	HasTemp     bool
}
