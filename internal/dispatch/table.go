// Package dispatch builds the rule_id -> (model, sink group) index at load
// time and routes a parsed record through it, keying fan-out off a PDL
// rule_id against each MDL model's rule pattern rather than a fixed
// label set.
package dispatch

import (
	"strings"
	"sync"

	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/mdl"
)

// SinkGroup names the sinks one model's output fans out to, plus the "oml"
// (output model list) policy controlling which matched models feed it.
type SinkGroup struct {
	Name  string
	Sinks []string
	OML   []string // ["*"] = all matches, ["name",...] = filter, [] = pass-through
}

// Binding is one compiled model paired with the sink groups it feeds.
type Binding struct {
	Model     *mdl.Compiled
	Evaluator *mdl.Evaluator
	Groups    []SinkGroup
}

// entry is one dispatch-table slot: either an exact rule_id or a wildcard
// pattern (containing "*"), carrying the bindings that apply to it.
type entry struct {
	pattern  string
	wildcard bool
	bindings []Binding
}

// Table is the rule_id -> bindings index built once at load and read
// concurrently by every worker thereafter. Add takes the lock exclusively;
// Match takes it shared.
type Table struct {
	mu        sync.RWMutex
	exact     map[string][]Binding
	wildcards []entry
}

// NewTable builds an empty table; call Add for each compiled model before
// serving traffic, then treat the table as read-only.
func NewTable() *Table {
	return &Table{exact: map[string][]Binding{}}
}

// Add registers one compiled model's bindings under its rule pattern. A
// pattern containing "*" is stored as a wildcard entry and matched in
// registration order after exact-match lookup misses: exact match first,
// then wildcard patterns in configured order.
func (t *Table) Add(pattern string, b Binding) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pattern == "" {
		return apperr.Compile("dispatch", "add", "empty rule pattern")
	}
	if strings.Contains(pattern, "*") {
		t.wildcards = append(t.wildcards, entry{pattern: pattern, wildcard: true, bindings: []Binding{b}})
		return nil
	}
	t.exact[pattern] = append(t.exact[pattern], b)
	return nil
}

// Match returns every binding whose rule pattern matches ruleID: an exact
// hit short-circuits, falling back to wildcard patterns tried in the order
// they were registered.
func (t *Table) Match(ruleID string) []Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if bs, ok := t.exact[ruleID]; ok {
		return bs
	}
	var out []Binding
	for _, e := range t.wildcards {
		if wildcardMatch(e.pattern, ruleID) {
			out = append(out, e.bindings...)
		}
	}
	return out
}

// wildcardMatch implements the single "*" rule-pattern form used by PDL
// rule paths: at most one "*" segment, matching any run of path bytes.
func wildcardMatch(pattern, ruleID string) bool {
	idx := strings.IndexByte(pattern, '*')
	if idx < 0 {
		return pattern == ruleID
	}
	prefix, suffix := pattern[:idx], pattern[idx+1:]
	return strings.HasPrefix(ruleID, prefix) && strings.HasSuffix(ruleID, suffix) &&
		len(ruleID) >= len(prefix)+len(suffix)
}
