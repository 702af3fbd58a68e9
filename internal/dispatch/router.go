package dispatch

import (
	"github.com/sirupsen/logrus"

	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/record"
)

// Outcome is one sink group's share of a single dispatch fan-out: the
// group's name, the resolved sink names, and the records to hand to
// the sink runtime for that group.
type Outcome struct {
	Group   string
	Sinks   []string
	Records []*record.Record
}

// Router is logically stateless: it runs on the worker goroutine that owns
// the input record and never blocks or retains state between calls.
type Router struct {
	table  *Table
	logger *logrus.Logger
	miss   *MissSink
}

// NewRouter binds a Router to an immutable dispatch Table. miss may be nil,
// in which case a transform failure is only logged, not persisted.
func NewRouter(table *Table, logger *logrus.Logger, miss *MissSink) *Router {
	return &Router{table: table, logger: logger, miss: miss}
}

// Route matches in against the dispatch table, runs each matching model's
// transform, and groups the resulting output records by sink group
// according to that group's oml policy. in is never mutated; every model
// receives a clone-on-write handle (record.Clone copies the field slice
// but not the field payload buffers).
func (r *Router) Route(in *record.Record) ([]Outcome, error) {
	bindings := r.table.Match(in.RuleID)
	if len(bindings) == 0 {
		return nil, nil
	}

	type matched struct {
		modelName string
		out       *record.Record
	}
	var matches []matched

	for _, b := range bindings {
		handle := in.Clone()
		out, err := b.Evaluator.Run(b.Model.Model, handle)
		if err != nil {
			if ae, ok := apperr.As(err); ok {
				r.logger.WithFields(logrus.Fields{
					"rule_id": in.RuleID,
					"model":   b.Model.Model.Name,
					"kind":    ae.Kind,
				}).Warn("model transform failed, record diverted to miss sink")
			}
			if r.miss != nil {
				entry := entryFromError(in.RuleID, b.Model.Model.Name, err)
				entry.Fields = fieldsToMap(in)
				r.miss.Write(entry)
			}
			continue
		}
		matches = append(matches, matched{modelName: b.Model.Model.Name, out: out})
	}

	byGroup := map[string]*Outcome{}
	var order []string
	for _, b := range bindings {
		for _, g := range b.Groups {
			if _, seen := byGroup[g.Name]; seen {
				continue
			}
			byGroup[g.Name] = &Outcome{Group: g.Name, Sinks: g.Sinks}
			order = append(order, g.Name)

			switch {
			case len(g.OML) == 0:
				// pass-through: forward the input record unchanged, no transform.
				byGroup[g.Name].Records = append(byGroup[g.Name].Records, in)
			case len(g.OML) == 1 && g.OML[0] == "*":
				for _, m := range matches {
					byGroup[g.Name].Records = append(byGroup[g.Name].Records, m.out)
				}
			default:
				allowed := map[string]bool{}
				for _, n := range g.OML {
					allowed[n] = true
				}
				for _, m := range matches {
					if allowed[m.modelName] {
						byGroup[g.Name].Records = append(byGroup[g.Name].Records, m.out)
					}
				}
			}
		}
	}

	out := make([]Outcome, 0, len(order))
	for _, name := range order {
		out = append(out, *byGroup[name])
	}
	return out, nil
}
