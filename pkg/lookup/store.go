// Package lookup implements the backing key/value store MDL's select_expr
// queries against, plus the consistent hashing layer used to shard lookups
// across a pool of store instances.
package lookup

import (
	"context"

	"github.com/ssw-labs/flowcore/pkg/record"
)

// Store is the full lookup surface: single-key Get/Set against an external
// table, and Select for MDL's "select cols from table where predicate"
// form. The MDL evaluator calls only Select; read()/take() resolve against
// the input record and never reach the store.
type Store interface {
	Get(ctx context.Context, table, key string) (record.Value, bool, error)
	Set(ctx context.Context, table, key string, v record.Value) error
	Select(table string, cols []string, where string, rec *record.Record) ([]record.Value, error)
}

// Stats exposes counters a metrics layer can scrape without depending on
// a concrete Store implementation.
type Stats struct {
	Hits   int64
	Misses int64
	Errors int64
}
