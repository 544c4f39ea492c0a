// Package operator implements the operator ABI and the built-in
// vectorized stages $match, $project, $group, $sort, $limit, $skip,
// $unwind and $lookup (spec.md §4.4, component C4).
package operator

import (
	"time"

	"mddb-ivm/document"
	"mddb-ivm/internal/batch"
	"mddb-ivm/internal/rowid"
)

// FieldInfo describes one field of a schema an operator must resolve
// references against.
type FieldInfo struct {
	Name string
	Kind batch.Kind
}

// Schema is the ordered set of fields an operator's input batches
// carry.
type Schema struct {
	Fields []FieldInfo
}

// HasField reports whether name is present in the schema.
func (s Schema) HasField(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// OnTransformFunc records a per-row field transformation for late
// materialization (spec.md §4.4, §4.6).
type OnTransformFunc func(row rowid.RowID, field string, value document.Value)

// Hints carries planning information init-time operators use to size
// themselves and opt into late materialization.
type Hints struct {
	ExpectedBatchSize   int
	ExpectedSelectivity float64
	KnownSorted         []string
	MemoryBudget        int64
	OnTransform         OnTransformFunc
	// Strict forbids silent row-by-row fallback inside a single
	// operator; the compiler sets this when the caller requested
	// strict mode (spec.md §4.4.1).
	Strict bool
}

// Metrics reports what a Push call did.
type Metrics struct {
	RowsIn, RowsOut int
	Duration        time.Duration
}

// PushResult is what Push returns: an output batch plus selection and
// metrics. Non-blocking operators emit immediately; $group and $sort
// buffer and return an empty selection until Flush.
type PushResult struct {
	Output    *batch.Batch
	Selection batch.Selection
	Metrics   Metrics
}

// Operator is the four-phase ABI every stage implements (spec.md
// §4.4): init resolves references and allocates state, push processes
// one batch non-blockingly (except $group/$sort), flush emits
// buffered state, close releases resources and is idempotent.
type Operator interface {
	Init(schema Schema, hints Hints) error
	Push(b *batch.Batch) (PushResult, error)
	Flush() (*batch.Batch, bool, error)
	Close() error
}

// Blocking reports whether an operator type buffers across pushes.
// Only $group and $sort are blocking (spec.md §4.4).
type Blocking interface {
	Blocking() bool
}

// Incremental is implemented by operators that can apply a single-row
// delta without a full re-scan (spec.md §4.7). ApplyIncrement handles
// a +1 delta and ApplyDecrement a -1 delta; each returns the deltas to
// pass downstream, which may be none.
type Incremental interface {
	ApplyIncrement(row rowid.RowID, doc *document.Document) []Delta
	ApplyDecrement(row rowid.RowID, doc *document.Document) []Delta
}

// ForeignIncremental is implemented by operators whose incremental
// update draws on a second, non-primary collection — currently only
// $lookup. A delta arriving on that foreign collection is applied
// through these methods instead of ApplyIncrement/ApplyDecrement,
// which only ever see deltas on the operator's primary (local) input
// (spec.md §4.7: "a delta on either side emits the join deltas
// incident to matching rows").
type ForeignIncremental interface {
	ApplyForeignIncrement(row rowid.RowID, doc *document.Document) []Delta
	ApplyForeignDecrement(row rowid.RowID, doc *document.Document) []Delta
}

// Delta is the unit the IVM engine propagates between operators: one
// row, signed +1 (insert) or -1 (retract) (spec.md §4.7).
type Delta struct {
	Row  rowid.RowID
	Doc  *document.Document
	Sign int8
}
