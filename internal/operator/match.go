package operator

import (
	"github.com/bits-and-blooms/bloom/v3"

	"mddb-ivm/document"
	"mddb-ivm/internal/batch"
	"mddb-ivm/internal/container"
	"mddb-ivm/internal/expr"
	"mddb-ivm/internal/rowid"
	"mddb-ivm/mddberr"
)

// bloomInThreshold is the $in/$nin list size at or above which a Bloom
// prefilter is worth building: below it, the linear scan through
// elems is already cheaper than hashing into a filter (spec.md
// §4.4.1's $in/$nin, Open Questions).
const bloomInThreshold = 8

// MatchOperator implements $match (spec.md §4.4.1): a predicate tree
// over fields and $eq,$ne,$lt,$lte,$gt,$gte,$in,$nin,$and,$or. Simple
// leaves over top-level columns compile to a closure that reads
// column validity/values directly; anything else (dotted paths, $or,
// $not, nested documents) falls back to row-at-a-time evaluation via
// internal/expr.
type MatchOperator struct {
	pred   document.Value
	schema Schema
	strict bool

	compiled func(b *batch.Batch, slot uint32) bool
}

// NewMatch returns an uninitialized $match operator over pred.
func NewMatch(pred document.Value) *MatchOperator {
	return &MatchOperator{pred: pred}
}

func (m *MatchOperator) Init(schema Schema, hints Hints) error {
	m.schema = schema
	m.strict = hints.Strict
	if fn, ok := compileVectorizedPredicate(m.pred, schema); ok {
		m.compiled = fn
		return nil
	}
	if m.strict {
		return mddberr.New(mddberr.UnsupportedPredicate, "match: predicate does not lower to the columnar path")
	}
	return nil
}

func (m *MatchOperator) Push(b *batch.Batch) (PushResult, error) {
	keep := make(batch.Selection, 0, len(b.Selection))
	for _, slot := range b.Selection {
		var ok bool
		if m.compiled != nil {
			ok = m.compiled(b, slot)
		} else {
			row := b.Row(slot)
			ok = expr.EvalPredicate(m.pred, expr.Env{Doc: row, Root: row})
		}
		if ok {
			keep = append(keep, slot)
		}
	}
	out := *b
	out.Selection = keep
	return PushResult{Output: &out, Selection: keep, Metrics: Metrics{RowsIn: len(b.Selection), RowsOut: len(keep)}}, nil
}

func (m *MatchOperator) Flush() (*batch.Batch, bool, error) { return nil, false, nil }
func (m *MatchOperator) Close() error                       { return nil }

// ApplyIncrement re-evaluates the predicate against the delta's row
// and propagates the sign only if it passes (spec.md §4.7).
func (m *MatchOperator) ApplyIncrement(row rowid.RowID, doc *document.Document) []Delta {
	if expr.EvalPredicate(m.pred, expr.Env{Doc: doc, Root: doc}) {
		return []Delta{{Row: row, Doc: doc, Sign: 1}}
	}
	return nil
}

func (m *MatchOperator) ApplyDecrement(row rowid.RowID, doc *document.Document) []Delta {
	if expr.EvalPredicate(m.pred, expr.Env{Doc: doc, Root: doc}) {
		return []Delta{{Row: row, Doc: doc, Sign: -1}}
	}
	return nil
}

// compileVectorizedPredicate lowers a conjunction of simple top-level
// field comparisons to a closure over raw column reads. $or, $not and
// dotted field paths are left to the row fallback (spec.md §4.4.1).
func compileVectorizedPredicate(pred document.Value, schema Schema) (func(b *batch.Batch, slot uint32) bool, bool) {
	doc := pred.Document()
	if doc == nil {
		return nil, false
	}
	var leaves []func(b *batch.Batch, slot uint32) bool
	ok := true
	doc.Range(func(field string, cond document.Value) bool {
		if field == "$and" {
			for _, sub := range cond.Elements() {
				fn, lowered := compileVectorizedPredicate(sub, schema)
				if !lowered {
					ok = false
					return false
				}
				leaves = append(leaves, fn)
			}
			return true
		}
		if field == "$or" || field == "$not" || len(field) > 0 && field[0] == '$' {
			ok = false
			return false
		}
		if !schema.HasField(field) {
			ok = false
			return false
		}
		fn, lowered := compileFieldLeaf(field, cond)
		if !lowered {
			ok = false
			return false
		}
		leaves = append(leaves, fn)
		return true
	})
	if !ok || len(leaves) == 0 {
		return nil, false
	}
	return func(b *batch.Batch, slot uint32) bool {
		for _, fn := range leaves {
			if !fn(b, slot) {
				return false
			}
		}
		return true
	}, true
}

func compileFieldLeaf(field string, cond document.Value) (func(b *batch.Batch, slot uint32) bool, bool) {
	condDoc := cond.Document()
	if condDoc == nil || len(condDoc.Keys()) == 0 || condDoc.Keys()[0][0] != '$' {
		rhs := cond
		return func(b *batch.Batch, slot uint32) bool {
			col, ok := b.Column(field)
			if !ok {
				return false
			}
			return document.Equal(col.Get(int(slot)), rhs)
		}, true
	}
	if len(condDoc.Keys()) != 1 {
		return nil, false
	}
	op := condDoc.Keys()[0]
	rhs, _ := condDoc.Get(op)
	switch op {
	case "$eq", "$ne", "$lt", "$lte", "$gt", "$gte":
		return func(b *batch.Batch, slot uint32) bool {
			col, ok := b.Column(field)
			if !ok {
				return false
			}
			return applyCompareOp(op, col.Get(int(slot)), rhs)
		}, true
	case "$in", "$nin":
		elems := rhs.Elements()
		var filter *bloom.BloomFilter
		if len(elems) >= bloomInThreshold {
			filter = bloom.NewWithEstimates(uint(len(elems)), 0.01)
			for _, e := range elems {
				filter.AddString(container.EncodeKey(e))
			}
		}
		return func(b *batch.Batch, slot uint32) bool {
			col, ok := b.Column(field)
			if !ok {
				return false
			}
			v := col.Get(int(slot))
			found := inSet(v, elems, filter)
			if op == "$nin" {
				return !found
			}
			return found
		}, true
	default:
		return nil, false
	}
}

// inSet reports whether v appears in elems. When filter is non-nil it
// is consulted first as a cheap negative prefilter: a miss proves v is
// absent without scanning elems, a hit (possibly a false positive)
// still falls through to the exact scan, so the result is always
// correct regardless of the filter's false-positive rate.
func inSet(v document.Value, elems []document.Value, filter *bloom.BloomFilter) bool {
	if filter != nil && !filter.TestString(container.EncodeKey(v)) {
		return false
	}
	for _, e := range elems {
		if document.Equal(v, e) {
			return true
		}
	}
	return false
}

func applyCompareOp(op string, field, rhs document.Value) bool {
	c := cmpNullLow(field, rhs)
	switch op {
	case "$eq":
		return document.Equal(field, rhs)
	case "$ne":
		return !document.Equal(field, rhs)
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	default:
		return false
	}
}

// cmpNullLow mirrors expr.cmpWithNullRule: null sorts below any value
// for the purposes of $lt/$lte/$gt/$gte (spec.md §4.4.1).
func cmpNullLow(a, b document.Value) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return -1
	case b.IsNull():
		return 1
	default:
		return document.Compare(a, b)
	}
}
