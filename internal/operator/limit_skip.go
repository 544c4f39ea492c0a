package operator

import (
	"mddb-ivm/document"
	"mddb-ivm/internal/batch"
	"mddb-ivm/internal/rowid"
)

// LimitOperator implements $limit: a stateful counter across pushes
// that slices the selection once the cap is reached (spec.md §4.4.5).
// Non-blocking. Under delta maintenance it keeps a reservoir of
// admitted RowIds plus a pending FIFO of rows beyond the cap, so that
// deleting an admitted row promotes the oldest pending one (spec.md
// §4.7).
type LimitOperator struct {
	limit   int
	emitted int

	admitted []rowid.RowID
	pending  []limitEntry
}

type limitEntry struct {
	row rowid.RowID
	doc *document.Document
}

func NewLimit(limit int) *LimitOperator { return &LimitOperator{limit: limit} }

func (l *LimitOperator) Init(schema Schema, hints Hints) error { return nil }

func (l *LimitOperator) Push(b *batch.Batch) (PushResult, error) {
	if l.emitted >= l.limit {
		out := *b
		out.Selection = nil
		return PushResult{Output: &out, Selection: nil, Metrics: Metrics{RowsIn: len(b.Selection)}}, nil
	}
	room := l.limit - l.emitted
	sel := b.Selection
	if len(sel) > room {
		sel = sel[:room]
	}
	l.emitted += len(sel)
	out := *b
	out.Selection = sel
	return PushResult{Output: &out, Selection: sel, Metrics: Metrics{RowsIn: len(b.Selection), RowsOut: len(sel)}}, nil
}

func (l *LimitOperator) Flush() (*batch.Batch, bool, error) { return nil, false, nil }
func (l *LimitOperator) Close() error                       { return nil }

// ApplyIncrement admits the row if the reservoir has room, else
// parks it in the pending FIFO (spec.md §4.7).
func (l *LimitOperator) ApplyIncrement(row rowid.RowID, doc *document.Document) []Delta {
	if len(l.admitted) < l.limit {
		l.admitted = append(l.admitted, row)
		return []Delta{{Row: row, Doc: doc, Sign: 1}}
	}
	l.pending = append(l.pending, limitEntry{row: row, doc: doc})
	return nil
}

// ApplyDecrement retracts an admitted row and promotes the oldest
// pending row to fill the gap, or drops a still-pending row silently
// (spec.md §4.7).
func (l *LimitOperator) ApplyDecrement(row rowid.RowID, doc *document.Document) []Delta {
	for i, r := range l.admitted {
		if r == row {
			l.admitted = append(l.admitted[:i], l.admitted[i+1:]...)
			out := []Delta{{Row: row, Doc: doc, Sign: -1}}
			if len(l.pending) > 0 {
				next := l.pending[0]
				l.pending = l.pending[1:]
				l.admitted = append(l.admitted, next.row)
				out = append(out, Delta{Row: next.row, Doc: next.doc, Sign: 1})
			}
			return out
		}
	}
	for i, e := range l.pending {
		if e.row == row {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

// SkipOperator implements $skip: symmetric to $limit, dropping the
// first n rows across pushes (spec.md §4.4.5). Non-blocking. Under
// delta maintenance it tracks which RowIds landed in the withheld
// window; deleting a withheld row simply shrinks the window rather
// than promoting a later row into it, a deliberate simplification
// since $skip's window has no natural "next" candidate the way
// $limit's pending FIFO does.
type SkipOperator struct {
	skip    int
	skipped int

	withheld map[rowid.RowID]struct{}
}

func NewSkip(skip int) *SkipOperator {
	return &SkipOperator{skip: skip, withheld: make(map[rowid.RowID]struct{})}
}

func (s *SkipOperator) Init(schema Schema, hints Hints) error { return nil }

func (s *SkipOperator) Push(b *batch.Batch) (PushResult, error) {
	sel := b.Selection
	if s.skipped < s.skip {
		remaining := s.skip - s.skipped
		if remaining >= len(sel) {
			s.skipped += len(sel)
			out := *b
			out.Selection = nil
			return PushResult{Output: &out, Selection: nil, Metrics: Metrics{RowsIn: len(b.Selection)}}, nil
		}
		sel = sel[remaining:]
		s.skipped = s.skip
	}
	out := *b
	out.Selection = sel
	return PushResult{Output: &out, Selection: sel, Metrics: Metrics{RowsIn: len(b.Selection), RowsOut: len(sel)}}, nil
}

func (s *SkipOperator) Flush() (*batch.Batch, bool, error) { return nil, false, nil }
func (s *SkipOperator) Close() error                       { return nil }

// ApplyIncrement withholds the row if the skip quota has not been
// filled yet, else passes it through (spec.md §4.7).
func (s *SkipOperator) ApplyIncrement(row rowid.RowID, doc *document.Document) []Delta {
	if s.skipped < s.skip {
		s.skipped++
		s.withheld[row] = struct{}{}
		return nil
	}
	return []Delta{{Row: row, Doc: doc, Sign: 1}}
}

// ApplyDecrement drops a withheld row silently, shrinking the skip
// window by one, or propagates -1 for a row that had passed through.
func (s *SkipOperator) ApplyDecrement(row rowid.RowID, doc *document.Document) []Delta {
	if _, ok := s.withheld[row]; ok {
		delete(s.withheld, row)
		s.skipped--
		return nil
	}
	return []Delta{{Row: row, Doc: doc, Sign: -1}}
}
