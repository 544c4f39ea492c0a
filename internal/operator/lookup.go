package operator

import (
	"mddb-ivm/document"
	"mddb-ivm/internal/batch"
	"mddb-ivm/internal/container"
	"mddb-ivm/internal/rowid"
)

// LookupOperator implements the equality form of $lookup (spec.md
// §4.4.7): joins a secondary collection by equal local/foreign fields
// and attaches the matching documents under As. The `let`/pipeline
// forms are not represented here; the compiler rejects them to the
// fallback interpreter (reason LOOKUP_PIPELINE_FORM) before an
// operator of this type is ever constructed.
type LookupOperator struct {
	LocalField, ForeignField, As string
	Foreign                      []*document.Document

	index *container.RobinHoodMap[[]int]

	// localIndex/localDocs remember every local row this operator has
	// seen via ApplyIncrement, keyed by its LocalField value, so a
	// foreign-side delta can find and re-emit the local rows it
	// affects (spec.md §4.7).
	localIndex *container.RobinHoodMap[[]rowid.RowID]
	localDocs  map[rowid.RowID]*document.Document
}

// NewLookup returns an uninitialized equality-form $lookup operator.
func NewLookup(localField, foreignField, as string, foreign []*document.Document) *LookupOperator {
	return &LookupOperator{LocalField: localField, ForeignField: foreignField, As: as, Foreign: foreign}
}

func (l *LookupOperator) Init(schema Schema, hints Hints) error {
	l.index = container.NewRobinHoodMap[[]int](len(l.Foreign))
	for i, doc := range l.Foreign {
		v, ok := doc.Get(l.ForeignField)
		if !ok {
			continue
		}
		key := container.EncodeKey(v)
		existing, _ := l.index.Get(key)
		l.index.Set(key, append(existing, i))
	}
	l.localIndex = container.NewRobinHoodMap[[]rowid.RowID](16)
	l.localDocs = make(map[rowid.RowID]*document.Document)
	return nil
}

func (l *LookupOperator) Push(b *batch.Batch) (PushResult, error) {
	out := batch.New(b.Capacity)
	out.RowIDs = b.RowIDs
	for _, name := range b.Fields() {
		col, _ := b.Column(name)
		dst := out.AddColumn(name, col.Kind())
		for _, slot := range b.Selection {
			dst.Set(int(slot), col.Get(int(slot)))
		}
	}
	asCol := out.AddColumn(l.As, batch.KindAny)
	for _, slot := range b.Selection {
		doc := b.Row(slot)
		localVal, ok := doc.Get(l.LocalField)
		var matched []document.Value
		if ok {
			idxs, _ := l.index.Get(container.EncodeKey(localVal))
			for _, i := range idxs {
				matched = append(matched, document.Doc(l.Foreign[i]))
			}
		}
		asCol.Set(int(slot), document.Array(matched...))
	}
	out.Selection = append(batch.Selection(nil), b.Selection...)
	return PushResult{Output: out, Selection: out.Selection, Metrics: Metrics{RowsIn: len(b.Selection), RowsOut: len(out.Selection)}}, nil
}

func (l *LookupOperator) Flush() (*batch.Batch, bool, error) { return nil, false, nil }
func (l *LookupOperator) Close() error                       { return nil }

func (l *LookupOperator) joinDoc(doc *document.Document) *document.Document {
	out := doc.Clone()
	localVal, ok := doc.Get(l.LocalField)
	var matched []document.Value
	if ok {
		idxs, _ := l.index.Get(container.EncodeKey(localVal))
		for _, i := range idxs {
			matched = append(matched, document.Doc(l.Foreign[i]))
		}
	}
	out.Set(l.As, document.Array(matched...))
	return out
}

// ApplyIncrement handles a delta on the local collection: it tracks
// the row so a later foreign-side delta can find it, then emits the
// joined row (spec.md §4.7).
func (l *LookupOperator) ApplyIncrement(row rowid.RowID, doc *document.Document) []Delta {
	l.trackLocal(row, doc)
	return []Delta{{Row: row, Doc: l.joinDoc(doc), Sign: 1}}
}

// ApplyDecrement handles a delta on the local collection: it emits the
// retraction of the joined row, then forgets it.
func (l *LookupOperator) ApplyDecrement(row rowid.RowID, doc *document.Document) []Delta {
	delta := []Delta{{Row: row, Doc: l.joinDoc(doc), Sign: -1}}
	l.untrackLocal(row, doc)
	return delta
}

// ApplyForeignIncrement handles a delta on the foreign collection: it
// adds doc to the join index, then re-emits a retract/insert delta
// pair for every tracked local row whose join result changes as a
// result (spec.md §4.7: "a delta on either side emits the join deltas
// incident to matching rows").
func (l *LookupOperator) ApplyForeignIncrement(row rowid.RowID, doc *document.Document) []Delta {
	fv, ok := doc.Get(l.ForeignField)
	if !ok {
		return nil
	}
	key := container.EncodeKey(fv)
	before := l.snapshotMatching(key)

	l.Foreign = append(l.Foreign, doc)
	existing, _ := l.index.Get(key)
	l.index.Set(key, append(existing, len(l.Foreign)-1))

	return l.reemitMatching(key, before)
}

// ApplyForeignDecrement handles a removal on the foreign collection:
// it drops doc from the join index, then re-emits deltas for every
// tracked local row affected.
func (l *LookupOperator) ApplyForeignDecrement(row rowid.RowID, doc *document.Document) []Delta {
	fv, ok := doc.Get(l.ForeignField)
	if !ok {
		return nil
	}
	key := container.EncodeKey(fv)
	before := l.snapshotMatching(key)

	existing, _ := l.index.Get(key)
	for i, idx := range existing {
		if document.Equal(document.Doc(l.Foreign[idx]), document.Doc(doc)) {
			existing = append(existing[:i:i], existing[i+1:]...)
			break
		}
	}
	l.index.Set(key, existing)

	return l.reemitMatching(key, before)
}

// snapshotMatching materializes the current joined output for every
// local row indexed under key, before the foreign index is mutated.
func (l *LookupOperator) snapshotMatching(key string) map[rowid.RowID]*document.Document {
	rows, _ := l.localIndex.Get(key)
	if len(rows) == 0 {
		return nil
	}
	before := make(map[rowid.RowID]*document.Document, len(rows))
	for _, r := range rows {
		if d, ok := l.localDocs[r]; ok {
			before[r] = l.joinDoc(d)
		}
	}
	return before
}

// reemitMatching compares each local row's joined output against its
// pre-mutation snapshot and returns the retract/insert pairs for rows
// whose join result actually changed.
func (l *LookupOperator) reemitMatching(key string, before map[rowid.RowID]*document.Document) []Delta {
	rows, _ := l.localIndex.Get(key)
	var deltas []Delta
	for _, r := range rows {
		d, ok := l.localDocs[r]
		if !ok {
			continue
		}
		after := l.joinDoc(d)
		prev, hadPrev := before[r]
		if hadPrev && document.Equal(document.Doc(prev), document.Doc(after)) {
			continue
		}
		if hadPrev {
			deltas = append(deltas, Delta{Row: r, Doc: prev, Sign: -1})
		}
		deltas = append(deltas, Delta{Row: r, Doc: after, Sign: 1})
	}
	return deltas
}

func (l *LookupOperator) trackLocal(row rowid.RowID, doc *document.Document) {
	l.localDocs[row] = doc
	v, ok := doc.Get(l.LocalField)
	if !ok {
		return
	}
	key := container.EncodeKey(v)
	existing, _ := l.localIndex.Get(key)
	l.localIndex.Set(key, append(existing, row))
}

func (l *LookupOperator) untrackLocal(row rowid.RowID, doc *document.Document) {
	delete(l.localDocs, row)
	v, ok := doc.Get(l.LocalField)
	if !ok {
		return
	}
	key := container.EncodeKey(v)
	existing, _ := l.localIndex.Get(key)
	for i, r := range existing {
		if r == row {
			existing = append(existing[:i:i], existing[i+1:]...)
			break
		}
	}
	l.localIndex.Set(key, existing)
}
