package operator

import (
	"mddb-ivm/document"
	"mddb-ivm/internal/batch"
	"mddb-ivm/internal/rowid"
)

// UnwindOperator implements $unwind (spec.md §4.4.6): for each row
// whose field is a non-empty sequence of length L, emits L virtual
// RowIds covering the elements. Non-sequence values unwind as a
// single row with the scalar promoted in place. Nested $unwind
// composes naturally by chaining stages, each minting virtual ids
// from whatever RowId (physical or virtual) its upstream handed it.
type UnwindOperator struct {
	Field               string
	PreserveNullAndEmpty bool
	Space               *rowid.Space

	fields []FieldInfo
}

// NewUnwind returns an uninitialized $unwind operator sharing space
// with the rest of the pipeline run so virtual ids stay globally
// unique (spec.md §4.2).
func NewUnwind(field string, preserveNullAndEmpty bool, space *rowid.Space) *UnwindOperator {
	return &UnwindOperator{Field: field, PreserveNullAndEmpty: preserveNullAndEmpty, Space: space}
}

func (u *UnwindOperator) Init(schema Schema, hints Hints) error {
	u.fields = schema.Fields
	return nil
}

func (u *UnwindOperator) Push(b *batch.Batch) (PushResult, error) {
	var rows []document.Value
	var ids []rowid.RowID

	for _, slot := range b.Selection {
		doc := b.Row(slot)
		origin := b.RowIDs[slot]
		val, present := doc.GetPath(u.Field)

		switch {
		case present && val.Kind() == document.KindArray && len(val.Elements()) > 0:
			for idx, el := range val.Elements() {
				vid := u.Space.Unwind(origin, idx, u.Field)
				sub := doc.Clone()
				sub.Set(u.Field, el)
				rows = append(rows, document.Doc(sub))
				ids = append(ids, vid)
			}
		case !present || val.IsNull() || (val.Kind() == document.KindArray && len(val.Elements()) == 0):
			if u.PreserveNullAndEmpty {
				sub := doc.Clone()
				sub.Set(u.Field, document.Null())
				rows = append(rows, document.Doc(sub))
				ids = append(ids, origin)
			}
		default:
			rows = append(rows, document.Doc(doc))
			ids = append(ids, origin)
		}
	}

	if len(rows) == 0 {
		out := *b
		out.Selection = nil
		return PushResult{Output: &out, Selection: nil, Metrics: Metrics{RowsIn: len(b.Selection)}}, nil
	}

	out := batch.New(len(rows))
	cols := make(map[string]*batch.Column, len(u.fields))
	for _, f := range u.fields {
		cols[f.Name] = out.AddColumn(f.Name, batch.KindAny)
	}
	if _, ok := cols[u.Field]; !ok {
		cols[u.Field] = out.AddColumn(u.Field, batch.KindAny)
	}
	for i, rv := range rows {
		out.RowIDs[i] = ids[i]
		rv.Document().Range(func(k string, v document.Value) bool {
			col, ok := cols[k]
			if !ok {
				col = out.AddColumn(k, batch.KindAny)
				cols[k] = col
			}
			col.Set(i, v)
			return true
		})
	}
	out.ResetSelection(len(rows))
	return PushResult{Output: out, Selection: out.Selection, Metrics: Metrics{RowsIn: len(b.Selection), RowsOut: len(rows)}}, nil
}

func (u *UnwindOperator) Flush() (*batch.Batch, bool, error) { return nil, false, nil }
func (u *UnwindOperator) Close() error                       { return nil }

// ApplyIncrement mints one virtual RowId per array element and emits
// a +1 for each, or passes a non-array row through unchanged, or
// promotes a null/empty array if preserveNullAndEmptyArrays is set
// (spec.md §4.7).
func (u *UnwindOperator) ApplyIncrement(row rowid.RowID, doc *document.Document) []Delta {
	val, present := doc.GetPath(u.Field)
	switch {
	case present && val.Kind() == document.KindArray && len(val.Elements()) > 0:
		elems := val.Elements()
		out := make([]Delta, 0, len(elems))
		for idx, el := range elems {
			vid := u.Space.Unwind(row, idx, u.Field)
			sub := doc.Clone()
			sub.Set(u.Field, el)
			out = append(out, Delta{Row: vid, Doc: sub, Sign: 1})
		}
		return out
	case !present || val.IsNull() || (val.Kind() == document.KindArray && len(val.Elements()) == 0):
		if !u.PreserveNullAndEmpty {
			return nil
		}
		sub := doc.Clone()
		sub.Set(u.Field, document.Null())
		return []Delta{{Row: row, Doc: sub, Sign: 1}}
	default:
		return []Delta{{Row: row, Doc: doc, Sign: 1}}
	}
}

// ApplyDecrement emits the matching -1s for every virtual id recorded
// with this row as its origin; rowid.Space.ForgetVirtualsFrom matches
// on origin only, not on the unwound field (spec.md §4.7).
func (u *UnwindOperator) ApplyDecrement(row rowid.RowID, doc *document.Document) []Delta {
	val, present := doc.GetPath(u.Field)
	if present && val.Kind() == document.KindArray && len(val.Elements()) > 0 {
		dropped := u.Space.ForgetVirtualsFrom(row)
		out := make([]Delta, 0, len(dropped))
		for _, d := range dropped {
			sub := doc.Clone()
			elems := val.Elements()
			if d.Info.Index < len(elems) {
				sub.Set(u.Field, elems[d.Info.Index])
			}
			out = append(out, Delta{Row: d.ID, Doc: sub, Sign: -1})
		}
		return out
	}
	if !present || val.IsNull() || (val.Kind() == document.KindArray && len(val.Elements()) == 0) {
		if !u.PreserveNullAndEmpty {
			return nil
		}
	}
	return []Delta{{Row: row, Doc: doc, Sign: -1}}
}
