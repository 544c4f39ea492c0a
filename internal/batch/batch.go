// Package batch implements the columnar batch runtime (spec.md §4.1,
// component C1): typed column vectors, a validity bitmap per column, a
// selection vector, and per-column string dictionaries.
package batch

import (
	"sort"

	"mddb-ivm/document"
	"mddb-ivm/internal/rowid"
)

// DefaultCapacity is the batch's default fixed capacity (spec.md §3).
const DefaultCapacity = 1024

// Batch is a fixed-capacity set of named column vectors sharing one
// selection vector. Invariants (spec.md §3):
//   I1: every column has length >= max selection entry.
//   I2: a row is observable iff its index is selected AND its
//       validity bit is set for the read column.
//   I3: two batches from the same operator for the same input are
//       observationally equal modulo selection order, unless the
//       operator documents ordering ($sort is the only reordering op).
type Batch struct {
	Capacity  int
	fieldList []string
	columns   map[string]*Column
	Selection Selection

	// RowIDs maps each physical slot index to the RowID it carries,
	// enabling late materialization to look the base document back up
	// (spec.md §4.2, §4.6).
	RowIDs []rowid.RowID
}

// New allocates an empty batch with the given capacity (0 uses
// DefaultCapacity).
func New(capacity int) *Batch {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Batch{
		Capacity: capacity,
		columns:  make(map[string]*Column),
		RowIDs:   make([]rowid.RowID, capacity),
	}
}

// AddColumn allocates a new column of the given kind at the batch's
// capacity and registers it under field.
func (b *Batch) AddColumn(field string, kind Kind) *Column {
	if c, ok := b.columns[field]; ok {
		return c
	}
	c := NewColumn(field, kind, b.Capacity)
	b.columns[field] = c
	b.fieldList = append(b.fieldList, field)
	return c
}

// Column returns the named column, if present.
func (b *Batch) Column(field string) (*Column, bool) {
	c, ok := b.columns[field]
	return c, ok
}

// Fields returns the batch's column names in registration order.
func (b *Batch) Fields() []string { return b.fieldList }

// Len reports the number of active rows (selection length).
func (b *Batch) Len() int { return len(b.Selection) }

// ResetSelection sets the selection to the identity over n rows.
func (b *Batch) ResetSelection(n int) { b.Selection = Identity(n) }

// Clear resets selection and every column's validity bitmap, ready to
// be returned to a free pool (spec.md §3 lifecycle).
func (b *Batch) Clear() {
	b.Selection = b.Selection[:0]
	for _, c := range b.columns {
		c.Clear()
	}
}

// SortSelectionBy reorders the selection in place by cmp; this is the
// one operation $sort uses since it is the only reordering operator
// (spec.md §5 ordering guarantees).
func (b *Batch) SortSelectionBy(cmp func(a, c uint32) bool) {
	sort.SliceStable(b.Selection, func(i, j int) bool {
		return cmp(b.Selection[i], b.Selection[j])
	})
}

// Row materializes a document view of one selected slot by reading
// every column, honoring validity bits. This is the slow, fully
// materialized path; late materialization (internal/materialize)
// avoids calling it on every row.
func (b *Batch) Row(slot uint32) *document.Document {
	d := document.New()
	for _, f := range b.fieldList {
		c := b.columns[f]
		if c.Valid(int(slot)) {
			d.Set(f, c.Get(int(slot)))
		}
	}
	return d
}
