package operator

import (
	"sort"

	"mddb-ivm/document"
	"mddb-ivm/internal/batch"
	"mddb-ivm/internal/container"
	"mddb-ivm/internal/rowid"
)

// SortKey is one field of a (possibly compound) $sort key.
type SortKey struct {
	Field string
	Desc  bool
}

// SortOperator implements $sort, optionally fused with a following
// $limit as a top-k tree (spec.md §4.4.4). Blocking.
//
// When topK > 0 the eligibility rule in spec.md §4.5 restricts this
// mode to a single sort key: an order-statistics tree of size topK is
// maintained, keyed by the sort field with RowId as the stable
// secondary key. Otherwise every row is buffered and a full stable
// multi-key sort runs at Flush.
type SortOperator struct {
	keys  []SortKey
	topK  int
	field []FieldInfo

	buffered []sortEntry

	tree     *container.OrderStatTree
	treeDocs map[rowid.RowID]*document.Document
}

type sortEntry struct {
	row rowid.RowID
	doc *document.Document
}

// NewSort returns an uninitialized $sort operator. topK <= 0 means a
// full sort.
func NewSort(keys []SortKey, topK int) *SortOperator {
	return &SortOperator{keys: keys, topK: topK}
}

func (s *SortOperator) Blocking() bool { return true }

func (s *SortOperator) Init(schema Schema, hints Hints) error {
	s.field = schema.Fields
	if s.topK > 0 {
		s.tree = container.NewOrderStatTree()
		s.treeDocs = make(map[rowid.RowID]*document.Document)
	}
	return nil
}

func (s *SortOperator) Push(b *batch.Batch) (PushResult, error) {
	for _, slot := range b.Selection {
		doc := b.Row(slot)
		row := b.RowIDs[slot]
		if s.tree != nil {
			keyVal, _ := doc.GetPath(s.keys[0].Field)
			k := container.OrderStatKey{Value: keyVal, Row: row, Desc: s.keys[0].Desc}
			s.tree.Insert(k)
			s.treeDocs[row] = doc
			if s.tree.Len() > s.topK {
				worst, _ := s.tree.Max()
				s.tree.Remove(worst)
				delete(s.treeDocs, worst.Row)
			}
			continue
		}
		s.buffered = append(s.buffered, sortEntry{row: row, doc: doc})
	}
	return PushResult{}, nil
}

func (s *SortOperator) Flush() (*batch.Batch, bool, error) {
	var ordered []sortEntry
	if s.tree != nil {
		s.tree.Each(func(k container.OrderStatKey) bool {
			ordered = append(ordered, sortEntry{row: k.Row, doc: s.treeDocs[k.Row]})
			return true
		})
	} else {
		ordered = s.buffered
		sort.SliceStable(ordered, func(i, j int) bool {
			return s.less(ordered[i].doc, ordered[j].doc)
		})
	}
	if len(ordered) == 0 {
		return nil, false, nil
	}
	out := batch.New(len(ordered))
	cols := make(map[string]*batch.Column, len(s.field))
	for _, f := range s.field {
		cols[f.Name] = out.AddColumn(f.Name, batch.KindAny)
	}
	for i, e := range ordered {
		out.RowIDs[i] = e.row
		for _, f := range s.field {
			if v, ok := e.doc.Get(f.Name); ok {
				cols[f.Name].Set(i, v)
			}
		}
	}
	out.ResetSelection(len(ordered))
	return out, true, nil
}

func (s *SortOperator) less(a, b *document.Document) bool {
	for _, k := range s.keys {
		av, _ := a.GetPath(k.Field)
		bv, _ := b.GetPath(k.Field)
		c := document.Compare(av, bv)
		if k.Desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return false
}

func (s *SortOperator) Close() error {
	s.buffered = nil
	s.tree = nil
	s.treeDocs = nil
	return nil
}

// ApplyIncrement inserts into the top-k tree (evicting the new worst
// member, which may be the row just inserted) or appends to the full
// sort's buffer, emitting the corresponding window-entry/exit deltas
// (spec.md §4.7).
func (s *SortOperator) ApplyIncrement(row rowid.RowID, doc *document.Document) []Delta {
	if s.tree == nil {
		s.buffered = append(s.buffered, sortEntry{row: row, doc: doc})
		return []Delta{{Row: row, Doc: doc, Sign: 1}}
	}
	keyVal, _ := doc.GetPath(s.keys[0].Field)
	k := container.OrderStatKey{Value: keyVal, Row: row, Desc: s.keys[0].Desc}
	s.tree.Insert(k)
	s.treeDocs[row] = doc
	if s.tree.Len() > s.topK {
		worst, _ := s.tree.Max()
		s.tree.Remove(worst)
		worstDoc := s.treeDocs[worst.Row]
		delete(s.treeDocs, worst.Row)
		if worst.Row == row {
			return nil
		}
		return []Delta{{Row: worst.Row, Doc: worstDoc, Sign: -1}, {Row: row, Doc: doc, Sign: 1}}
	}
	return []Delta{{Row: row, Doc: doc, Sign: 1}}
}

// ApplyDecrement removes row from whichever state backs this stage.
// In top-k mode a row beyond the window that isn't tracked here
// cannot be promoted to fill the gap without a re-scan; the window
// simply shrinks by one until the next full recompute.
func (s *SortOperator) ApplyDecrement(row rowid.RowID, doc *document.Document) []Delta {
	if s.tree == nil {
		for i, e := range s.buffered {
			if e.row == row {
				s.buffered = append(s.buffered[:i], s.buffered[i+1:]...)
				return []Delta{{Row: row, Doc: doc, Sign: -1}}
			}
		}
		return nil
	}
	keyVal, _ := doc.GetPath(s.keys[0].Field)
	k := container.OrderStatKey{Value: keyVal, Row: row, Desc: s.keys[0].Desc}
	if !s.tree.Remove(k) {
		return nil
	}
	delete(s.treeDocs, row)
	return []Delta{{Row: row, Doc: doc, Sign: -1}}
}
