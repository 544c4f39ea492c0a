package container

import (
	"sort"

	"mddb-ivm/document"
)

// MultiSet is a reference-counted multiset over document.Value that
// supports O(1) average insert/remove and exact min/max under
// decremental maintenance (spec.md §3, §4.3). Min/Max read a sorted
// key view that is rebuilt with a full sort of the distinct values
// (O(k log k) for k distinct values) on the first call after the set
// of distinct values changed; otherwise they are O(1).
type MultiSet struct {
	counts map[string]int
	values map[string]document.Value
	sorted []string // maintained sorted by value; lazily rebuilt
	dirty  bool
}

// NewMultiSet returns an empty multiset.
func NewMultiSet() *MultiSet {
	return &MultiSet{counts: make(map[string]int), values: make(map[string]document.Value)}
}

func keyOf(v document.Value) string { return EncodeKey(v) }

// Add inserts one occurrence of v. NaN is incomparable (spec.md
// §4.4.3) and is silently dropped rather than entered into the
// candidate set, so it can never surface from Min/Max nor corrupt the
// sort order rebuild relies on.
func (m *MultiSet) Add(v document.Value) {
	if v.IsNaN() {
		return
	}
	k := keyOf(v)
	if m.counts[k] == 0 {
		m.values[k] = v
		m.dirty = true
	}
	m.counts[k]++
}

// Remove decrements v's count, dropping the key entirely when it
// reaches zero.
func (m *MultiSet) Remove(v document.Value) {
	k := keyOf(v)
	c, ok := m.counts[k]
	if !ok {
		return
	}
	if c <= 1 {
		delete(m.counts, k)
		delete(m.values, k)
		m.dirty = true
		return
	}
	m.counts[k] = c - 1
}

// Len returns the number of distinct values (not total occurrences).
func (m *MultiSet) Len() int { return len(m.counts) }

// Empty reports whether the multiset holds no occurrences.
func (m *MultiSet) Empty() bool { return len(m.counts) == 0 }

func (m *MultiSet) rebuild() {
	if !m.dirty {
		return
	}
	m.sorted = m.sorted[:0]
	for k := range m.counts {
		m.sorted = append(m.sorted, k)
	}
	sort.Slice(m.sorted, func(i, j int) bool {
		return document.Compare(m.values[m.sorted[i]], m.values[m.sorted[j]]) < 0
	})
	m.dirty = false
}

// Min returns the smallest remaining value.
func (m *MultiSet) Min() (document.Value, bool) {
	m.rebuild()
	if len(m.sorted) == 0 {
		return document.Null(), false
	}
	return m.values[m.sorted[0]], true
}

// Max returns the largest remaining value.
func (m *MultiSet) Max() (document.Value, bool) {
	m.rebuild()
	if len(m.sorted) == 0 {
		return document.Null(), false
	}
	return m.values[m.sorted[len(m.sorted)-1]], true
}
