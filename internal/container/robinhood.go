// Package container implements the group-state hash table and the
// auxiliary structures $group, $sort and $limit need under
// incremental maintenance (spec.md §4.3, component C3): a Robin-Hood
// open-addressed map, a reference-counted multiset for min/max under
// deletion, and an order-statistics tree for top-k and first/last.
package container

import (
	"hash/maphash"
)

// RobinHoodMap is an open-addressed hash map keyed by a canonical,
// pre-encoded group-key string (see EncodeKey). On insert, a slot
// whose probe distance is shorter than the incoming key's "steals"
// its position, the classic Robin-Hood technique that bounds
// worst-case probe depth (spec.md §4.3).
type RobinHoodMap[V any] struct {
	seed   maphash.Seed
	keys   []string
	probe  []int16
	used   []bool
	values []V
	size   int
}

const robinHoodMaxLoad = 0.75

// NewRobinHoodMap returns an empty map sized for at least capacityHint
// entries.
func NewRobinHoodMap[V any](capacityHint int) *RobinHoodMap[V] {
	cap0 := 16
	for cap0 < capacityHint*2 {
		cap0 *= 2
	}
	return &RobinHoodMap[V]{
		seed:   maphash.MakeSeed(),
		keys:   make([]string, cap0),
		probe:  make([]int16, cap0),
		used:   make([]bool, cap0),
		values: make([]V, cap0),
	}
}

func (m *RobinHoodMap[V]) hash(key string) uint64 {
	var h maphash.Hash
	h.SetSeed(m.seed)
	h.WriteString(key)
	return h.Sum64()
}

// Len returns the number of distinct keys stored.
func (m *RobinHoodMap[V]) Len() int { return m.size }

func (m *RobinHoodMap[V]) capMask() uint64 { return uint64(len(m.used) - 1) }

// Get returns the value for key and whether it was present.
func (m *RobinHoodMap[V]) Get(key string) (V, bool) {
	idx := m.hash(key) & m.capMask()
	dist := int16(0)
	for {
		if !m.used[idx] {
			var zero V
			return zero, false
		}
		if m.keys[idx] == key {
			return m.values[idx], true
		}
		if m.probe[idx] < dist {
			var zero V
			return zero, false
		}
		idx = (idx + 1) & m.capMask()
		dist++
	}
}

// Set inserts or overwrites key's value, growing the table first if
// the load factor would exceed robinHoodMaxLoad.
func (m *RobinHoodMap[V]) Set(key string, value V) {
	if float64(m.size+1) > float64(len(m.used))*robinHoodMaxLoad {
		m.grow()
	}
	m.insert(key, value)
}

func (m *RobinHoodMap[V]) insert(key string, value V) {
	idx := m.hash(key) & m.capMask()
	dist := int16(0)
	for {
		if !m.used[idx] {
			m.used[idx] = true
			m.keys[idx] = key
			m.values[idx] = value
			m.probe[idx] = dist
			m.size++
			return
		}
		if m.keys[idx] == key {
			m.values[idx] = value
			return
		}
		// Richer (longer probe) key steals the poorer slot.
		if m.probe[idx] < dist {
			m.keys[idx], key = key, m.keys[idx]
			m.values[idx], value = value, m.values[idx]
			m.probe[idx], dist = dist, m.probe[idx]
		}
		idx = (idx + 1) & m.capMask()
		dist++
	}
}

// Delete removes key, backward-shifting the probe chain so later
// lookups stay correct without tombstones.
func (m *RobinHoodMap[V]) Delete(key string) bool {
	idx := m.hash(key) & m.capMask()
	dist := int16(0)
	for {
		if !m.used[idx] {
			return false
		}
		if m.keys[idx] == key {
			m.size--
			next := (idx + 1) & m.capMask()
			for m.used[next] && m.probe[next] > 0 {
				m.keys[idx] = m.keys[next]
				m.values[idx] = m.values[next]
				m.probe[idx] = m.probe[next] - 1
				idx = next
				next = (idx + 1) & m.capMask()
			}
			m.used[idx] = false
			var zeroV V
			m.values[idx] = zeroV
			m.keys[idx] = ""
			return true
		}
		if m.probe[idx] < dist {
			return false
		}
		idx = (idx + 1) & m.capMask()
		dist++
	}
}

func (m *RobinHoodMap[V]) grow() {
	old := *m
	newCap := len(m.used) * 2
	m.keys = make([]string, newCap)
	m.probe = make([]int16, newCap)
	m.used = make([]bool, newCap)
	m.values = make([]V, newCap)
	m.size = 0
	for i, used := range old.used {
		if used {
			m.insert(old.keys[i], old.values[i])
		}
	}
}

// Range visits every stored key/value; order is unspecified.
func (m *RobinHoodMap[V]) Range(fn func(key string, value V) bool) {
	for i, used := range m.used {
		if used {
			if !fn(m.keys[i], m.values[i]) {
				return
			}
		}
	}
}
