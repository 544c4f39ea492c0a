package batch

import (
	"math"
	"math/big"

	"mddb-ivm/document"
)

// Kind tags a column's typed storage, per spec.md §3.
type Kind uint8

const (
	KindI32 Kind = iota
	KindI64
	KindF64
	KindBig  // i128/big, via math/big.Int
	KindBool // bit-packed
	KindUtf8 // dictionary ids into a per-column StringPool
	KindAny  // boxed document.Value, for computed array/document results
)

// defaultMaxCapacity bounds column growth; Resize past it fails with
// CapacityExceeded (spec.md §4.1).
const defaultMaxCapacity = 1 << 24

// Column is fixed-kind typed storage plus a validity bitmap. Growth
// is double-on-write and never shrinks during a pipeline run;
// clear-on-reuse resets validity without touching allocated storage
// (spec.md §4.1).
type Column struct {
	Field  string
	kind   Kind
	length int
	maxCap int
	valid  bitset

	i32  []int32
	i64  []int64
	f64  []float64
	big  []*big.Int
	bits bitset // KindBool storage

	dictIDs []uint32
	pool    *StringPool

	boxed []document.Value // KindAny storage
}

// NewColumn allocates a column of the given kind with initial
// capacity cap0.
func NewColumn(field string, kind Kind, cap0 int) *Column {
	c := &Column{Field: field, kind: kind, maxCap: defaultMaxCapacity}
	c.growTo(cap0)
	if kind == KindUtf8 {
		c.pool = NewStringPool()
	}
	return c
}

func (c *Column) Kind() Kind   { return c.kind }
func (c *Column) Length() int  { return c.length }
func (c *Column) SetMaxCapacity(n int) { c.maxCap = n }

// Pool returns the column's string dictionary (KindUtf8 only).
func (c *Column) Pool() *StringPool { return c.pool }

// DictIDs exposes the raw dictionary-id storage so operators can
// compare by id where string equality suffices (spec.md §4.1).
func (c *Column) DictIDs() []uint32 { return c.dictIDs }

// growTo doubles storage until it covers n slots, failing with
// CapacityExceeded if that would pass maxCap.
func (c *Column) growTo(n int) error {
	if n <= c.length {
		return nil
	}
	if n > c.maxCap {
		return &CapacityExceeded{Field: c.Field, Want: n, Max: c.maxCap}
	}
	newCap := c.length
	if newCap == 0 {
		newCap = 16
	}
	for newCap < n {
		newCap *= 2
	}
	if newCap > c.maxCap {
		newCap = c.maxCap
	}
	switch c.kind {
	case KindI32:
		grown := make([]int32, newCap)
		copy(grown, c.i32)
		c.i32 = grown
	case KindI64:
		grown := make([]int64, newCap)
		copy(grown, c.i64)
		c.i64 = grown
	case KindF64:
		grown := make([]float64, newCap)
		copy(grown, c.f64)
		c.f64 = grown
	case KindBig:
		grown := make([]*big.Int, newCap)
		copy(grown, c.big)
		c.big = grown
	case KindBool:
		c.bits = newBitset(newCap)
	case KindUtf8:
		grown := make([]uint32, newCap)
		copy(grown, c.dictIDs)
		c.dictIDs = grown
	case KindAny:
		grown := make([]document.Value, newCap)
		copy(grown, c.boxed)
		c.boxed = grown
	}
	grownValid := newBitset(newCap)
	copy(grownValid, c.valid)
	c.valid = grownValid
	c.length = newCap
	return nil
}

// Resize grows the column to newCap, doubling as needed.
func (c *Column) Resize(newCap int) error { return c.growTo(newCap) }

// Clear resets validity to all-invalid without shrinking storage
// (clear-on-reuse, spec.md §4.1).
func (c *Column) Clear() {
	c.valid.clear()
	if c.kind == KindBool {
		c.bits.clear()
	}
}

func (c *Column) ensure(i int) {
	if i >= c.length {
		_ = c.growTo(i + 1)
	}
}

// Valid reports whether a slot's validity bit is set.
func (c *Column) Valid(i int) bool {
	if i >= c.length {
		return false
	}
	return c.valid.get(i)
}

// Get returns the value at i, or document.Null() when invalid.
func (c *Column) Get(i int) document.Value {
	if !c.Valid(i) {
		return document.Null()
	}
	switch c.kind {
	case KindI32:
		return document.Int(int64(c.i32[i]))
	case KindI64:
		return document.Int(c.i64[i])
	case KindF64:
		return document.Float(c.f64[i])
	case KindBig:
		f := new(big.Float).SetInt(c.big[i])
		v, _ := f.Float64()
		return document.Float(v)
	case KindBool:
		return document.Bool(c.bits.get(i))
	case KindUtf8:
		return document.String(c.pool.String(c.dictIDs[i]))
	case KindAny:
		return c.boxed[i]
	default:
		return document.Null()
	}
}

// Set writes a value at i. Set(i, null) clears the validity bit and
// leaves underlying storage untouched (spec.md §4.1).
func (c *Column) Set(i int, v document.Value) {
	c.ensure(i)
	if v.IsNull() {
		c.valid = c.valid.set(i, false)
		return
	}
	switch c.kind {
	case KindI32:
		c.i32[i] = int32(v.Int())
	case KindI64:
		if f, ok := v.AsFloat64(); ok {
			c.i64[i] = int64(f)
		}
	case KindF64:
		if f, ok := v.AsFloat64(); ok {
			c.f64[i] = f
		}
	case KindBig:
		if f, ok := v.AsFloat64(); ok {
			bi, _ := big.NewFloat(f).Int(nil)
			c.big[i] = bi
		}
	case KindBool:
		c.bits = c.bits.set(i, v.Bool())
	case KindUtf8:
		c.dictIDs[i] = c.pool.Intern(v.Str())
	case KindAny:
		c.boxed[i] = v
	}
	c.valid = c.valid.set(i, true)
}

// SetDictID writes a dictionary id directly (KindUtf8 only), avoiding
// a pool round-trip when the caller already holds an id.
func (c *Column) SetDictID(i int, id uint32) {
	c.ensure(i)
	c.dictIDs[i] = id
	c.valid = c.valid.set(i, true)
}

// Sum, Avg and CountValid give numeric columns vectorized reduction
// kernels used directly by $group's columnar accumulators.
func (c *Column) Sum(sel []uint32) float64 {
	var sum float64
	for _, i := range sel {
		if !c.Valid(int(i)) {
			continue
		}
		sum += c.numericAt(int(i))
	}
	return sum
}

func (c *Column) Avg(sel []uint32) float64 {
	var sum float64
	var count int
	for _, i := range sel {
		if !c.Valid(int(i)) {
			continue
		}
		sum += c.numericAt(int(i))
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func (c *Column) CountValid(sel []uint32) int {
	n := 0
	for _, i := range sel {
		if c.Valid(int(i)) {
			n++
		}
	}
	return n
}

func (c *Column) numericAt(i int) float64 {
	switch c.kind {
	case KindI32:
		return float64(c.i32[i])
	case KindI64:
		return float64(c.i64[i])
	case KindF64:
		v := c.f64[i]
		if math.IsNaN(v) {
			return 0
		}
		return v
	case KindBig:
		f := new(big.Float).SetInt(c.big[i])
		v, _ := f.Float64()
		return v
	default:
		return 0
	}
}
