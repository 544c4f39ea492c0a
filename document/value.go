// Package document implements the engine's data model: an ordered
// string-keyed Document and the tagged Value union it stores.
package document

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Kind tags the dynamic type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindDocument
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindDocument:
		return "document"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is the tagged union every document field holds. Zero value is
// null. Values are small enough to pass by value; Array/Document kinds
// hold a reference to shared backing storage.
type Value struct {
	kind Kind
	i64  int64
	f64  float64
	str  string
	arr  []Value
	doc  *Document
}

func Null() Value                  { return Value{kind: KindNull} }
func Bool(b bool) Value            { return Value{kind: KindBool, i64: boolToInt(b)} }
func Int(i int64) Value            { return Value{kind: KindInt, i64: i} }
func Float(f float64) Value        { return Value{kind: KindFloat, f64: f} }
func String(s string) Value        { return Value{kind: KindString, str: s} }
func Array(vs ...Value) Value      { return Value{kind: KindArray, arr: vs} }
func Doc(d *Document) Value        { return Value{kind: KindDocument, doc: d} }
func Timestamp(t time.Time) Value  { return Value{kind: KindTimestamp, i64: t.UnixNano()} }

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (v Value) Kind() Kind        { return v.kind }
func (v Value) IsNull() bool      { return v.kind == KindNull }

// IsNaN reports whether v is a numeric kind holding NaN. Per spec.md
// §4.4.3, NaN is incomparable and must be excluded from $min/$max
// candidate sets rather than compared.
func (v Value) IsNaN() bool {
	switch v.kind {
	case KindFloat:
		return math.IsNaN(v.f64)
	case KindInt, KindTimestamp:
		return false
	default:
		return false
	}
}
func (v Value) Bool() bool        { return v.i64 != 0 }
func (v Value) Int() int64        { return v.i64 }
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i64)
	}
	return v.f64
}
func (v Value) Str() string          { return v.str }
func (v Value) Elements() []Value    { return v.arr }
func (v Value) Document() *Document  { return v.doc }
func (v Value) Time() time.Time      { return time.Unix(0, v.i64).UTC() }

// AsFloat64 coerces any numeric kind to float64; ok is false for
// non-numeric kinds.
func (v Value) AsFloat64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i64), true
	case KindFloat:
		return v.f64, true
	default:
		return 0, false
	}
}

// typeRank implements the repository's total order:
// null < bool < number < string < array < document.
func typeRank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt, KindFloat, KindTimestamp:
		return 2
	case KindString:
		return 3
	case KindArray:
		return 4
	case KindDocument:
		return 5
	default:
		return 6
	}
}

// Compare implements the engine's total order over values. NaN
// operands are incomparable; Compare reports them as equal to avoid
// spurious ordering decisions (callers filter NaN out before sorting
// when exactness matters, see container.MultiSet.Add).
func Compare(a, b Value) int {
	ra, rb := typeRank(a.kind), typeRank(b.kind)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		return int(a.i64 - b.i64)
	case KindInt, KindFloat, KindTimestamp:
		af, bf := a.Float(), b.Float()
		if math.IsNaN(af) || math.IsNaN(bf) {
			return 0
		}
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case KindString:
		switch {
		case a.str < b.str:
			return -1
		case a.str > b.str:
			return 1
		default:
			return 0
		}
	case KindArray:
		n := len(a.arr)
		if len(b.arr) < n {
			n = len(b.arr)
		}
		for i := 0; i < n; i++ {
			if c := Compare(a.arr[i], b.arr[i]); c != 0 {
				return c
			}
		}
		return len(a.arr) - len(b.arr)
	case KindDocument:
		return compareDocs(a.doc, b.doc)
	default:
		return 0
	}
}

// compareDocs compares by sorted key/value pairs since document
// equality ignores field order.
func compareDocs(a, b *Document) int {
	ak := append([]string(nil), a.Keys()...)
	bk := append([]string(nil), b.Keys()...)
	sort.Strings(ak)
	sort.Strings(bk)
	n := len(ak)
	if len(bk) < n {
		n = len(bk)
	}
	for i := 0; i < n; i++ {
		if ak[i] != bk[i] {
			if ak[i] < bk[i] {
				return -1
			}
			return 1
		}
		av, _ := a.Get(ak[i])
		bv, _ := b.Get(bk[i])
		if c := Compare(av, bv); c != 0 {
			return c
		}
	}
	return len(ak) - len(bk)
}

// Equal reports value equality per spec.md §3: sequences compare
// order-sensitively, nested documents ignore field order.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		// int and float compare numerically across kinds; a timestamp
		// only ever equals another timestamp.
		af, aok := a.AsFloat64()
		bf, bok := b.AsFloat64()
		if aok && bok {
			return af == bf
		}
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool, KindInt, KindTimestamp:
		return a.i64 == b.i64
	case KindFloat:
		return a.f64 == b.f64
	case KindString:
		return a.str == b.str
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindDocument:
		return compareDocs(a.doc, b.doc) == 0
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.i64 != 0)
	case KindInt:
		return fmt.Sprintf("%d", v.i64)
	case KindFloat:
		return fmt.Sprintf("%g", v.f64)
	case KindString:
		return v.str
	case KindArray:
		return fmt.Sprintf("%v", v.arr)
	case KindDocument:
		return v.doc.String()
	case KindTimestamp:
		return v.Time().String()
	default:
		return "<invalid>"
	}
}
