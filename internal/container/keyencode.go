package container

import (
	"encoding/binary"
	"math"
	"strings"

	"mddb-ivm/document"
)

// EncodeKey produces the canonical tuple encoding used as a group
// key: a sequence of (type tag, value) pairs, stable across runs
// regardless of Go map iteration order (spec.md §4.3). Single-field
// keys pass one value; compound keys pass the ordered field values of
// an object _id expression.
func EncodeKey(values ...document.Value) string {
	var sb strings.Builder
	for _, v := range values {
		encodeOne(&sb, v)
		sb.WriteByte(0) // field separator
	}
	return sb.String()
}

func encodeOne(sb *strings.Builder, v document.Value) {
	switch v.Kind() {
	case document.KindNull:
		sb.WriteByte('N')
	case document.KindBool:
		sb.WriteByte('B')
		if v.Bool() {
			sb.WriteByte(1)
		} else {
			sb.WriteByte(0)
		}
	case document.KindInt:
		sb.WriteByte('I')
		writeUint64(sb, uint64(v.Int()))
	case document.KindFloat:
		sb.WriteByte('F')
		writeUint64(sb, math.Float64bits(v.Float()))
	case document.KindTimestamp:
		sb.WriteByte('T')
		writeUint64(sb, uint64(v.Int()))
	case document.KindString:
		sb.WriteByte('S')
		writeUint64(sb, uint64(len(v.Str())))
		sb.WriteString(v.Str())
	case document.KindArray:
		sb.WriteByte('A')
		elems := v.Elements()
		writeUint64(sb, uint64(len(elems)))
		for _, e := range elems {
			encodeOne(sb, e)
		}
	case document.KindDocument:
		sb.WriteByte('D')
		keys := v.Document().Keys()
		writeUint64(sb, uint64(len(keys)))
		for _, k := range keys {
			sb.WriteString(k)
			sb.WriteByte(0)
			fv, _ := v.Document().Get(k)
			encodeOne(sb, fv)
		}
	}
}

func writeUint64(sb *strings.Builder, u uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)
	sb.Write(buf[:])
}
