package batch

// Selection is the dense active-row index array a batch is always
// interpreted through: operators filter by shrinking it, never by
// rewriting column data (spec.md §3).
type Selection []uint32

// Identity returns the selection [0, n).
func Identity(n int) Selection {
	sel := make(Selection, n)
	for i := range sel {
		sel[i] = uint32(i)
	}
	return sel
}

// Filter returns a new selection containing only rows for which
// keep(rowIndex) is true, preserving relative order.
func (s Selection) Filter(keep func(rowIndex uint32) bool) Selection {
	out := make(Selection, 0, len(s))
	for _, i := range s {
		if keep(i) {
			out = append(out, i)
		}
	}
	return out
}
