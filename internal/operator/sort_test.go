package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mddb-ivm/document"
	"mddb-ivm/internal/rowid"
)

func TestSortOperatorFullSortAscending(t *testing.T) {
	s := NewSort([]SortKey{{Field: "v"}}, 0)
	require.NoError(t, s.Init(schemaWith("v"), Hints{}))

	b := buildBatchDocs([]string{"v"},
		map[string]document.Value{"v": document.Int(3)},
		map[string]document.Value{"v": document.Int(1)},
		map[string]document.Value{"v": document.Int(2)},
	)
	_, err := s.Push(b)
	require.NoError(t, err)

	out, hasOutput, err := s.Flush()
	require.NoError(t, err)
	require.True(t, hasOutput)

	col, _ := out.Column("v")
	var got []int64
	for _, slot := range out.Selection {
		got = append(got, col.Get(int(slot)).Int())
	}
	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestSortOperatorDescending(t *testing.T) {
	s := NewSort([]SortKey{{Field: "v", Desc: true}}, 0)
	require.NoError(t, s.Init(schemaWith("v"), Hints{}))

	b := buildBatchDocs([]string{"v"},
		map[string]document.Value{"v": document.Int(1)},
		map[string]document.Value{"v": document.Int(3)},
		map[string]document.Value{"v": document.Int(2)},
	)
	_, err := s.Push(b)
	require.NoError(t, err)
	out, _, err := s.Flush()
	require.NoError(t, err)

	col, _ := out.Column("v")
	var got []int64
	for _, slot := range out.Selection {
		got = append(got, col.Get(int(slot)).Int())
	}
	assert.Equal(t, []int64{3, 2, 1}, got)
}

func TestSortOperatorTopKKeepsOnlyBestEntries(t *testing.T) {
	s := NewSort([]SortKey{{Field: "v"}}, 2)
	require.NoError(t, s.Init(schemaWith("v"), Hints{}))

	b := buildBatchDocs([]string{"v"},
		map[string]document.Value{"v": document.Int(5)},
		map[string]document.Value{"v": document.Int(1)},
		map[string]document.Value{"v": document.Int(3)},
		map[string]document.Value{"v": document.Int(2)},
	)
	// top-k tracks rows by RowID, so each slot needs a distinct one.
	for i := range b.RowIDs {
		b.RowIDs[i] = rowid.RowID(i + 1)
	}
	_, err := s.Push(b)
	require.NoError(t, err)
	out, _, err := s.Flush()
	require.NoError(t, err)

	col, _ := out.Column("v")
	var got []int64
	for _, slot := range out.Selection {
		got = append(got, col.Get(int(slot)).Int())
	}
	assert.Equal(t, []int64{1, 2}, got)
}

func TestSortOperatorTopKApplyIncrementEvictsWorst(t *testing.T) {
	s := NewSort([]SortKey{{Field: "v"}}, 1)
	require.NoError(t, s.Init(schemaWith("v"), Hints{}))

	d1 := document.New().Set("v", document.Int(5))
	deltas := s.ApplyIncrement(1, d1)
	require.Len(t, deltas, 1)
	assert.Equal(t, int8(1), deltas[0].Sign)

	d2 := document.New().Set("v", document.Int(2))
	deltas = s.ApplyIncrement(2, d2)
	require.Len(t, deltas, 2)
	// The worse (larger) value is evicted, the better one enters.
	assert.Equal(t, int8(-1), deltas[0].Sign)
	assert.Equal(t, rowid.RowID(1), deltas[0].Row)
	assert.Equal(t, int8(1), deltas[1].Sign)
	assert.Equal(t, rowid.RowID(2), deltas[1].Row)
}

func TestSortOperatorFullSortApplyDecrementRemovesBufferedRow(t *testing.T) {
	s := NewSort([]SortKey{{Field: "v"}}, 0)
	require.NoError(t, s.Init(schemaWith("v"), Hints{}))

	d1 := document.New().Set("v", document.Int(1))
	s.ApplyIncrement(1, d1)
	deltas := s.ApplyDecrement(1, d1)
	require.Len(t, deltas, 1)
	assert.Equal(t, int8(-1), deltas[0].Sign)
}
