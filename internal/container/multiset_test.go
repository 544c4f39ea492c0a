package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mddb-ivm/document"
)

func TestMultiSetMinMaxWithDuplicates(t *testing.T) {
	m := NewMultiSet()
	m.Add(document.Int(5))
	m.Add(document.Int(1))
	m.Add(document.Int(1))
	m.Add(document.Int(3))

	min, ok := m.Min()
	require.True(t, ok)
	assert.Equal(t, int64(1), min.Int())

	max, ok := m.Max()
	require.True(t, ok)
	assert.Equal(t, int64(5), max.Int())
}

func TestMultiSetRemoveOneOccurrenceKeepsValueUntilLastRemoved(t *testing.T) {
	m := NewMultiSet()
	m.Add(document.Int(1))
	m.Add(document.Int(1))

	m.Remove(document.Int(1))
	min, ok := m.Min()
	require.True(t, ok)
	assert.Equal(t, int64(1), min.Int())

	m.Remove(document.Int(1))
	_, ok = m.Min()
	assert.False(t, ok)
}

func TestMultiSetDecrementalMinRevealsNextSmallest(t *testing.T) {
	m := NewMultiSet()
	m.Add(document.Int(1))
	m.Add(document.Int(2))
	m.Add(document.Int(3))

	min, _ := m.Min()
	assert.Equal(t, int64(1), min.Int())

	m.Remove(document.Int(1))
	min, ok := m.Min()
	require.True(t, ok)
	assert.Equal(t, int64(2), min.Int())
}

func TestMultiSetEmptyReportsTrueWhenNoOccurrences(t *testing.T) {
	m := NewMultiSet()
	assert.True(t, m.Empty())
	m.Add(document.Int(1))
	assert.False(t, m.Empty())
	m.Remove(document.Int(1))
	assert.True(t, m.Empty())
}

func TestMultiSetRemoveUnknownValueIsNoOp(t *testing.T) {
	m := NewMultiSet()
	m.Add(document.Int(1))
	m.Remove(document.Int(99))
	assert.Equal(t, 1, m.Len())
}
