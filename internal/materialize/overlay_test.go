package materialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mddb-ivm/document"
)

func TestOverlayApplyWithNoRecordedOverridesClonesBase(t *testing.T) {
	o := NewOverlay()
	base := document.New().Set("a", document.Int(1))
	got := o.Apply(5, base)

	assert.NotSame(t, base, got)
	v, ok := got.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(1), v.Int())
}

func TestOverlayApplyWithRecordedOverridesMergesOntoBase(t *testing.T) {
	o := NewOverlay()
	o.Record(5, "b", document.Int(2))
	base := document.New().Set("a", document.Int(1))

	got := o.Apply(5, base)
	av, _ := got.Get("a")
	bv, ok := got.Get("b")
	assert.Equal(t, int64(1), av.Int())
	require.True(t, ok)
	assert.Equal(t, int64(2), bv.Int())

	// base itself is untouched
	_, hasB := base.Get("b")
	assert.False(t, hasB)
}

func TestOverlayForgetDropsRecordedOverrides(t *testing.T) {
	o := NewOverlay()
	o.Record(5, "b", document.Int(2))
	o.Forget(5)

	_, ok := o.Get(5)
	assert.False(t, ok)
}

func TestOverlayRecordLastWriteWinsPerField(t *testing.T) {
	o := NewOverlay()
	o.Record(5, "b", document.Int(1))
	o.Record(5, "b", document.Int(2))

	m, ok := o.Get(5)
	require.True(t, ok)
	assert.Equal(t, int64(2), m["b"].Int())
}
