package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentSetGetPreservesInsertionOrder(t *testing.T) {
	d := New()
	d.Set("b", Int(2))
	d.Set("a", Int(1))
	d.Set("b", Int(20))

	assert.Equal(t, []string{"b", "a"}, d.Keys())
	v, ok := d.Get("b")
	require.True(t, ok)
	assert.Equal(t, int64(20), v.Int())
}

func TestDocumentDeleteRemovesKeyAndOrder(t *testing.T) {
	d := New()
	d.Set("a", Int(1))
	d.Set("b", Int(2))
	d.Set("c", Int(3))

	d.Delete("b")

	assert.Equal(t, []string{"a", "c"}, d.Keys())
	_, ok := d.Get("b")
	assert.False(t, ok)
}

func TestDocumentGetPathNested(t *testing.T) {
	inner := New().Set("c", Int(42))
	outer := New().Set("a", Doc(New().Set("b", Doc(inner))))

	v, ok := outer.GetPath("a.b.c")
	require.True(t, ok)
	assert.Equal(t, int64(42), v.Int())

	_, ok = outer.GetPath("a.b.missing")
	assert.False(t, ok)

	_, ok = outer.GetPath("a.b.c.d")
	assert.False(t, ok)
}

func TestDocumentCloneIsShallowAndIndependent(t *testing.T) {
	d := New().Set("x", Int(1))
	clone := d.Clone()
	clone.Set("x", Int(2))

	v, _ := d.Get("x")
	assert.Equal(t, int64(1), v.Int())
	cv, _ := clone.Get("x")
	assert.Equal(t, int64(2), cv.Int())
}

func TestDocumentWithOverlayAppliesOverridesWithoutMutatingBase(t *testing.T) {
	base := New().Set("a", Int(1)).Set("b", Int(2))
	out := base.WithOverlay(map[string]Value{"b": Int(20), "c": Int(3)})

	bv, _ := base.Get("b")
	assert.Equal(t, int64(2), bv.Int())
	_, ok := base.Get("c")
	assert.False(t, ok)

	ov, _ := out.Get("b")
	assert.Equal(t, int64(20), ov.Int())
	cv, _ := out.Get("c")
	assert.Equal(t, int64(3), cv.Int())
}

func TestDocumentMarshalJSONRoundTrip(t *testing.T) {
	d := New().Set("name", String("eve")).Set("age", Int(30)).Set("tags", Array(String("a"), String("b")))

	raw, err := d.MarshalJSON()
	require.NoError(t, err)

	var out Document
	require.NoError(t, out.UnmarshalJSON(raw))

	assert.True(t, Equal(Doc(d), Doc(&out)))
}

func TestDocumentUnmarshalJSONRejectsNonObject(t *testing.T) {
	var d Document
	err := d.UnmarshalJSON([]byte(`[1,2,3]`))
	assert.Error(t, err)
}
