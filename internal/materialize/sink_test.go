package materialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mddb-ivm/document"
)

func TestSinkMaterializeUsesOverlayWhenBaseProvided(t *testing.T) {
	s := NewSink(4)
	s.Overlay.Record(1, "b", document.Int(9))
	base := document.New().Set("a", document.Int(1))

	got := s.Materialize(1, []string{"a", "b"}, base, func() *document.Document {
		t.Fatal("columnFallback should not be called when base is non-nil")
		return nil
	})
	bv, ok := got.Get("b")
	require.True(t, ok)
	assert.Equal(t, int64(9), bv.Int())
}

func TestSinkMaterializeUsesColumnFallbackWhenBaseNil(t *testing.T) {
	s := NewSink(4)
	called := false
	got := s.Materialize(1, []string{"a"}, nil, func() *document.Document {
		called = true
		return document.New().Set("a", document.Int(7))
	})
	assert.True(t, called)
	v, _ := got.Get("a")
	assert.Equal(t, int64(7), v.Int())
}

func TestSinkMaterializeCachesByFingerprintAndRow(t *testing.T) {
	s := NewSink(4)
	calls := 0
	fallback := func() *document.Document {
		calls++
		return document.New().Set("a", document.Int(1))
	}
	s.Materialize(1, []string{"a"}, nil, fallback)
	s.Materialize(1, []string{"a"}, nil, fallback)

	assert.Equal(t, 1, calls, "second call with identical fields+row should hit the cache")

	hits, misses, _ := s.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestSinkFingerprintDiffersByFieldSet(t *testing.T) {
	s := NewSink(4)
	f1 := s.Fingerprint([]string{"a", "b"})
	f2 := s.Fingerprint([]string{"a"})
	assert.NotEqual(t, f1, f2)
}
