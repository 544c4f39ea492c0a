package rowid

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpaceAllocateIsMonotonicWithoutFrees(t *testing.T) {
	s := New()
	a := s.Allocate()
	b := s.Allocate()
	c := s.Allocate()
	assert.Equal(t, RowID(0), a)
	assert.Equal(t, RowID(1), b)
	assert.Equal(t, RowID(2), c)
	assert.False(t, a.IsVirtual())
}

func TestSpaceFreeReusesID(t *testing.T) {
	s := New()
	a := s.Allocate()
	_ = s.Allocate()
	s.Free(a)
	reused := s.Allocate()
	assert.Equal(t, a, reused)
}

func TestSpaceFreeOnVirtualIsNoOp(t *testing.T) {
	s := New()
	origin := s.Allocate()
	v := s.Unwind(origin, 0, "items")
	s.Free(v)
	next := s.Allocate()
	assert.NotEqual(t, v, next)
	assert.True(t, v.IsVirtual())
}

func TestSpaceUnwindMintsVirtualIDsWithLookup(t *testing.T) {
	s := New()
	origin := s.Allocate()
	v0 := s.Unwind(origin, 0, "items")
	v1 := s.Unwind(origin, 1, "items")

	assert.True(t, v0.IsVirtual())
	assert.NotEqual(t, v0, v1)

	info, ok := s.Lookup(v0)
	require.True(t, ok)
	assert.Equal(t, origin, info.Origin)
	assert.Equal(t, 0, info.Index)
	assert.Equal(t, "items", info.Field)

	info1, ok := s.Lookup(v1)
	require.True(t, ok)
	assert.Equal(t, 1, info1.Index)
}

func TestSpaceForgetVirtualsFromOnlyDropsMatchingOrigin(t *testing.T) {
	s := New()
	origin1 := s.Allocate()
	origin2 := s.Allocate()
	v0 := s.Unwind(origin1, 0, "items")
	v1 := s.Unwind(origin1, 1, "items")
	v2 := s.Unwind(origin2, 0, "items")

	dropped := s.ForgetVirtualsFrom(origin1)
	require.Len(t, dropped, 2)

	var ids []RowID
	for _, d := range dropped {
		ids = append(ids, d.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	wantIDs := []RowID{v0, v1}
	sort.Slice(wantIDs, func(i, j int) bool { return wantIDs[i] < wantIDs[j] })
	assert.Equal(t, wantIDs, ids)

	_, ok := s.Lookup(v0)
	assert.False(t, ok)
	_, ok = s.Lookup(v2)
	assert.True(t, ok, "virtual ids from a different origin must survive")
}

func TestRowIDStringFormat(t *testing.T) {
	s := New()
	phys := s.Allocate()
	virt := s.Unwind(phys, 0, "a")
	assert.Equal(t, "r0", phys.String())
	assert.Equal(t, "v0", virt.String())
}
