// Package rowid allocates stable row identifiers and tracks the
// virtual ids $unwind mints over array elements, per spec.md §3/§4.2.
package rowid

import "fmt"

// RowID is an opaque 32-bit identifier. The high bit distinguishes a
// physical row ([0, 2^31)) from a virtual one ([2^31, 2^32)).
type RowID uint32

const virtualBit uint32 = 1 << 31

// IsVirtual reports whether id was minted by $unwind.
func (id RowID) IsVirtual() bool { return uint32(id)&virtualBit != 0 }

func (id RowID) String() string {
	if id.IsVirtual() {
		return fmt.Sprintf("v%d", uint32(id)&^virtualBit)
	}
	return fmt.Sprintf("r%d", uint32(id))
}

// VirtualInfo records the three facts a virtual id carries: the
// physical origin, the array index it denotes, and the field path
// that was unwound.
type VirtualInfo struct {
	Origin RowID
	Index  int
	Field  string
}

// Space allocates physical RowIDs from a monotonic counter with a
// free-list for reuse, and mints virtual RowIDs for $unwind. It is not
// safe for concurrent use across goroutines without external
// synchronization — a pipeline execution is single-threaded per
// spec.md §5.
type Space struct {
	next     uint32
	freeList []RowID
	virtNext uint32
	virtual  map[RowID]VirtualInfo
}

// New returns an empty row-id space.
func New() *Space {
	return &Space{virtual: make(map[RowID]VirtualInfo)}
}

// Allocate returns a free-list entry if one exists, else the next
// monotonically increasing physical id.
func (s *Space) Allocate() RowID {
	if n := len(s.freeList); n > 0 {
		id := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		return id
	}
	id := RowID(s.next)
	s.next++
	return id
}

// Free returns a physical id to the free list. Freeing a virtual id
// is a no-op: virtual ids are never reused across pipeline runs
// (spec.md §3).
func (s *Space) Free(id RowID) {
	if id.IsVirtual() {
		return
	}
	s.freeList = append(s.freeList, id)
}

// Unwind mints a fresh virtual RowID for one element of an unwound
// array field and records its origin/index/field.
func (s *Space) Unwind(origin RowID, index int, field string) RowID {
	id := RowID(virtualBit | s.virtNext)
	s.virtNext++
	s.virtual[id] = VirtualInfo{Origin: origin, Index: index, Field: field}
	return id
}

// Lookup returns the side-table facts for a virtual id.
func (s *Space) Lookup(id RowID) (VirtualInfo, bool) {
	info, ok := s.virtual[id]
	return info, ok
}

// DroppedVirtual pairs a forgotten virtual id with the facts it
// carried, so a caller can still report which array element it denoted
// after the id is gone from the side table.
type DroppedVirtual struct {
	ID   RowID
	Info VirtualInfo
}

// ForgetVirtualsFrom drops every recorded virtual id whose origin
// matches, used when $unwind retracts a row under a −1 delta and must
// emit matching −1s for all its derived virtual ids (spec.md §4.7).
func (s *Space) ForgetVirtualsFrom(origin RowID) []DroppedVirtual {
	var dropped []DroppedVirtual
	for id, info := range s.virtual {
		if info.Origin == origin {
			dropped = append(dropped, DroppedVirtual{ID: id, Info: info})
			delete(s.virtual, id)
		}
	}
	return dropped
}
