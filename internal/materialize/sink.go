package materialize

import (
	"hash/maphash"

	"mddb-ivm/document"
	"mddb-ivm/internal/rowid"
)

// Sink pairs an Overlay with an LRU Cache, the combination the pipeline's
// terminal stage drives to produce final documents (spec.md §4.6).
type Sink struct {
	Overlay *Overlay
	cache   *Cache
	seed    maphash.Seed
}

// NewSink returns a sink with a cache of the given capacity.
func NewSink(cacheCapacity int) *Sink {
	return &Sink{Overlay: NewOverlay(), cache: NewCache(cacheCapacity), seed: maphash.MakeSeed()}
}

// Fingerprint hashes a projection's field list into the cache key's
// first component, so two stages that emit the same field list (in the
// same order) share cache entries regardless of which stage produced
// them; the same fields in a different order hash differently.
func (s *Sink) Fingerprint(fields []string) uint64 {
	var h maphash.Hash
	h.SetSeed(s.seed)
	for _, f := range fields {
		h.WriteString(f)
		h.WriteByte(0)
	}
	return h.Sum64()
}

// Materialize produces row's final document. If base is non-nil the
// overlay is applied to it; otherwise base has been freed and the
// caller's columnFallback reconstructs the row from batch columns
// (spec.md §4.6's freed-base rule). Results are cached by
// (projection fingerprint, RowId).
func (s *Sink) Materialize(row rowid.RowID, fields []string, base *document.Document, columnFallback func() *document.Document) *document.Document {
	key := Key{ProjectionFingerprint: s.Fingerprint(fields), Row: row}
	if doc, ok := s.cache.Get(key); ok {
		return doc
	}
	var result *document.Document
	if base != nil {
		result = s.Overlay.Apply(row, base)
	} else {
		result = columnFallback()
	}
	s.cache.Put(key, result)
	return result
}

// Stats exposes the underlying cache's hit/miss counters.
func (s *Sink) Stats() (hits, misses uint64, size int) { return s.cache.Stats() }
