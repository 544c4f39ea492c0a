package batch

import "sync"

// Pool recycles Batch objects of a fixed capacity across pipeline
// runs, mirroring the teacher's BufferPoolManager tiered sync.Pool
// design. It is per-engine shared state (spec.md §5).
type Pool struct {
	capacity int
	pool     sync.Pool
}

// NewPool creates a batch pool for the given capacity.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pool{capacity: capacity}
	p.pool.New = func() interface{} {
		return New(capacity)
	}
	return p
}

// Get returns a cleared batch ready for a fresh push.
func (p *Pool) Get() *Batch {
	b := p.pool.Get().(*Batch)
	b.Clear()
	return b
}

// Put returns a batch to the pool after clearing it.
func (p *Pool) Put(b *Batch) {
	if b == nil || b.Capacity != p.capacity {
		return
	}
	b.Clear()
	p.pool.Put(b)
}
