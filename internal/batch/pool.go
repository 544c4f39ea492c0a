package batch

// StringPool is a per-column string dictionary: interning is
// deterministic within a column, but no global interning is assumed
// across columns (spec.md §4.1).
type StringPool struct {
	strs []string
	ids  map[string]uint32
}

// NewStringPool returns an empty pool.
func NewStringPool() *StringPool {
	return &StringPool{ids: make(map[string]uint32)}
}

// Intern returns the dictionary id for s, assigning a new one on
// first sight.
func (p *StringPool) Intern(s string) uint32 {
	if id, ok := p.ids[s]; ok {
		return id
	}
	id := uint32(len(p.strs))
	p.strs = append(p.strs, s)
	p.ids[s] = id
	return id
}

// Lookup returns the dictionary id for s without interning it.
func (p *StringPool) Lookup(s string) (uint32, bool) {
	id, ok := p.ids[s]
	return id, ok
}

// String resolves a dictionary id back to its string.
func (p *StringPool) String(id uint32) string {
	if int(id) >= len(p.strs) {
		return ""
	}
	return p.strs[id]
}

// Len returns the number of distinct interned strings.
func (p *StringPool) Len() int { return len(p.strs) }
