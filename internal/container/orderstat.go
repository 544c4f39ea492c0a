package container

import (
	"mddb-ivm/document"
	"mddb-ivm/internal/rowid"
)

// OrderStatKey orders primarily by a sort key and secondarily by
// RowID, so rank stays stable under equal keys (spec.md §4.3).
type OrderStatKey struct {
	Value document.Value
	Row   rowid.RowID
	// Desc reverses the primary comparison direction for this key,
	// letting $sort compose descending fields without re-encoding
	// values.
	Desc bool
}

func compareKeys(a, b OrderStatKey) int {
	c := document.Compare(a.Value, b.Value)
	if a.Desc {
		c = -c
	}
	if c != 0 {
		return c
	}
	if a.Row < b.Row {
		return -1
	}
	if a.Row > b.Row {
		return 1
	}
	return 0
}

// OrderStatTree is an AVL tree augmented with subtree sizes, giving
// O(log n) insert, remove, Kth and Rank (spec.md §4.3). Used by
// $sort+$limit (top-k) and by $first/$last under deletion.
type OrderStatTree struct {
	root *osNode
	size int
}

type osNode struct {
	key         OrderStatKey
	left, right *osNode
	height      int
	subtreeSize int
}

// NewOrderStatTree returns an empty tree.
func NewOrderStatTree() *OrderStatTree { return &OrderStatTree{} }

// Len returns the number of keys in the tree.
func (t *OrderStatTree) Len() int { return t.size }

func height(n *osNode) int {
	if n == nil {
		return 0
	}
	return n.height
}

func size(n *osNode) int {
	if n == nil {
		return 0
	}
	return n.subtreeSize
}

func update(n *osNode) {
	n.height = 1 + maxInt(height(n.left), height(n.right))
	n.subtreeSize = 1 + size(n.left) + size(n.right)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func balanceFactor(n *osNode) int {
	if n == nil {
		return 0
	}
	return height(n.left) - height(n.right)
}

func rotateRight(y *osNode) *osNode {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	update(y)
	update(x)
	return x
}

func rotateLeft(x *osNode) *osNode {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	update(x)
	update(y)
	return y
}

func rebalance(n *osNode) *osNode {
	update(n)
	bf := balanceFactor(n)
	if bf > 1 {
		if balanceFactor(n.left) < 0 {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	}
	if bf < -1 {
		if balanceFactor(n.right) > 0 {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	}
	return n
}

// Insert adds key to the tree.
func (t *OrderStatTree) Insert(key OrderStatKey) {
	t.root = insertNode(t.root, key)
	t.size++
}

func insertNode(n *osNode, key OrderStatKey) *osNode {
	if n == nil {
		return &osNode{key: key, height: 1, subtreeSize: 1}
	}
	if c := compareKeys(key, n.key); c < 0 {
		n.left = insertNode(n.left, key)
	} else {
		n.right = insertNode(n.right, key)
	}
	return rebalance(n)
}

// Remove deletes key from the tree if present.
func (t *OrderStatTree) Remove(key OrderStatKey) bool {
	var removed bool
	t.root, removed = removeNode(t.root, key)
	if removed {
		t.size--
	}
	return removed
}

func removeNode(n *osNode, key OrderStatKey) (*osNode, bool) {
	if n == nil {
		return nil, false
	}
	c := compareKeys(key, n.key)
	var removed bool
	switch {
	case c < 0:
		n.left, removed = removeNode(n.left, key)
	case c > 0:
		n.right, removed = removeNode(n.right, key)
	default:
		removed = true
		if n.left == nil {
			return n.right, true
		}
		if n.right == nil {
			return n.left, true
		}
		succ := minNode(n.right)
		n.key = succ.key
		n.right, _ = removeNode(n.right, succ.key)
	}
	if n == nil {
		return nil, removed
	}
	return rebalance(n), removed
}

func minNode(n *osNode) *osNode {
	for n.left != nil {
		n = n.left
	}
	return n
}

// Kth returns the (k+1)-th smallest key (0-indexed), matching
// spec.md §8's testable property.
func (t *OrderStatTree) Kth(k int) (OrderStatKey, bool) {
	if k < 0 || k >= t.size {
		return OrderStatKey{}, false
	}
	n := t.root
	for n != nil {
		ls := size(n.left)
		switch {
		case k < ls:
			n = n.left
		case k == ls:
			return n.key, true
		default:
			k -= ls + 1
			n = n.right
		}
	}
	return OrderStatKey{}, false
}

// Rank returns the 0-based rank of key (the count of keys strictly
// smaller than it).
func (t *OrderStatTree) Rank(key OrderStatKey) int {
	n := t.root
	rank := 0
	for n != nil {
		if compareKeys(key, n.key) > 0 {
			rank += size(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return rank
}

// Min returns the smallest key.
func (t *OrderStatTree) Min() (OrderStatKey, bool) {
	if t.root == nil {
		return OrderStatKey{}, false
	}
	return minNode(t.root).key, true
}

// Max returns the largest key.
func (t *OrderStatTree) Max() (OrderStatKey, bool) {
	if t.root == nil {
		return OrderStatKey{}, false
	}
	n := t.root
	for n.right != nil {
		n = n.right
	}
	return n.key, true
}

// Each visits keys in ascending order.
func (t *OrderStatTree) Each(fn func(OrderStatKey) bool) {
	var walk func(*osNode) bool
	walk = func(n *osNode) bool {
		if n == nil {
			return true
		}
		if !walk(n.left) {
			return false
		}
		if !fn(n.key) {
			return false
		}
		return walk(n.right)
	}
	walk(t.root)
}
