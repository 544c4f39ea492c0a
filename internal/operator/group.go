package operator

import (
	"mddb-ivm/document"
	"mddb-ivm/internal/batch"
	"mddb-ivm/internal/container"
	"mddb-ivm/internal/expr"
	"mddb-ivm/internal/rowid"
	"mddb-ivm/mddberr"
)

// defaultMaxGroups is the distinct-group cap before $group fails with
// CapacityExceeded (spec.md §4.4.3).
const defaultMaxGroups = 100_000

// AccumSpec is one compiled accumulator of a $group stage.
type AccumSpec struct {
	Out  string
	Op   string // $sum,$avg,$min,$max,$first,$last,$count
	Expr document.Value
}

// VectorizableAccum reports whether op lowers to a columnar kernel;
// $push/$addToSet defeat aggregate compaction and force fallback
// (spec.md §4.4.3).
func VectorizableAccum(op string) bool {
	switch op {
	case "$sum", "$avg", "$min", "$max", "$first", "$last", "$count":
		return true
	default:
		return false
	}
}

type groupState struct {
	id            document.Value
	count         int
	originRow     rowid.RowID
	sums          map[string]float64
	counts        map[string]int
	mins          map[string]*container.MultiSet
	maxs          map[string]*container.MultiSet
	orderTrees    map[string]*container.OrderStatTree
	orderValues   map[string]map[rowid.RowID]document.Value
}

func newGroupState(id document.Value, origin rowid.RowID) *groupState {
	return &groupState{
		id:          id,
		originRow:   origin,
		sums:        make(map[string]float64),
		counts:      make(map[string]int),
		mins:        make(map[string]*container.MultiSet),
		maxs:        make(map[string]*container.MultiSet),
		orderTrees:  make(map[string]*container.OrderStatTree),
		orderValues: make(map[string]map[rowid.RowID]document.Value),
	}
}

// GroupOperator implements $group (spec.md §4.4.3): blocking, parses
// `_id` as null/single-field/compound via the shared expression
// evaluator, and lowers $sum/$avg/$min/$max/$first/$last/$count to
// columnar kernels built on container.MultiSet (min/max) and
// container.OrderStatTree (first/last, ordered by RowId).
type GroupOperator struct {
	idExpr    document.Value
	accums    []AccumSpec
	maxGroups int

	groups *container.RobinHoodMap[*groupState]
	order  []string // group-key insertion order, for deterministic Flush
}

// NewGroup returns an uninitialized $group operator.
func NewGroup(idExpr document.Value, accums []AccumSpec) *GroupOperator {
	return &GroupOperator{idExpr: idExpr, accums: accums, maxGroups: defaultMaxGroups}
}

func (g *GroupOperator) Blocking() bool { return true }

func (g *GroupOperator) Init(schema Schema, hints Hints) error {
	g.groups = container.NewRobinHoodMap[*groupState](1024)
	if hints.MemoryBudget > 0 {
		if n := int(hints.MemoryBudget / 64); n > 0 {
			g.maxGroups = n
		}
	}
	return nil
}

// groupBucket collects the batch slots a Push call routed to one
// group, so accumulators can run a single columnar kernel call over
// the whole bucket instead of evaluating an expression per row.
type groupBucket struct {
	st    *groupState
	slots []uint32
}

// Push buckets each selected slot into its group by reading the `_id`
// expression's value once per row — straight from the column when it
// is a bare field reference (expr.FieldPath), never materializing a
// full document for that common case — then runs every accumulator
// over each bucket's slot list. $sum/$avg lower directly onto
// Column.Sum/Avg/CountValid when their argument is a bare numeric
// field reference; everything else (non-field expressions, and
// $min/$max/$first/$last, which must see individual values to stay
// exact under decrement) reads column values per row, still avoiding
// expr.Eval unless the argument needs real expression evaluation
// (spec.md §4.4.3, §1).
func (g *GroupOperator) Push(b *batch.Batch) (PushResult, error) {
	idCol, idIsField := fastFieldColumn(b, g.idExpr)
	idIsLiteral := !idIsField && isPureLiteral(g.idExpr)
	var idLiteral document.Value
	if idIsLiteral {
		idLiteral = expr.Eval(g.idExpr, expr.Env{})
	}

	buckets := make(map[string]*groupBucket, 16)
	var touched []string

	for _, slot := range b.Selection {
		var idVal document.Value
		switch {
		case idIsField:
			idVal = idCol.Get(int(slot))
		case idIsLiteral:
			idVal = idLiteral
		default:
			row := b.Row(slot)
			idVal = expr.Eval(g.idExpr, expr.Env{Doc: row, Root: row})
		}
		key := container.EncodeKey(idVal)

		bk, ok := buckets[key]
		if !ok {
			st, exists := g.groups.Get(key)
			if !exists {
				if g.groups.Len() >= g.maxGroups {
					return PushResult{}, mddberr.New(mddberr.CapacityExceeded, "group: distinct-group limit %d exceeded", g.maxGroups)
				}
				st = newGroupState(idVal, b.RowIDs[slot])
				g.groups.Set(key, st)
				g.order = append(g.order, key)
			}
			bk = &groupBucket{st: st}
			buckets[key] = bk
			touched = append(touched, key)
		}
		bk.st.count++
		bk.slots = append(bk.slots, slot)
	}

	for _, key := range touched {
		bk := buckets[key]
		for _, a := range g.accums {
			applyAccumulatorBatch(b, bk.st, a, bk.slots)
		}
	}
	// Blocking: never emits from push (spec.md §4.4).
	return PushResult{}, nil
}

// fastFieldColumn returns the batch column e refers to directly, when
// e is a bare "$name" reference (expr.FieldPath) present in b.
func fastFieldColumn(b *batch.Batch, e document.Value) (*batch.Column, bool) {
	name, ok := expr.FieldPath(e)
	if !ok {
		return nil, false
	}
	return b.Column(name)
}

// isPureLiteral reports whether e needs no document to evaluate: the
// common `_id: null` single-group case hits this and so never pays
// for a per-row document materialization.
func isPureLiteral(e document.Value) bool {
	switch e.Kind() {
	case document.KindString, document.KindDocument, document.KindArray:
		return false
	default:
		return true
	}
}

// numericFieldColumn returns e's column when it is a bare field
// reference backed by typed numeric storage, so $sum/$avg can reduce
// over it with Column.Sum/Column.Avg/Column.CountValid directly
// instead of per-row boxing (spec.md §4.4.3's columnar-kernel
// requirement).
func numericFieldColumn(b *batch.Batch, e document.Value) (*batch.Column, bool) {
	col, ok := fastFieldColumn(b, e)
	if !ok {
		return nil, false
	}
	switch col.Kind() {
	case batch.KindI32, batch.KindI64, batch.KindF64, batch.KindBig:
		return col, true
	default:
		return nil, false
	}
}

// evalAccumExpr resolves an accumulator argument for one slot,
// reading straight from the column for a bare field reference and
// falling back to a materialized row only for a real expression.
func evalAccumExpr(b *batch.Batch, e document.Value, slot uint32) document.Value {
	if col, ok := fastFieldColumn(b, e); ok {
		return col.Get(int(slot))
	}
	row := b.Row(slot)
	return expr.Eval(e, expr.Env{Doc: row, Root: row})
}

func applyAccumulatorBatch(b *batch.Batch, st *groupState, a AccumSpec, slots []uint32) {
	switch a.Op {
	case "$sum":
		if col, ok := numericFieldColumn(b, a.Expr); ok {
			st.sums[a.Out] += col.Sum(slots)
			return
		}
		for _, slot := range slots {
			if f, ok := evalAccumExpr(b, a.Expr, slot).AsFloat64(); ok {
				st.sums[a.Out] += f
			}
		}
	case "$avg":
		if col, ok := numericFieldColumn(b, a.Expr); ok {
			n := col.CountValid(slots)
			if n > 0 {
				st.sums[a.Out] += col.Avg(slots) * float64(n)
				st.counts[a.Out] += n
			}
			return
		}
		for _, slot := range slots {
			if f, ok := evalAccumExpr(b, a.Expr, slot).AsFloat64(); ok {
				st.sums[a.Out] += f
				st.counts[a.Out]++
			}
		}
	case "$min":
		ms, ok := st.mins[a.Out]
		if !ok {
			ms = container.NewMultiSet()
			st.mins[a.Out] = ms
		}
		for _, slot := range slots {
			ms.Add(evalAccumExpr(b, a.Expr, slot))
		}
	case "$max":
		ms, ok := st.maxs[a.Out]
		if !ok {
			ms = container.NewMultiSet()
			st.maxs[a.Out] = ms
		}
		for _, slot := range slots {
			ms.Add(evalAccumExpr(b, a.Expr, slot))
		}
	case "$first", "$last":
		tree, ok := st.orderTrees[a.Out]
		if !ok {
			tree = container.NewOrderStatTree()
			st.orderTrees[a.Out] = tree
			st.orderValues[a.Out] = make(map[rowid.RowID]document.Value)
		}
		for _, slot := range slots {
			row := b.RowIDs[slot]
			tree.Insert(container.OrderStatKey{Value: document.Int(int64(row)), Row: row})
			st.orderValues[a.Out][row] = evalAccumExpr(b, a.Expr, slot)
		}
	case "$count":
		// tallied via st.count.
	}
}

func applyAccumulator(st *groupState, a AccumSpec, v document.Value, row rowid.RowID) {
	switch a.Op {
	case "$sum":
		if f, ok := v.AsFloat64(); ok {
			st.sums[a.Out] += f
		}
	case "$avg":
		if f, ok := v.AsFloat64(); ok {
			st.sums[a.Out] += f
			st.counts[a.Out]++
		}
	case "$min":
		ms, ok := st.mins[a.Out]
		if !ok {
			ms = container.NewMultiSet()
			st.mins[a.Out] = ms
		}
		ms.Add(v)
	case "$max":
		ms, ok := st.maxs[a.Out]
		if !ok {
			ms = container.NewMultiSet()
			st.maxs[a.Out] = ms
		}
		ms.Add(v)
	case "$first", "$last":
		tree, ok := st.orderTrees[a.Out]
		if !ok {
			tree = container.NewOrderStatTree()
			st.orderTrees[a.Out] = tree
			st.orderValues[a.Out] = make(map[rowid.RowID]document.Value)
		}
		tree.Insert(container.OrderStatKey{Value: document.Int(int64(row)), Row: row})
		st.orderValues[a.Out][row] = v
	case "$count":
		// tallied via st.count.
	}
}

func (g *GroupOperator) Flush() (*batch.Batch, bool, error) {
	if len(g.order) == 0 {
		return nil, false, nil
	}
	out := batch.New(len(g.order))
	idCol := out.AddColumn("_id", batch.KindAny)
	outCols := make(map[string]*batch.Column, len(g.accums))
	for _, a := range g.accums {
		if _, ok := outCols[a.Out]; !ok {
			outCols[a.Out] = out.AddColumn(a.Out, batch.KindAny)
		}
	}

	for i, key := range g.order {
		st, _ := g.groups.Get(key)
		idCol.Set(i, st.id)
		out.RowIDs[i] = st.originRow
		for _, a := range g.accums {
			outCols[a.Out].Set(i, finalizeAccumulator(st, a))
		}
	}
	out.ResetSelection(len(g.order))
	return out, true, nil
}

func finalizeAccumulator(st *groupState, a AccumSpec) document.Value {
	switch a.Op {
	case "$sum":
		return document.Float(st.sums[a.Out])
	case "$avg":
		c := st.counts[a.Out]
		if c == 0 {
			return document.Float(0)
		}
		return document.Float(st.sums[a.Out] / float64(c))
	case "$min":
		if ms, ok := st.mins[a.Out]; ok {
			if v, ok := ms.Min(); ok {
				return v
			}
		}
		return document.Null()
	case "$max":
		if ms, ok := st.maxs[a.Out]; ok {
			if v, ok := ms.Max(); ok {
				return v
			}
		}
		return document.Null()
	case "$first":
		return orderStatValue(st, a.Out, true)
	case "$last":
		return orderStatValue(st, a.Out, false)
	case "$count":
		return document.Int(int64(st.count))
	default:
		return document.Null()
	}
}

func orderStatValue(st *groupState, out string, first bool) document.Value {
	tree, ok := st.orderTrees[out]
	if !ok {
		return document.Null()
	}
	var key container.OrderStatKey
	var found bool
	if first {
		key, found = tree.Min()
	} else {
		key, found = tree.Max()
	}
	if !found {
		return document.Null()
	}
	return st.orderValues[out][key.Row]
}

func (g *GroupOperator) Close() error {
	g.groups = nil
	g.order = nil
	return nil
}

// ApplyIncrement adds the row's contribution to its group, creating
// the group on first sight. A downstream add delta is emitted only
// when the group's count crosses from zero (spec.md §4.7); otherwise
// the updated aggregate is visible on the next Flush.
func (g *GroupOperator) ApplyIncrement(row rowid.RowID, doc *document.Document) []Delta {
	env := expr.Env{Doc: doc, Root: doc}
	idVal := expr.Eval(g.idExpr, env)
	key := container.EncodeKey(idVal)

	st, ok := g.groups.Get(key)
	wasZero := !ok
	if !ok {
		if g.groups.Len() >= g.maxGroups {
			return nil
		}
		st = newGroupState(idVal, row)
		g.groups.Set(key, st)
		g.order = append(g.order, key)
	}
	st.count++
	for _, a := range g.accums {
		var argVal document.Value
		if a.Op != "$count" {
			argVal = expr.Eval(a.Expr, env)
		}
		applyAccumulator(st, a, argVal, row)
	}
	if wasZero {
		return []Delta{{Row: st.originRow, Doc: g.materialize(st), Sign: 1}}
	}
	return nil
}

// ApplyDecrement removes the row's contribution using the ref-counted
// multisets and order-statistics trees so min/max/first/last stay
// exact. When the group's count reaches zero it emits a single remove
// delta; otherwise, if the decrement changed any accumulator's
// finalized value (e.g. removing the current $min's contributing row
// reveals the next smallest), it emits a retract-old/insert-new pair
// so downstream stages and IVM store subscribers observe the new
// value rather than silently missing the update (spec.md §4.7, §8
// Testable Scenario 2).
func (g *GroupOperator) ApplyDecrement(row rowid.RowID, doc *document.Document) []Delta {
	env := expr.Env{Doc: doc, Root: doc}
	idVal := expr.Eval(g.idExpr, env)
	key := container.EncodeKey(idVal)

	st, ok := g.groups.Get(key)
	if !ok {
		return nil
	}
	before := g.materialize(st)
	st.count--
	for _, a := range g.accums {
		var argVal document.Value
		if a.Op != "$count" {
			argVal = expr.Eval(a.Expr, env)
		}
		removeAccumulator(st, a, argVal, row)
	}
	if st.count <= 0 {
		delta := Delta{Row: st.originRow, Doc: g.materialize(st), Sign: -1}
		g.groups.Delete(key)
		for i, k := range g.order {
			if k == key {
				g.order = append(g.order[:i], g.order[i+1:]...)
				break
			}
		}
		return []Delta{delta}
	}
	after := g.materialize(st)
	if document.Equal(document.Doc(before), document.Doc(after)) {
		return nil
	}
	return []Delta{
		{Row: st.originRow, Doc: before, Sign: -1},
		{Row: st.originRow, Doc: after, Sign: 1},
	}
}

func (g *GroupOperator) materialize(st *groupState) *document.Document {
	out := document.New()
	out.Set("_id", st.id)
	for _, a := range g.accums {
		out.Set(a.Out, finalizeAccumulator(st, a))
	}
	return out
}

func removeAccumulator(st *groupState, a AccumSpec, v document.Value, row rowid.RowID) {
	switch a.Op {
	case "$sum":
		if f, ok := v.AsFloat64(); ok {
			st.sums[a.Out] -= f
		}
	case "$avg":
		if f, ok := v.AsFloat64(); ok {
			st.sums[a.Out] -= f
			st.counts[a.Out]--
		}
	case "$min":
		if ms, ok := st.mins[a.Out]; ok {
			ms.Remove(v)
		}
	case "$max":
		if ms, ok := st.maxs[a.Out]; ok {
			ms.Remove(v)
		}
	case "$first", "$last":
		if tree, ok := st.orderTrees[a.Out]; ok {
			tree.Remove(container.OrderStatKey{Value: document.Int(int64(row)), Row: row})
			delete(st.orderValues[a.Out], row)
		}
	case "$count":
		// tallied via st.count.
	}
}
