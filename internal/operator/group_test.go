package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mddb-ivm/document"
	"mddb-ivm/internal/batch"
)

// typedBatch builds a batch with real typed columns (mirroring what
// engine.Engine.buildBatch infers for a uniform field), so $sum/$avg's
// Column.Sum/Avg/CountValid kernel path actually runs instead of the
// per-row KindAny fallback buildBatchDocs always exercises.
func typedBatch(field string, kind batch.Kind, vals ...document.Value) *batch.Batch {
	b := batch.New(len(vals))
	col := b.AddColumn(field, kind)
	for i, v := range vals {
		col.Set(i, v)
	}
	b.ResetSelection(len(vals))
	return b
}

func TestGroupOperatorSumAccumulatesPerKey(t *testing.T) {
	g := NewGroup(document.String("$cat"), []AccumSpec{{Out: "total", Op: "$sum", Expr: document.String("$amount")}})
	require.NoError(t, g.Init(schemaWith("cat", "amount"), Hints{}))

	b := buildBatchDocs([]string{"cat", "amount"},
		map[string]document.Value{"cat": document.String("a"), "amount": document.Int(1)},
		map[string]document.Value{"cat": document.String("b"), "amount": document.Int(2)},
		map[string]document.Value{"cat": document.String("a"), "amount": document.Int(3)},
	)
	_, err := g.Push(b)
	require.NoError(t, err)

	out, hasOutput, err := g.Flush()
	require.NoError(t, err)
	require.True(t, hasOutput)

	totals := map[string]float64{}
	idCol, _ := out.Column("_id")
	totalCol, _ := out.Column("total")
	for _, slot := range out.Selection {
		totals[idCol.Get(int(slot)).Str()] = totalCol.Get(int(slot)).Float()
	}
	assert.Equal(t, 4.0, totals["a"])
	assert.Equal(t, 2.0, totals["b"])
}

func TestGroupOperatorMinMaxCountAvg(t *testing.T) {
	g := NewGroup(document.Null(), []AccumSpec{
		{Out: "mn", Op: "$min", Expr: document.String("$v")},
		{Out: "mx", Op: "$max", Expr: document.String("$v")},
		{Out: "cnt", Op: "$count"},
		{Out: "avg", Op: "$avg", Expr: document.String("$v")},
	})
	require.NoError(t, g.Init(schemaWith("v"), Hints{}))

	b := buildBatchDocs([]string{"v"},
		map[string]document.Value{"v": document.Int(5)},
		map[string]document.Value{"v": document.Int(1)},
		map[string]document.Value{"v": document.Int(9)},
	)
	_, err := g.Push(b)
	require.NoError(t, err)
	out, _, err := g.Flush()
	require.NoError(t, err)

	mnCol, _ := out.Column("mn")
	mxCol, _ := out.Column("mx")
	cntCol, _ := out.Column("cnt")
	avgCol, _ := out.Column("avg")
	slot := out.Selection[0]
	assert.Equal(t, int64(1), mnCol.Get(int(slot)).Int())
	assert.Equal(t, int64(9), mxCol.Get(int(slot)).Int())
	assert.Equal(t, int64(3), cntCol.Get(int(slot)).Int())
	assert.InDelta(t, 5.0, avgCol.Get(int(slot)).Float(), 0.001)
}

func TestGroupOperatorApplyIncrementEmitsAddOnlyOnFirstRow(t *testing.T) {
	g := NewGroup(document.String("$cat"), []AccumSpec{{Out: "total", Op: "$sum", Expr: document.String("$v")}})
	require.NoError(t, g.Init(schemaWith("cat", "v"), Hints{}))

	row1 := document.New().Set("cat", document.String("a")).Set("v", document.Int(1))
	deltas := g.ApplyIncrement(1, row1)
	require.Len(t, deltas, 1)
	assert.Equal(t, int8(1), deltas[0].Sign)

	row2 := document.New().Set("cat", document.String("a")).Set("v", document.Int(2))
	deltas = g.ApplyIncrement(2, row2)
	assert.Empty(t, deltas, "second row into an existing group does not re-emit an add")
}

func TestGroupOperatorApplyDecrementEmitsRemoveWhenCountReachesZero(t *testing.T) {
	g := NewGroup(document.String("$cat"), []AccumSpec{{Out: "total", Op: "$sum", Expr: document.String("$v")}})
	require.NoError(t, g.Init(schemaWith("cat", "v"), Hints{}))

	row := document.New().Set("cat", document.String("a")).Set("v", document.Int(1))
	g.ApplyIncrement(1, row)

	deltas := g.ApplyDecrement(1, row)
	require.Len(t, deltas, 1)
	assert.Equal(t, int8(-1), deltas[0].Sign)
}

func TestGroupOperatorDecrementalMinRevealsNextSmallestAfterRemoval(t *testing.T) {
	g := NewGroup(document.Null(), []AccumSpec{{Out: "mn", Op: "$min", Expr: document.String("$v")}})
	require.NoError(t, g.Init(schemaWith("v"), Hints{}))

	r1 := document.New().Set("v", document.Int(1))
	r2 := document.New().Set("v", document.Int(2))
	g.ApplyIncrement(1, r1)
	g.ApplyIncrement(2, r2)

	out, _, err := g.Flush()
	require.NoError(t, err)
	mnCol, _ := out.Column("mn")
	assert.Equal(t, int64(1), mnCol.Get(int(out.Selection[0])).Int())

	deltas := g.ApplyDecrement(1, r1)
	require.Len(t, deltas, 2, "removing the current min must retract the old value and insert the new one")
	assert.Equal(t, int8(-1), deltas[0].Sign)
	oldMn, _ := deltas[0].Doc.Get("mn")
	assert.Equal(t, int64(1), oldMn.Int())
	assert.Equal(t, int8(1), deltas[1].Sign)
	newMn, _ := deltas[1].Doc.Get("mn")
	assert.Equal(t, int64(2), newMn.Int())

	out, _, err = g.Flush()
	require.NoError(t, err)
	mnCol, _ = out.Column("mn")
	assert.Equal(t, int64(2), mnCol.Get(int(out.Selection[0])).Int())
}

// TestGroupOperatorDecrementalMinSpecScenario mirrors spec.md §8
// Testable Scenario 2 verbatim: ingest k:"x" with v:10, v:5, v:7, then
// remove the v:5 row. The observer must see -{_id:"x",m:5} followed by
// +{_id:"x",m:7}.
func TestGroupOperatorDecrementalMinSpecScenario(t *testing.T) {
	g := NewGroup(document.String("$k"), []AccumSpec{{Out: "m", Op: "$min", Expr: document.String("$v")}})
	require.NoError(t, g.Init(schemaWith("k", "v"), Hints{}))

	r10 := document.New().Set("k", document.String("x")).Set("v", document.Int(10))
	r5 := document.New().Set("k", document.String("x")).Set("v", document.Int(5))
	r7 := document.New().Set("k", document.String("x")).Set("v", document.Int(7))
	g.ApplyIncrement(1, r10)
	g.ApplyIncrement(2, r5)
	g.ApplyIncrement(3, r7)

	deltas := g.ApplyDecrement(2, r5)
	require.Len(t, deltas, 2)

	assert.Equal(t, int8(-1), deltas[0].Sign)
	oldID, _ := deltas[0].Doc.Get("_id")
	oldM, _ := deltas[0].Doc.Get("m")
	assert.Equal(t, "x", oldID.Str())
	assert.Equal(t, int64(5), oldM.Int())

	assert.Equal(t, int8(1), deltas[1].Sign)
	newID, _ := deltas[1].Doc.Get("_id")
	newM, _ := deltas[1].Doc.Get("m")
	assert.Equal(t, "x", newID.Str())
	assert.Equal(t, int64(7), newM.Int())
}

func TestGroupOperatorSumUsesColumnKernelOverTypedStorage(t *testing.T) {
	g := NewGroup(document.Null(), []AccumSpec{{Out: "total", Op: "$sum", Expr: document.String("$v")}})
	require.NoError(t, g.Init(schemaWith("v"), Hints{}))

	b := typedBatch("v", batch.KindI64, document.Int(10), document.Int(20), document.Int(7))
	_, err := g.Push(b)
	require.NoError(t, err)

	out, _, err := g.Flush()
	require.NoError(t, err)
	totalCol, _ := out.Column("total")
	assert.Equal(t, 37.0, totalCol.Get(int(out.Selection[0])).Float())
}

func TestGroupOperatorAvgUsesColumnKernelOverTypedStorageAcrossPushes(t *testing.T) {
	g := NewGroup(document.Null(), []AccumSpec{{Out: "avg", Op: "$avg", Expr: document.String("$v")}})
	require.NoError(t, g.Init(schemaWith("v"), Hints{}))

	b1 := typedBatch("v", batch.KindF64, document.Float(2), document.Float(4))
	_, err := g.Push(b1)
	require.NoError(t, err)
	b2 := typedBatch("v", batch.KindF64, document.Float(6))
	_, err = g.Push(b2)
	require.NoError(t, err)

	out, _, err := g.Flush()
	require.NoError(t, err)
	avgCol, _ := out.Column("avg")
	assert.InDelta(t, 4.0, avgCol.Get(int(out.Selection[0])).Float(), 0.001)
}

func TestGroupOperatorCapacityExceededRejectsBeyondMaxGroups(t *testing.T) {
	g := NewGroup(document.String("$k"), nil)
	require.NoError(t, g.Init(schemaWith("k"), Hints{MemoryBudget: 64})) // maxGroups = 1
	b1 := buildBatchDocs([]string{"k"}, map[string]document.Value{"k": document.String("a")})
	_, err := g.Push(b1)
	require.NoError(t, err)

	b2 := buildBatchDocs([]string{"k"}, map[string]document.Value{"k": document.String("b")})
	_, err = g.Push(b2)
	assert.Error(t, err)
}
