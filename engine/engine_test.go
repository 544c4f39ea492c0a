package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mddb-ivm/document"
	"mddb-ivm/internal/operator"
)

func pipeline(stages ...*document.Document) document.Value {
	elems := make([]document.Value, len(stages))
	for i, s := range stages {
		elems[i] = document.Doc(s)
	}
	return document.Array(elems...)
}

func schemaOf(names ...string) operator.Schema {
	fields := make([]operator.FieldInfo, len(names))
	for i, n := range names {
		fields[i] = operator.FieldInfo{Name: n}
	}
	return operator.Schema{Fields: fields}
}

func manyDocs(n int, field string) []*document.Document {
	out := make([]*document.Document, n)
	for i := 0; i < n; i++ {
		out[i] = document.New().Set(field, document.Int(int64(i))).Set("_id", document.Int(int64(i)))
	}
	return out
}

func TestEngineExecuteTakesMicroPathBelowThreshold(t *testing.T) {
	p := pipeline(document.New().Set("$limit", document.Int(100)))
	e, err := Compile(p, schemaOf("a"), nil)
	require.NoError(t, err)

	docs := manyDocs(3, "a")
	out, err := e.Execute(docs)
	require.NoError(t, err)
	assert.Len(t, out, 3)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.MicroPathHits)
	assert.Equal(t, int64(0), stats.ColumnarHits)
}

func TestEngineExecuteTakesColumnarPathAboveThreshold(t *testing.T) {
	matchArg := document.New().Set("a", document.New().Set("$gte", document.Int(0)))
	p := pipeline(document.New().Set("$match", document.Doc(matchArg)))
	e, err := Compile(p, schemaOf("a"), nil)
	require.NoError(t, err)

	docs := manyDocs(100, "a")
	out, err := e.Execute(docs)
	require.NoError(t, err)
	assert.Len(t, out, 100)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.ColumnarHits)
	assert.Equal(t, int64(0), stats.MicroPathHits)
}

func TestEngineExecuteEmptyInputReturnsNilWithoutError(t *testing.T) {
	p := pipeline(document.New().Set("$limit", document.Int(1)))
	e, err := Compile(p, schemaOf("a"), nil)
	require.NoError(t, err)

	out, err := e.Execute(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEngineExecuteRunsColumnarPrefixThenFallbackTail(t *testing.T) {
	matchArg := document.New().Set("a", document.New().Set("$gte", document.Int(0)))
	groupArg := document.New().Set("_id", document.Int(0)).
		Set("items", document.New().Set("$push", document.String("$a")))
	p := pipeline(
		document.New().Set("$match", document.Doc(matchArg)),
		document.New().Set("$group", document.Doc(groupArg)),
	)
	e, err := Compile(p, schemaOf("a"), nil)
	require.NoError(t, err)

	docs := manyDocs(100, "a")
	out, err := e.Execute(docs)
	require.NoError(t, err)
	require.Len(t, out, 1)

	items, ok := out[0].Get("items")
	require.True(t, ok)
	assert.Len(t, items.Elements(), 100)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.ColumnarHits)
	assert.Equal(t, int64(1), stats.FallbackTailHits)
}

func TestEngineStoreFailsWhenPlanHasFallbackTail(t *testing.T) {
	groupArg := document.New().Set("_id", document.Int(0)).
		Set("items", document.New().Set("$push", document.String("$a")))
	p := pipeline(document.New().Set("$group", document.Doc(groupArg)))
	e, err := Compile(p, schemaOf("a"), nil)
	require.NoError(t, err)

	_, err = e.Store()
	assert.Error(t, err)
}

func TestEngineStoreSucceedsForFullyIncrementalPlan(t *testing.T) {
	p := pipeline(document.New().Set("$limit", document.Int(10)))
	e, err := Compile(p, schemaOf("a"), nil)
	require.NoError(t, err)

	store, err := e.Store()
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestEngineExecuteReusesOriginalDocumentForShapePreservingPlan(t *testing.T) {
	matchArg := document.New().Set("a", document.New().Set("$gte", document.Int(0)))
	p := pipeline(document.New().Set("$match", document.Doc(matchArg)))
	e, err := Compile(p, schemaOf("a"), nil)
	require.NoError(t, err)
	require.True(t, e.plan.PreservesRowShape, "a bare $match plan must keep the original document as the materialization base")

	docs := manyDocs(100, "a")
	out, err := e.Execute(docs)
	require.NoError(t, err)
	require.Len(t, out, 100)

	for i, d := range out {
		a, ok := d.Get("a")
		require.True(t, ok)
		assert.Equal(t, int64(i), a.Int())
	}
}

func TestEngineExecuteAppliesLateMaterializedComputedField(t *testing.T) {
	// Naming a $project compute field switches the stage into inclusion
	// mode (internal/operator.ProjectOperator), so only _id and the
	// computed field survive; the plan is correctly flagged as not
	// shape-preserving and extractDocs rebuilds each row from the
	// terminal batch's columns instead of the original document.
	matchArg := document.New().Set("a", document.New().Set("$gte", document.Int(0)))
	projectArg := document.New().
		Set("doubled", document.New().Set("$multiply", document.Array(document.String("$a"), document.Int(2))))
	p := pipeline(
		document.New().Set("$match", document.Doc(matchArg)),
		document.New().Set("$project", document.Doc(projectArg)),
	)
	e, err := Compile(p, schemaOf("a"), nil)
	require.NoError(t, err)
	require.False(t, e.plan.PreservesRowShape, "a compute-only $project narrows the row and must not reuse the original document")

	docs := manyDocs(100, "a")
	out, err := e.Execute(docs)
	require.NoError(t, err)
	require.Len(t, out, 100)

	for i, d := range out {
		doubled, ok := d.Get("doubled")
		require.True(t, ok)
		assert.InDelta(t, float64(i*2), doubled.Float(), 0.001)
		_, ok = d.Get("a")
		assert.False(t, ok, "a compute-only $project drops unlisted fields per MongoDB inclusion semantics")
	}
}

func TestEngineCompileResolvesLookupCollectionThroughCallback(t *testing.T) {
	called := false
	resolve := func(name string) []*document.Document {
		called = true
		return nil
	}
	lookupArg := document.New().
		Set("from", document.String("other")).
		Set("localField", document.String("a")).
		Set("foreignField", document.String("b")).
		Set("as", document.String("joined"))
	p := pipeline(document.New().Set("$lookup", document.Doc(lookupArg)))
	_, err := Compile(p, schemaOf("a"), resolve)
	require.NoError(t, err)
	assert.True(t, called, "Compile should probe the collection resolver while building the $lookup operator")
}
