package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mddb-ivm/document"
	"mddb-ivm/internal/compiler"
)

func docs(ms ...map[string]document.Value) []*document.Document {
	out := make([]*document.Document, len(ms))
	for i, m := range ms {
		d := document.New()
		for k, v := range m {
			d.Set(k, v)
		}
		out[i] = d
	}
	return out
}

func matchStage(pred document.Value) compiler.Stage { return compiler.Stage{Op: "$match", Arg: pred} }

func TestInterpreterRunMatchFiltersRows(t *testing.T) {
	pred := document.New().Set("a", document.Int(1))
	it := New([]compiler.Stage{matchStage(document.Doc(pred))}, nil)

	in := docs(map[string]document.Value{"a": document.Int(1)}, map[string]document.Value{"a": document.Int(2)})
	out, err := it.Run(in, nil)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestInterpreterRunGroupSupportsPushAccumulator(t *testing.T) {
	groupArg := document.New().
		Set("_id", document.String("$k")).
		Set("items", document.New().Set("$push", document.String("$v")))
	it := New([]compiler.Stage{{Op: "$group", Arg: document.Doc(groupArg)}}, nil)

	in := docs(
		map[string]document.Value{"k": document.String("x"), "v": document.Int(1)},
		map[string]document.Value{"k": document.String("x"), "v": document.Int(2)},
	)
	out, err := it.Run(in, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)

	items, ok := out[0].Get("items")
	require.True(t, ok)
	assert.Len(t, items.Elements(), 2)
}

func TestInterpreterRunGroupAddToSetDeduplicates(t *testing.T) {
	groupArg := document.New().
		Set("_id", document.String("$k")).
		Set("items", document.New().Set("$addToSet", document.String("$v")))
	it := New([]compiler.Stage{{Op: "$group", Arg: document.Doc(groupArg)}}, nil)

	in := docs(
		map[string]document.Value{"k": document.String("x"), "v": document.Int(1)},
		map[string]document.Value{"k": document.String("x"), "v": document.Int(1)},
	)
	out, err := it.Run(in, nil)
	require.NoError(t, err)
	items, _ := out[0].Get("items")
	assert.Len(t, items.Elements(), 1)
}

func TestInterpreterRunGroupCountAccumulator(t *testing.T) {
	groupArg := document.New().
		Set("_id", document.Int(0)).
		Set("n", document.New().Set("$count", document.New()))
	it := New([]compiler.Stage{{Op: "$group", Arg: document.Doc(groupArg)}}, nil)

	in := docs(map[string]document.Value{}, map[string]document.Value{}, map[string]document.Value{})
	out, err := it.Run(in, nil)
	require.NoError(t, err)
	n, _ := out[0].Get("n")
	assert.Equal(t, int64(3), n.Int())
}

func TestInterpreterRunSortStableOnTies(t *testing.T) {
	sortArg := document.New().Set("a", document.Int(1))
	it := New([]compiler.Stage{{Op: "$sort", Arg: document.Doc(sortArg)}}, nil)

	in := docs(
		map[string]document.Value{"a": document.Int(1), "tag": document.String("first")},
		map[string]document.Value{"a": document.Int(1), "tag": document.String("second")},
	)
	out, err := it.Run(in, nil)
	require.NoError(t, err)
	tag0, _ := out[0].Get("tag")
	assert.Equal(t, "first", tag0.Str())
}

func TestInterpreterRunLimitAndSkip(t *testing.T) {
	in := docs(
		map[string]document.Value{"a": document.Int(1)},
		map[string]document.Value{"a": document.Int(2)},
		map[string]document.Value{"a": document.Int(3)},
	)
	it := New([]compiler.Stage{
		{Op: "$skip", Arg: document.Int(1)},
		{Op: "$limit", Arg: document.Int(1)},
	}, nil)

	out, err := it.Run(in, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	a, _ := out[0].Get("a")
	assert.Equal(t, int64(2), a.Int())
}

func TestInterpreterRunUnwindExpandsArray(t *testing.T) {
	in := docs(map[string]document.Value{"items": document.Array(document.Int(1), document.Int(2))})
	it := New([]compiler.Stage{{Op: "$unwind", Arg: document.String("$items")}}, nil)

	out, err := it.Run(in, nil)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestInterpreterRunUnwindPreservesNullAndEmptyWhenRequested(t *testing.T) {
	in := docs(map[string]document.Value{"items": document.Array()})
	arg := document.New().Set("path", document.String("$items")).Set("preserveNullAndEmptyArrays", document.Bool(true))
	it := New([]compiler.Stage{{Op: "$unwind", Arg: document.Doc(arg)}}, nil)

	out, err := it.Run(in, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	v, _ := out[0].Get("items")
	assert.True(t, v.IsNull())
}

type fakeSource struct{ collections map[string][]*document.Document }

func (f fakeSource) Collection(name string) []*document.Document { return f.collections[name] }

func TestInterpreterRunLookupEqualityFormAttachesMatches(t *testing.T) {
	src := fakeSource{collections: map[string][]*document.Document{
		"others": docs(map[string]document.Value{"fk": document.Int(1), "val": document.String("joined")}),
	}}
	lookupArg := document.New().
		Set("from", document.String("others")).
		Set("localField", document.String("lk")).
		Set("foreignField", document.String("fk")).
		Set("as", document.String("joined"))
	it := New([]compiler.Stage{{Op: "$lookup", Arg: document.Doc(lookupArg)}}, src)

	in := docs(map[string]document.Value{"lk": document.Int(1)})
	out, err := it.Run(in, nil)
	require.NoError(t, err)
	joined, ok := out[0].Get("joined")
	require.True(t, ok)
	assert.Len(t, joined.Elements(), 1)
}

func TestInterpreterRunLookupPipelineFormBindsLetVariables(t *testing.T) {
	src := fakeSource{collections: map[string][]*document.Document{
		"others": docs(map[string]document.Value{"fk": document.Int(1)}),
	}}
	pipeline := document.Array(
		document.Doc(document.New().Set("$match", document.Doc(document.New().Set("$expr",
			document.Doc(document.New().Set("$eq", document.Array(document.String("$fk"), document.String("$$lk")))))))),
	)
	lookupArg := document.New().
		Set("from", document.String("others")).
		Set("let", document.Doc(document.New().Set("lk", document.String("$lk")))).
		Set("pipeline", pipeline).
		Set("as", document.String("joined"))
	it := New([]compiler.Stage{{Op: "$lookup", Arg: document.Doc(lookupArg)}}, src)

	in := docs(map[string]document.Value{"lk": document.Int(1)})
	out, err := it.Run(in, nil)
	require.NoError(t, err)
	joined, ok := out[0].Get("joined")
	require.True(t, ok)
	assert.Len(t, joined.Elements(), 1)
}
