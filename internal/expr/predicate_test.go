package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mddb-ivm/document"
)

func TestEvalPredicateImplicitEquality(t *testing.T) {
	d := doc("a", document.Int(1))
	assert.True(t, EvalPredicate(exprDoc("a", document.Int(1)), Env{Doc: d}))
	assert.False(t, EvalPredicate(exprDoc("a", document.Int(2)), Env{Doc: d}))
}

func TestEvalPredicateComparisonOps(t *testing.T) {
	d := doc("a", document.Int(5))
	assert.True(t, EvalPredicate(exprDoc("a", exprDoc("$gt", document.Int(3))), Env{Doc: d}))
	assert.True(t, EvalPredicate(exprDoc("a", exprDoc("$lte", document.Int(5))), Env{Doc: d}))
	assert.False(t, EvalPredicate(exprDoc("a", exprDoc("$lt", document.Int(5))), Env{Doc: d}))
}

func TestEvalPredicateNullSortsBelowAnyValue(t *testing.T) {
	d := doc("a", document.Null())
	assert.True(t, EvalPredicate(exprDoc("a", exprDoc("$lt", document.Int(1))), Env{Doc: d}))
	assert.False(t, EvalPredicate(exprDoc("a", exprDoc("$gt", document.Int(1))), Env{Doc: d}))
}

func TestEvalPredicateInNin(t *testing.T) {
	d := doc("a", document.Int(2))
	assert.True(t, EvalPredicate(exprDoc("a", exprDoc("$in", document.Array(document.Int(1), document.Int(2)))), Env{Doc: d}))
	assert.False(t, EvalPredicate(exprDoc("a", exprDoc("$nin", document.Array(document.Int(1), document.Int(2)))), Env{Doc: d}))
}

func TestEvalPredicateAndOr(t *testing.T) {
	d := doc("a", document.Int(1), "b", document.Int(2))
	and := document.Doc(document.New().Set("$and", document.Array(
		exprDoc("a", document.Int(1)),
		exprDoc("b", document.Int(2)),
	)))
	assert.True(t, EvalPredicate(and, Env{Doc: d}))

	or := document.Doc(document.New().Set("$or", document.Array(
		exprDoc("a", document.Int(99)),
		exprDoc("b", document.Int(2)),
	)))
	assert.True(t, EvalPredicate(or, Env{Doc: d}))

	orFail := document.Doc(document.New().Set("$or", document.Array(
		exprDoc("a", document.Int(99)),
		exprDoc("b", document.Int(98)),
	)))
	assert.False(t, EvalPredicate(orFail, Env{Doc: d}))
}

func TestEvalPredicateNot(t *testing.T) {
	d := doc("a", document.Int(1))
	not := document.Doc(document.New().Set("$not", exprDoc("a", document.Int(1))))
	assert.False(t, EvalPredicate(not, Env{Doc: d}))
}

func TestEvalPredicateExprReferencesLetVariable(t *testing.T) {
	d := doc("qty", document.Int(5))
	pred := document.Doc(document.New().Set("$expr", exprDoc("$gte", document.Array(document.String("$qty"), document.String("$$minQty")))))
	env := Env{Doc: d, Root: d, Vars: map[string]document.Value{"minQty": document.Int(3)}}
	assert.True(t, EvalPredicate(pred, env))

	env.Vars["minQty"] = document.Int(10)
	assert.False(t, EvalPredicate(pred, env))
}
