package expr

import "mddb-ivm/document"

// EvalPredicate evaluates a $match-shaped filter document against
// env.Doc. Supported operators per spec.md §4.4.1: $eq,$ne,$lt,$lte,
// $gt,$gte,$in,$nin,$and,$or. A null field value is treated as less
// than any other value for $lt/$lte and greater than none.
func EvalPredicate(pred document.Value, env Env) bool {
	doc := pred.Document()
	if doc == nil {
		return truthy(Eval(pred, env))
	}
	result := true
	doc.Range(func(key string, cond document.Value) bool {
		switch key {
		case "$and":
			for _, sub := range cond.Elements() {
				if !EvalPredicate(sub, env) {
					result = false
					return false
				}
			}
		case "$or":
			any := false
			for _, sub := range cond.Elements() {
				if EvalPredicate(sub, env) {
					any = true
					break
				}
			}
			if !any && len(cond.Elements()) > 0 {
				result = false
				return false
			}
		case "$not":
			if EvalPredicate(cond, env) {
				result = false
				return false
			}
		case "$expr":
			if !truthy(Eval(cond, env)) {
				result = false
				return false
			}
		default:
			fieldVal, _ := env.Doc.GetPath(key)
			if !evalFieldCond(fieldVal, cond) {
				result = false
				return false
			}
		}
		return true
	})
	return result
}

func evalFieldCond(fieldVal, cond document.Value) bool {
	condDoc := cond.Document()
	if condDoc == nil || len(condDoc.Keys()) == 0 || condDoc.Keys()[0][0] != '$' {
		// Bare literal: implicit $eq.
		return document.Equal(fieldVal, cond)
	}
	ok := true
	condDoc.Range(func(op string, rhs document.Value) bool {
		if !evalOp(op, fieldVal, rhs) {
			ok = false
			return false
		}
		return true
	})
	return ok
}

func evalOp(op string, field, rhs document.Value) bool {
	switch op {
	case "$eq":
		return document.Equal(field, rhs)
	case "$ne":
		return !document.Equal(field, rhs)
	case "$lt":
		return cmpWithNullRule(field, rhs) < 0
	case "$lte":
		return cmpWithNullRule(field, rhs) <= 0
	case "$gt":
		return cmpWithNullRule(field, rhs) > 0
	case "$gte":
		return cmpWithNullRule(field, rhs) >= 0
	case "$in":
		for _, v := range rhs.Elements() {
			if document.Equal(field, v) {
				return true
			}
		}
		return false
	case "$nin":
		for _, v := range rhs.Elements() {
			if document.Equal(field, v) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// cmpWithNullRule implements spec.md §4.4.1's tie-break: null is less
// than any value for <,<=, greater than none, for $gt/$gte.
func cmpWithNullRule(a, b document.Value) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return -1
	case b.IsNull():
		return 1
	default:
		return document.Compare(a, b)
	}
}
