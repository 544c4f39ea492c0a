// Package expr evaluates MongoDB-shaped aggregation expressions
// directly over document.Value trees (an expression like {"$sum":
// "$b"} is itself a Value, mirroring the wire representation rather
// than a separate AST). This is the reference evaluator the fallback
// interpreter (C9) uses for full fidelity, and the vectorized
// $project/$match paths fall back to it for anything outside their
// supported subset (spec.md §4.4.2, §4.9).
package expr

import (
	"strconv"
	"strings"
	"time"

	"mddb-ivm/document"
)

// Env is the evaluation environment: the current document, the
// pipeline root ($$ROOT) and any $let-bound variables.
type Env struct {
	Doc  *document.Document
	Root *document.Document
	Vars map[string]document.Value
}

func childEnv(e Env, vars map[string]document.Value) Env {
	merged := make(map[string]document.Value, len(e.Vars)+len(vars))
	for k, v := range e.Vars {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	return Env{Doc: e.Doc, Root: e.Root, Vars: merged}
}

// Eval evaluates an expression tree against env, implementing the
// full grammar named in spec.md §4.9: field refs, literals, $$ROOT,
// $let/$map/$filter/$reduce, arithmetic, string and date utilities.
func Eval(e document.Value, env Env) document.Value {
	switch e.Kind() {
	case document.KindString:
		s := e.Str()
		if strings.HasPrefix(s, "$$") {
			return evalSystemVar(s, env)
		}
		if strings.HasPrefix(s, "$") {
			v, _ := resolveFieldPath(env, s[1:])
			return v
		}
		return e
	case document.KindDocument:
		doc := e.Document()
		keys := doc.Keys()
		if len(keys) == 1 && strings.HasPrefix(keys[0], "$") {
			arg, _ := doc.Get(keys[0])
			return evalOperator(keys[0], arg, env)
		}
		// A literal sub-document: evaluate each field as an expression.
		out := document.New()
		doc.Range(func(k string, v document.Value) bool {
			out.Set(k, Eval(v, env))
			return true
		})
		return document.Doc(out)
	case document.KindArray:
		elems := e.Elements()
		out := make([]document.Value, len(elems))
		for i, el := range elems {
			out[i] = Eval(el, env)
		}
		return document.Array(out...)
	default:
		return e
	}
}

func evalSystemVar(name string, env Env) document.Value {
	switch name {
	case "$$ROOT":
		if env.Root == nil {
			return document.Null()
		}
		return document.Doc(env.Root)
	case "$$CURRENT":
		if env.Doc == nil {
			return document.Null()
		}
		return document.Doc(env.Doc)
	default:
		v, ok := env.Vars[strings.TrimPrefix(name, "$$")]
		if !ok {
			return document.Null()
		}
		return v
	}
}

func resolveFieldPath(env Env, path string) (document.Value, bool) {
	if idx := strings.Index(path, "."); idx >= 0 {
		head, rest := path[:idx], path[idx+1:]
		if v, ok := env.Vars[head]; ok {
			return resolveIntoValue(v, rest)
		}
	} else if v, ok := env.Vars[path]; ok {
		return v, true
	}
	if env.Doc == nil {
		return document.Null(), false
	}
	return env.Doc.GetPath(path)
}

func resolveIntoValue(v document.Value, path string) (document.Value, bool) {
	if v.Kind() != document.KindDocument {
		return document.Null(), false
	}
	return v.Document().GetPath(path)
}

func evalOperator(op string, arg document.Value, env Env) document.Value {
	switch op {
	case "$add", "$sum":
		return numericFold(arg, env, 0, func(a, b float64) float64 { return a + b })
	case "$subtract":
		return binaryArith(arg, env, func(a, b float64) float64 { return a - b })
	case "$multiply":
		return numericFold(arg, env, 1, func(a, b float64) float64 { return a * b })
	case "$divide":
		return binaryArith(arg, env, func(a, b float64) float64 {
			if b == 0 {
				return 0
			}
			return a / b
		})
	case "$concat":
		var sb strings.Builder
		for _, a := range arg.Elements() {
			sb.WriteString(Eval(a, env).Str())
		}
		return document.String(sb.String())
	case "$toString":
		return document.String(stringify(Eval(arg, env)))
	case "$toInt":
		v := Eval(arg, env)
		if f, ok := v.AsFloat64(); ok {
			return document.Int(int64(f))
		}
		return document.Null()
	case "$toDouble":
		v := Eval(arg, env)
		if f, ok := v.AsFloat64(); ok {
			return document.Float(f)
		}
		return document.Null()
	case "$literal":
		return arg
	case "$let":
		return evalLet(arg, env)
	case "$map":
		return evalMap(arg, env)
	case "$filter":
		return evalFilter(arg, env)
	case "$reduce":
		return evalReduce(arg, env)
	case "$cond":
		return evalCond(arg, env)
	case "$ifNull":
		for _, a := range arg.Elements() {
			v := Eval(a, env)
			if !v.IsNull() {
				return v
			}
		}
		return document.Null()
	case "$eq", "$ne", "$lt", "$lte", "$gt", "$gte":
		return evalComparisonExpr(op, arg, env)
	case "$and":
		for _, a := range arg.Elements() {
			if !truthy(Eval(a, env)) {
				return document.Bool(false)
			}
		}
		return document.Bool(true)
	case "$or":
		for _, a := range arg.Elements() {
			if truthy(Eval(a, env)) {
				return document.Bool(true)
			}
		}
		return document.Bool(false)
	case "$not":
		return document.Bool(!truthy(Eval(arg, env)))
	case "$dateToString":
		return evalDateToString(arg, env)
	case "$year", "$month", "$dayOfMonth", "$hour", "$minute", "$second":
		return evalDatePart(op, arg, env)
	default:
		return document.Null()
	}
}

func truthy(v document.Value) bool {
	switch v.Kind() {
	case document.KindNull:
		return false
	case document.KindBool:
		return v.Bool()
	default:
		return true
	}
}

func stringify(v document.Value) string {
	switch v.Kind() {
	case document.KindString:
		return v.Str()
	case document.KindNull:
		return ""
	case document.KindInt:
		return strconv.FormatInt(v.Int(), 10)
	case document.KindFloat:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case document.KindBool:
		return strconv.FormatBool(v.Bool())
	case document.KindTimestamp:
		return v.Time().Format(time.RFC3339)
	default:
		return v.String()
	}
}

func numericFold(arg document.Value, env Env, identity float64, op func(a, b float64) float64) document.Value {
	acc := identity
	for _, a := range arg.Elements() {
		v := Eval(a, env)
		f, _ := v.AsFloat64()
		acc = op(acc, f)
	}
	return document.Float(acc)
}

func binaryArith(arg document.Value, env Env, op func(a, b float64) float64) document.Value {
	elems := arg.Elements()
	if len(elems) != 2 {
		return document.Null()
	}
	a, _ := Eval(elems[0], env).AsFloat64()
	b, _ := Eval(elems[1], env).AsFloat64()
	return document.Float(op(a, b))
}

func evalComparisonExpr(op string, arg document.Value, env Env) document.Value {
	elems := arg.Elements()
	if len(elems) != 2 {
		return document.Bool(false)
	}
	a := Eval(elems[0], env)
	b := Eval(elems[1], env)
	c := document.Compare(a, b)
	switch op {
	case "$eq":
		return document.Bool(document.Equal(a, b))
	case "$ne":
		return document.Bool(!document.Equal(a, b))
	case "$lt":
		return document.Bool(c < 0)
	case "$lte":
		return document.Bool(c <= 0)
	case "$gt":
		return document.Bool(c > 0)
	case "$gte":
		return document.Bool(c >= 0)
	default:
		return document.Bool(false)
	}
}

func evalLet(arg document.Value, env Env) document.Value {
	doc := arg.Document()
	if doc == nil {
		return document.Null()
	}
	varsSpec, _ := doc.Get("vars")
	in, _ := doc.Get("in")
	vars := make(map[string]document.Value)
	if varsSpec.Kind() == document.KindDocument {
		varsSpec.Document().Range(func(k string, v document.Value) bool {
			vars[k] = Eval(v, env)
			return true
		})
	}
	return Eval(in, childEnv(env, vars))
}

func evalMap(arg document.Value, env Env) document.Value {
	doc := arg.Document()
	if doc == nil {
		return document.Null()
	}
	input, _ := doc.Get("input")
	asV, _ := doc.Get("as")
	inExpr, _ := doc.Get("in")
	as := "this"
	if asV.Kind() == document.KindString {
		as = asV.Str()
	}
	arr := Eval(input, env)
	elems := arr.Elements()
	out := make([]document.Value, len(elems))
	for i, el := range elems {
		out[i] = Eval(inExpr, childEnv(env, map[string]document.Value{as: el}))
	}
	return document.Array(out...)
}

func evalFilter(arg document.Value, env Env) document.Value {
	doc := arg.Document()
	if doc == nil {
		return document.Null()
	}
	input, _ := doc.Get("input")
	asV, _ := doc.Get("as")
	cond, _ := doc.Get("cond")
	as := "this"
	if asV.Kind() == document.KindString {
		as = asV.Str()
	}
	arr := Eval(input, env)
	var out []document.Value
	for _, el := range arr.Elements() {
		sub := childEnv(env, map[string]document.Value{as: el})
		if truthy(Eval(cond, sub)) {
			out = append(out, el)
		}
	}
	return document.Array(out...)
}

func evalReduce(arg document.Value, env Env) document.Value {
	doc := arg.Document()
	if doc == nil {
		return document.Null()
	}
	input, _ := doc.Get("input")
	initial, _ := doc.Get("initialValue")
	in, _ := doc.Get("in")
	acc := Eval(initial, env)
	arr := Eval(input, env)
	for _, el := range arr.Elements() {
		sub := childEnv(env, map[string]document.Value{"value": acc, "this": el})
		acc = Eval(in, sub)
	}
	return acc
}

func evalCond(arg document.Value, env Env) document.Value {
	var ifE, thenE, elseE document.Value
	if arg.Kind() == document.KindArray {
		elems := arg.Elements()
		if len(elems) != 3 {
			return document.Null()
		}
		ifE, thenE, elseE = elems[0], elems[1], elems[2]
	} else if doc := arg.Document(); doc != nil {
		ifE, _ = doc.Get("if")
		thenE, _ = doc.Get("then")
		elseE, _ = doc.Get("else")
	} else {
		return document.Null()
	}
	if truthy(Eval(ifE, env)) {
		return Eval(thenE, env)
	}
	return Eval(elseE, env)
}

func evalDateToString(arg document.Value, env Env) document.Value {
	doc := arg.Document()
	if doc == nil {
		return document.Null()
	}
	dateExpr, _ := doc.Get("date")
	formatV, _ := doc.Get("format")
	date := Eval(dateExpr, env)
	if date.Kind() != document.KindTimestamp {
		return document.Null()
	}
	format := "2006-01-02T15:04:05Z07:00"
	if formatV.Kind() == document.KindString {
		format = mongoFormatToGo(formatV.Str())
	}
	return document.String(date.Time().Format(format))
}

func mongoFormatToGo(f string) string {
	replacer := strings.NewReplacer(
		"%Y", "2006", "%m", "01", "%d", "02",
		"%H", "15", "%M", "04", "%S", "05",
	)
	return replacer.Replace(f)
}

func evalDatePart(op string, arg document.Value, env Env) document.Value {
	date := Eval(arg, env)
	if date.Kind() != document.KindTimestamp {
		return document.Null()
	}
	t := date.Time()
	switch op {
	case "$year":
		return document.Int(int64(t.Year()))
	case "$month":
		return document.Int(int64(t.Month()))
	case "$dayOfMonth":
		return document.Int(int64(t.Day()))
	case "$hour":
		return document.Int(int64(t.Hour()))
	case "$minute":
		return document.Int(int64(t.Minute()))
	case "$second":
		return document.Int(int64(t.Second()))
	default:
		return document.Null()
	}
}

// IsVectorizableProject reports whether a $project computed
// expression falls inside the columnar path's supported subset:
// field refs, numeric +−×÷, $concat/$toString, unary, literals
// (spec.md §4.4.2). Anything else reason-codes the stage to fallback.
func IsVectorizableProject(e document.Value) bool {
	switch e.Kind() {
	case document.KindString, document.KindInt, document.KindFloat, document.KindBool, document.KindNull:
		return true
	case document.KindDocument:
		doc := e.Document()
		keys := doc.Keys()
		if len(keys) != 1 {
			return false
		}
		switch keys[0] {
		case "$add", "$subtract", "$multiply", "$divide", "$concat", "$toString":
			arg, _ := doc.Get(keys[0])
			if arg.Kind() == document.KindArray {
				for _, a := range arg.Elements() {
					if !IsVectorizableProject(a) {
						return false
					}
				}
				return true
			}
			return IsVectorizableProject(arg)
		default:
			return false
		}
	default:
		return false
	}
}

// FieldPath returns the bare field name for a "$name" reference, or
// ok=false if e is not a simple field reference.
func FieldPath(e document.Value) (string, bool) {
	if e.Kind() != document.KindString {
		return "", false
	}
	s := e.Str()
	if strings.HasPrefix(s, "$$") || !strings.HasPrefix(s, "$") {
		return "", false
	}
	return s[1:], true
}
