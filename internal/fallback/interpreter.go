// Package fallback implements the row-at-a-time interpreter (spec.md
// §4.9, component C9): the full aggregation grammar, including
// accumulators ($push, $addToSet) and $lookup forms the columnar
// hot-path declines to vectorize. The router falls every rejected
// stage back to this package rather than failing the query.
package fallback

import (
	"sort"

	"mddb-ivm/document"
	"mddb-ivm/internal/compiler"
	"mddb-ivm/internal/container"
	"mddb-ivm/internal/expr"
)

// CollectionSource resolves a $lookup "from" name to its documents.
// The embedding caller supplies this; the engine itself has no notion
// of named collections beyond the one being queried (spec.md §4.4.7).
type CollectionSource interface {
	Collection(name string) []*document.Document
}

// Interpreter runs a parsed pipeline over a slice of documents one
// row (and, for blocking stages, one full buffer) at a time.
type Interpreter struct {
	stages []compiler.Stage
	source CollectionSource
}

// New returns an interpreter for stages, resolving $lookup sources
// through source (may be nil if the pipeline has no $lookup stage).
func New(stages []compiler.Stage, source CollectionSource) *Interpreter {
	return &Interpreter{stages: stages, source: source}
}

// Run executes the full pipeline against docs. vars carries any
// $$-bound variables inherited from an enclosing $lookup let-binding
// (nil at the top level).
func (it *Interpreter) Run(docs []*document.Document, vars map[string]document.Value) ([]*document.Document, error) {
	cur := docs
	for _, stage := range it.stages {
		next, err := it.runStage(stage, cur, vars)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (it *Interpreter) runStage(stage compiler.Stage, docs []*document.Document, vars map[string]document.Value) ([]*document.Document, error) {
	switch stage.Op {
	case "$match":
		return runMatch(stage, docs, vars), nil
	case "$project":
		return runProject(stage, docs, vars)
	case "$group":
		return runGroup(stage, docs, vars)
	case "$sort":
		return runSort(stage, docs)
	case "$limit":
		return runLimit(stage, docs)
	case "$skip":
		return runSkip(stage, docs)
	case "$unwind":
		return runUnwind(stage, docs)
	case "$lookup":
		return it.runLookup(stage, docs, vars)
	default:
		return docs, nil
	}
}

func runMatch(stage compiler.Stage, docs []*document.Document, vars map[string]document.Value) []*document.Document {
	var out []*document.Document
	for _, d := range docs {
		if expr.EvalPredicate(stage.Arg, expr.Env{Doc: d, Root: d, Vars: vars}) {
			out = append(out, d)
		}
	}
	return out
}

func runProject(stage compiler.Stage, docs []*document.Document, vars map[string]document.Value) ([]*document.Document, error) {
	spec, err := compiler.ParseProject(stage.Arg, stage.Index)
	if err != nil {
		return nil, err
	}
	includeID := !spec.ExcludeID
	anyExplicitInclude := false
	for _, f := range spec.Fields {
		if f.Name == "_id" {
			includeID = f.Include
		}
		if f.Include || f.Compute {
			anyExplicitInclude = true
		}
	}
	excluded := make(map[string]bool, len(spec.Fields))
	for _, f := range spec.Fields {
		if !f.Include && !f.Compute {
			excluded[f.Name] = true
		}
	}

	out := make([]*document.Document, len(docs))
	for i, in := range docs {
		result := document.New()
		if includeID {
			if v, ok := in.Get("_id"); ok {
				result.Set("_id", v)
			}
		}
		for _, f := range spec.Fields {
			if f.Name == "_id" {
				continue
			}
			if f.Compute {
				result.Set(f.Name, expr.Eval(f.Expr, expr.Env{Doc: in, Root: in, Vars: vars}))
				continue
			}
			if !f.Include {
				continue
			}
			if v, ok := in.GetPath(f.Name); ok {
				result.Set(f.Name, v)
			}
		}
		if !anyExplicitInclude {
			in.Range(func(k string, v document.Value) bool {
				if k == "_id" || excluded[k] {
					return true
				}
				result.Set(k, v)
				return true
			})
		}
		out[i] = result
	}
	return out, nil
}

type groupAccState struct {
	id      document.Value
	sums    map[string]float64
	counts  map[string]int
	mins    map[string]document.Value
	hasMin  map[string]bool
	maxs    map[string]document.Value
	hasMax  map[string]bool
	firsts  map[string]document.Value
	lasts   map[string]document.Value
	hasAny  map[string]bool
	pushed  map[string][]document.Value
	added   map[string][]document.Value
}

func newGroupAccState(id document.Value) *groupAccState {
	return &groupAccState{
		id:     id,
		sums:   make(map[string]float64),
		counts: make(map[string]int),
		mins:   make(map[string]document.Value),
		hasMin: make(map[string]bool),
		maxs:   make(map[string]document.Value),
		hasMax: make(map[string]bool),
		firsts: make(map[string]document.Value),
		lasts:  make(map[string]document.Value),
		hasAny: make(map[string]bool),
		pushed: make(map[string][]document.Value),
		added:  make(map[string][]document.Value),
	}
}

// runGroup implements $group with the full accumulator grammar
// (spec.md §4.4.3, §4.9): $push and $addToSet are only available
// here, never in the columnar hot-path (operator.VectorizableAccum
// rejects them).
func runGroup(stage compiler.Stage, docs []*document.Document, vars map[string]document.Value) ([]*document.Document, error) {
	spec, err := compiler.ParseGroup(stage.Arg, stage.Index)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]*groupAccState)
	var order []string
	counts := make(map[string]int)

	for _, d := range docs {
		env := expr.Env{Doc: d, Root: d, Vars: vars}
		idVal := expr.Eval(spec.IDExpr, env)
		key := container.EncodeKey(idVal)
		st, ok := groups[key]
		if !ok {
			st = newGroupAccState(idVal)
			groups[key] = st
			order = append(order, key)
		}
		counts[key]++
		for _, a := range spec.Accums {
			var v document.Value
			if a.Op != "$count" {
				v = expr.Eval(a.Expr, env)
			}
			applyFallbackAccum(st, a, v)
		}
	}

	out := make([]*document.Document, 0, len(order))
	for _, key := range order {
		st := groups[key]
		result := document.New()
		result.Set("_id", st.id)
		for _, a := range spec.Accums {
			result.Set(a.Out, finalizeFallbackAccum(st, a, counts[key]))
		}
		out = append(out, result)
	}
	return out, nil
}

func applyFallbackAccum(st *groupAccState, a compiler.GroupAccum, v document.Value) {
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
		if v.IsNaN() {
			return
		}
		if !st.hasMin[a.Out] || document.Compare(v, st.mins[a.Out]) < 0 {
			st.mins[a.Out] = v
			st.hasMin[a.Out] = true
		}
	case "$max":
		if v.IsNaN() {
			return
		}
		if !st.hasMax[a.Out] || document.Compare(v, st.maxs[a.Out]) > 0 {
			st.maxs[a.Out] = v
			st.hasMax[a.Out] = true
		}
	case "$first":
		if !st.hasAny[a.Out+"\x00first"] {
			st.firsts[a.Out] = v
			st.hasAny[a.Out+"\x00first"] = true
		}
	case "$last":
		st.lasts[a.Out] = v
	case "$push":
		st.pushed[a.Out] = append(st.pushed[a.Out], v)
	case "$addToSet":
		for _, existing := range st.added[a.Out] {
			if document.Equal(existing, v) {
				return
			}
		}
		st.added[a.Out] = append(st.added[a.Out], v)
	case "$count":
		// tallied via the caller's per-key row count.
	}
}

func finalizeFallbackAccum(st *groupAccState, a compiler.GroupAccum, rowCount int) document.Value {
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
		if st.hasMin[a.Out] {
			return st.mins[a.Out]
		}
		return document.Null()
	case "$max":
		if st.hasMax[a.Out] {
			return st.maxs[a.Out]
		}
		return document.Null()
	case "$first":
		return st.firsts[a.Out]
	case "$last":
		return st.lasts[a.Out]
	case "$push":
		return document.Array(st.pushed[a.Out]...)
	case "$addToSet":
		return document.Array(st.added[a.Out]...)
	case "$count":
		return document.Int(int64(rowCount))
	default:
		return document.Null()
	}
}

func runSort(stage compiler.Stage, docs []*document.Document) ([]*document.Document, error) {
	keys, err := compiler.ParseSort(stage.Arg, stage.Index)
	if err != nil {
		return nil, err
	}
	out := append([]*document.Document(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			av, _ := out[i].GetPath(k.Field)
			bv, _ := out[j].GetPath(k.Field)
			c := document.Compare(av, bv)
			if k.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return out, nil
}

func runLimit(stage compiler.Stage, docs []*document.Document) ([]*document.Document, error) {
	n, err := compiler.ParseLimit(stage.Arg, stage.Index)
	if err != nil {
		return nil, err
	}
	if n < 0 || n >= len(docs) {
		return docs, nil
	}
	return docs[:n], nil
}

func runSkip(stage compiler.Stage, docs []*document.Document) ([]*document.Document, error) {
	n, err := compiler.ParseSkip(stage.Arg, stage.Index)
	if err != nil {
		return nil, err
	}
	if n < 0 || n >= len(docs) {
		return nil, nil
	}
	return docs[n:], nil
}

func runUnwind(stage compiler.Stage, docs []*document.Document) ([]*document.Document, error) {
	spec, err := compiler.ParseUnwind(stage.Arg, stage.Index)
	if err != nil {
		return nil, err
	}
	var out []*document.Document
	for _, d := range docs {
		val, present := d.GetPath(spec.Field)
		switch {
		case present && val.Kind() == document.KindArray && len(val.Elements()) > 0:
			for idx, el := range val.Elements() {
				sub := d.Clone()
				sub.Set(spec.Field, el)
				if spec.IncludeArrayIndex != "" {
					sub.Set(spec.IncludeArrayIndex, document.Int(int64(idx)))
				}
				out = append(out, sub)
			}
		case !present || val.IsNull() || (val.Kind() == document.KindArray && len(val.Elements()) == 0):
			if spec.PreserveNullAndEmpty {
				sub := d.Clone()
				sub.Set(spec.Field, document.Null())
				out = append(out, sub)
			}
		default:
			out = append(out, d)
		}
	}
	return out, nil
}

// runLookup handles both forms (spec.md §4.4.7): equality-form joins
// directly on localField/foreignField; pipeline-form evaluates `let`
// against each local document and runs the sub-pipeline over the
// foreign collection with those bindings in scope as $$-variables.
func (it *Interpreter) runLookup(stage compiler.Stage, docs []*document.Document, vars map[string]document.Value) ([]*document.Document, error) {
	spec, err := compiler.ParseLookup(stage.Arg, stage.Index)
	if err != nil {
		return nil, err
	}
	var foreign []*document.Document
	if it.source != nil {
		foreign = it.source.Collection(spec.From)
	}

	if !spec.PipelineForm {
		index := make(map[string][]*document.Document)
		for _, fd := range foreign {
			if v, ok := fd.Get(spec.ForeignField); ok {
				k := container.EncodeKey(v)
				index[k] = append(index[k], fd)
			}
		}
		out := make([]*document.Document, len(docs))
		for i, d := range docs {
			result := d.Clone()
			var matched []document.Value
			if v, ok := d.Get(spec.LocalField); ok {
				for _, fd := range index[container.EncodeKey(v)] {
					matched = append(matched, document.Doc(fd))
				}
			}
			result.Set(spec.As, document.Array(matched...))
			out[i] = result
		}
		return out, nil
	}

	subStages, err := compiler.ParsePipeline(spec.Pipeline)
	if err != nil {
		return nil, err
	}
	sub := New(subStages, it.source)

	letDoc := spec.Let.Document()
	out := make([]*document.Document, len(docs))
	for i, d := range docs {
		letVars := make(map[string]document.Value, len(vars))
		for k, v := range vars {
			letVars[k] = v
		}
		if letDoc != nil {
			letDoc.Range(func(name string, e document.Value) bool {
				letVars[name] = expr.Eval(e, expr.Env{Doc: d, Root: d, Vars: vars})
				return true
			})
		}
		matched, err := sub.Run(foreign, letVars)
		if err != nil {
			return nil, err
		}
		result := d.Clone()
		elems := make([]document.Value, len(matched))
		for j, m := range matched {
			elems[j] = document.Doc(m)
		}
		result.Set(spec.As, document.Array(elems...))
		out[i] = result
	}
	return out, nil
}
