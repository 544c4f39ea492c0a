package compiler

import (
	"mddb-ivm/document"
	"mddb-ivm/internal/expr"
	"mddb-ivm/internal/operator"
	"mddb-ivm/internal/rowid"
	"mddb-ivm/mddberr"
)

// maxColumnarPipelineLength is the hot-path length eligibility rule
// (spec.md §4.5): a longer pipeline routes entirely to the fallback
// interpreter rather than partially lowering, since the per-stage
// materialization overhead of a long fallback tail would erase the
// columnar prefix's benefit.
const maxColumnarPipelineLength = 6

// Rejection records why one stage could not be lowered to the
// columnar path (spec.md §4.5); the engine's Stats() surfaces these
// grouped by reason.
type Rejection struct {
	StageIndex int
	Reason     mddberr.RejectionReason
}

// ExecutionPlan is the router's output: a leading run of vectorized
// operators plus a fallback tail (possibly the whole pipeline) that
// runs through internal/fallback (spec.md §4.5).
type ExecutionPlan struct {
	Columnar    []operator.Operator
	Incremental []operator.Incremental // parallel to Columnar; nil where a stage can't be IVM-driven
	Fallback    []Stage
	OutSchema   operator.Schema
	Rejections  []Rejection

	// PreservesRowShape reports whether every output row still carries
	// exactly the original input document's fields plus whatever the
	// columnar stages layered on top via onTransform: false once a
	// $group (synthetic rows), $unwind (virtual rows, and the
	// preserveNullAndEmptyArrays path overwrites the field with null
	// without recording it through onTransform) or a field-dropping
	// $project appears, since the
	// original document can then no longer serve as a late-materialization
	// base (spec.md §4.6).
	PreservesRowShape bool
}

// CanIncrement reports whether every columnar stage supports delta
// propagation and there is no fallback tail: a fallback stage has no
// Incremental counterpart (spec.md §4.7).
func (p *ExecutionPlan) CanIncrement() bool {
	if len(p.Fallback) > 0 {
		return false
	}
	for _, op := range p.Incremental {
		if op == nil {
			return false
		}
	}
	return true
}

// Options supplies the context the router needs to build real
// operator instances: the RowId space $unwind mints virtual ids from,
// and the $lookup foreign-collection resolver.
type Options struct {
	Space             *rowid.Space
	ResolveCollection func(name string) []*document.Document
	// OnTransform, when set, receives every computed-field value a
	// columnar stage produces, for late materialization (spec.md §4.6).
	OnTransform operator.OnTransformFunc
}

// Compile parses, validates and routes a raw pipeline value.
func Compile(raw document.Value, schema operator.Schema, opts Options) (*ExecutionPlan, error) {
	stages, err := ParsePipeline(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(stages); err != nil {
		return nil, err
	}
	return CompileStages(stages, schema, opts)
}

// CompileStages routes an already-parsed stage list.
func CompileStages(stages []Stage, schema operator.Schema, opts Options) (*ExecutionPlan, error) {
	plan := &ExecutionPlan{OutSchema: schema, PreservesRowShape: true}

	if len(stages) > maxColumnarPipelineLength {
		plan.Rejections = append(plan.Rejections, Rejection{StageIndex: 0, Reason: mddberr.ReasonPipelineTooLong})
		plan.Fallback = stages
		return plan, nil
	}

	seenGroup := false
	cur := schema
	splitAt := len(stages)
	for i, stage := range stages {
		ok, reason := stageEligible(stage, cur, seenGroup)
		if !ok {
			plan.Rejections = append(plan.Rejections, Rejection{StageIndex: stage.Index, Reason: reason})
			splitAt = i
			break
		}
		op, next, err := buildOperator(stage, cur, opts)
		if err != nil {
			return nil, err
		}
		if err := op.Init(cur, operator.Hints{OnTransform: opts.OnTransform}); err != nil {
			plan.Rejections = append(plan.Rejections, Rejection{StageIndex: stage.Index, Reason: reasonForInitErr(err)})
			splitAt = i
			break
		}
		plan.Columnar = append(plan.Columnar, op)
		if inc, ok := op.(operator.Incremental); ok {
			plan.Incremental = append(plan.Incremental, inc)
		} else {
			plan.Incremental = append(plan.Incremental, nil)
		}
		switch stage.Op {
		case "$group", "$unwind":
			seenGroup = seenGroup || stage.Op == "$group"
			plan.PreservesRowShape = false
		case "$project":
			if spec, err := ParseProject(stage.Arg, stage.Index); err == nil && projectDropsFields(spec) {
				plan.PreservesRowShape = false
			}
		}
		cur = next
	}
	plan.Fallback = stages[splitAt:]
	plan.OutSchema = cur
	return plan, nil
}

func reasonForInitErr(err error) mddberr.RejectionReason {
	if e, ok := err.(*mddberr.Error); ok && e.Code == mddberr.UnsupportedPredicate {
		return mddberr.ReasonUnsupportedPredicate
	}
	return mddberr.ReasonUnsupportedExpr
}

// stageEligible implements the per-stage hot-path rules of spec.md
// §4.5. Stages after the first rejection are never consulted; they
// fall into the fallback tail by construction.
func stageEligible(stage Stage, schema operator.Schema, seenGroup bool) (bool, mddberr.RejectionReason) {
	switch stage.Op {
	case "$match":
		if _, ok := compileMatchCheck(stage.Arg, schema); !ok {
			return false, mddberr.ReasonUnsupportedPredicate
		}
		return true, ""
	case "$project":
		spec, err := ParseProject(stage.Arg, stage.Index)
		if err != nil {
			return false, mddberr.ReasonUnsupportedExpr
		}
		if seenGroup {
			// Projecting a $group's already-boxed output accepts any
			// expression; the columnar kernel just treats it as KindAny.
			return true, ""
		}
		for _, f := range spec.Fields {
			if f.Compute && !expr.IsVectorizableProject(f.Expr) {
				return false, mddberr.ReasonUnsupportedExpr
			}
		}
		return true, ""
	case "$group":
		if seenGroup {
			return false, mddberr.ReasonMultiGroup
		}
		spec, err := ParseGroup(stage.Arg, stage.Index)
		if err != nil {
			return false, mddberr.ReasonUnsupportedAccum
		}
		for _, a := range spec.Accums {
			if !operator.VectorizableAccum(a.Op) {
				return false, mddberr.ReasonUnsupportedAccum
			}
		}
		return true, ""
	case "$sort":
		keys, err := ParseSort(stage.Arg, stage.Index)
		if err != nil || len(keys) > 1 {
			return false, mddberr.ReasonComplexSort
		}
		return true, ""
	case "$limit", "$skip":
		return true, ""
	case "$unwind":
		spec, err := ParseUnwind(stage.Arg, stage.Index)
		if err != nil {
			return false, mddberr.ReasonUnsupportedExpr
		}
		if spec.IncludeArrayIndex != "" {
			return false, mddberr.ReasonUnwindIndexCapture
		}
		return true, ""
	case "$lookup":
		spec, err := ParseLookup(stage.Arg, stage.Index)
		if err != nil {
			return false, mddberr.ReasonUnsupportedExpr
		}
		if spec.PipelineForm {
			return false, mddberr.ReasonLookupPipelineForm
		}
		return true, ""
	default:
		return false, mddberr.ReasonUnknownStage
	}
}

// compileMatchCheck probes whether a predicate lowers to the
// columnar path by constructing a throwaway strict-mode MatchOperator
// (spec.md §4.4.1); this reuses the same gate Init enforces at real
// construction time instead of duplicating the predicate walk.
func compileMatchCheck(pred document.Value, schema operator.Schema) (*operator.MatchOperator, bool) {
	m := operator.NewMatch(pred)
	if err := m.Init(schema, operator.Hints{Strict: true}); err != nil {
		return nil, false
	}
	return m, true
}

// buildOperator constructs the real operator instance for stage and
// computes the output schema it produces, so the next stage's
// eligibility check sees accurate field information.
func buildOperator(stage Stage, schema operator.Schema, opts Options) (operator.Operator, operator.Schema, error) {
	switch stage.Op {
	case "$match":
		return operator.NewMatch(stage.Arg), schema, nil
	case "$project":
		spec, err := ParseProject(stage.Arg, stage.Index)
		if err != nil {
			return nil, schema, err
		}
		return operator.NewProject(spec.Fields, spec.ExcludeID), projectSchema(schema, spec), nil
	case "$group":
		spec, err := ParseGroup(stage.Arg, stage.Index)
		if err != nil {
			return nil, schema, err
		}
		accums := make([]operator.AccumSpec, len(spec.Accums))
		for i, a := range spec.Accums {
			accums[i] = operator.AccumSpec{Out: a.Out, Op: a.Op, Expr: a.Expr}
		}
		return operator.NewGroup(spec.IDExpr, accums), groupSchema(spec), nil
	case "$sort":
		keys, err := ParseSort(stage.Arg, stage.Index)
		if err != nil {
			return nil, schema, err
		}
		return operator.NewSort(keys, 0), schema, nil
	case "$limit":
		n, err := ParseLimit(stage.Arg, stage.Index)
		if err != nil {
			return nil, schema, err
		}
		return operator.NewLimit(n), schema, nil
	case "$skip":
		n, err := ParseSkip(stage.Arg, stage.Index)
		if err != nil {
			return nil, schema, err
		}
		return operator.NewSkip(n), schema, nil
	case "$unwind":
		spec, err := ParseUnwind(stage.Arg, stage.Index)
		if err != nil {
			return nil, schema, err
		}
		return operator.NewUnwind(spec.Field, spec.PreserveNullAndEmpty, opts.Space), schema, nil
	case "$lookup":
		spec, err := ParseLookup(stage.Arg, stage.Index)
		if err != nil {
			return nil, schema, err
		}
		var foreign []*document.Document
		if opts.ResolveCollection != nil {
			foreign = opts.ResolveCollection(spec.From)
		}
		out := operator.NewLookup(spec.LocalField, spec.ForeignField, spec.As, foreign)
		next := operator.Schema{Fields: append(append([]operator.FieldInfo(nil), schema.Fields...), operator.FieldInfo{Name: spec.As})}
		return out, next, nil
	default:
		return nil, schema, mddberr.AtStage(mddberr.UnknownStage, stage.Index, "unknown stage %q", stage.Op)
	}
}

func projectSchema(in operator.Schema, spec ProjectSpec) operator.Schema {
	includeID := !spec.ExcludeID
	anyExplicit := false
	for _, f := range spec.Fields {
		if f.Include || f.Compute {
			anyExplicit = true
		}
	}
	if !anyExplicit {
		excluded := make(map[string]bool, len(spec.Fields))
		for _, f := range spec.Fields {
			if !f.Include {
				excluded[f.Name] = true
			}
		}
		var out []operator.FieldInfo
		for _, f := range in.Fields {
			if f.Name == "_id" || excluded[f.Name] {
				continue
			}
			out = append(out, f)
		}
		if includeID {
			out = append([]operator.FieldInfo{{Name: "_id"}}, out...)
		}
		return operator.Schema{Fields: out}
	}
	var out []operator.FieldInfo
	if includeID {
		out = append(out, operator.FieldInfo{Name: "_id"})
	}
	for _, f := range spec.Fields {
		if f.Name == "_id" {
			continue
		}
		out = append(out, operator.FieldInfo{Name: f.Name})
	}
	return operator.Schema{Fields: out}
}

// projectDropsFields reports whether spec can leave fields out of its
// output that were present on the input document. An inclusion or
// compute field narrows the output to only the named fields (plus
// _id), and an exclusion (including `_id: 0`) removes the excluded
// fields; only the identity projection (no fields named) reports
// false.
func projectDropsFields(spec ProjectSpec) bool {
	if spec.ExcludeID {
		return true
	}
	anyExplicit := false
	excluded := 0
	for _, f := range spec.Fields {
		if f.Include || f.Compute {
			anyExplicit = true
		} else {
			excluded++
		}
	}
	if anyExplicit {
		return true
	}
	return excluded > 0
}

func groupSchema(spec GroupSpec) operator.Schema {
	out := []operator.FieldInfo{{Name: "_id"}}
	for _, a := range spec.Accums {
		out = append(out, operator.FieldInfo{Name: a.Out})
	}
	return operator.Schema{Fields: out}
}
