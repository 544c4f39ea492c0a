// Package compiler implements the pipeline compiler and router
// (spec.md §4.5, component C5): parsing a raw pipeline into stage
// specs, deciding among the micro-path, the columnar hot-path and the
// fallback interpreter, and producing an ExecutionPlan.
package compiler

import (
	"mddb-ivm/document"
	"mddb-ivm/mddberr"
)

// Stage is one parsed pipeline entry: the operator name and its
// argument, keeping the spec's wire shape ({"$op": arg}) intact so
// both the columnar compiler and the fallback interpreter can work
// from the same representation.
type Stage struct {
	Op    string
	Arg   document.Value
	Index int
}

// ParsePipeline decodes a pipeline (an array of single-key stage
// documents) into an ordered list of Stages.
func ParsePipeline(pipeline document.Value) ([]Stage, error) {
	if pipeline.Kind() != document.KindArray {
		return nil, mddberr.New(mddberr.InvalidPipeline, "pipeline must be an array of stages")
	}
	stages := make([]Stage, 0, len(pipeline.Elements()))
	for i, el := range pipeline.Elements() {
		doc := el.Document()
		if doc == nil || len(doc.Keys()) != 1 {
			return nil, mddberr.AtStage(mddberr.InvalidPipeline, i, "stage must be a single-key document")
		}
		op := doc.Keys()[0]
		arg, _ := doc.Get(op)
		stages = append(stages, Stage{Op: op, Arg: arg, Index: i})
	}
	return stages, nil
}

// KnownStageOps lists every stage this engine recognizes, vectorized
// or fallback-only (spec.md §2). An op outside this set fails with
// UnknownStage at parse/validation time rather than at the end of a
// partially-run pipeline.
var KnownStageOps = map[string]bool{
	"$match": true, "$project": true, "$group": true, "$sort": true,
	"$limit": true, "$skip": true, "$unwind": true, "$lookup": true,
}

// Validate fails with UnknownStage on the first unrecognized
// operator.
func Validate(stages []Stage) error {
	for _, s := range stages {
		if !KnownStageOps[s.Op] {
			return mddberr.AtStage(mddberr.UnknownStage, s.Index, "unknown stage %q", s.Op)
		}
	}
	return nil
}
