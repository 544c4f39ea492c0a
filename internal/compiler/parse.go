package compiler

import (
	"mddb-ivm/document"
	"mddb-ivm/internal/operator"
	"mddb-ivm/mddberr"
)

// ProjectSpec is a parsed $project stage, shared by the columnar
// router (which only accepts fields expr.IsVectorizableProject
// approves) and the fallback interpreter (which accepts the full
// grammar).
type ProjectSpec struct {
	Fields    []operator.ProjectField
	ExcludeID bool
}

// ParseProject decodes a $project argument document into field rules
// (spec.md §4.4.2): 1/true means include, 0/false means exclude,
// anything else is a computed expression.
func ParseProject(arg document.Value, stageIdx int) (ProjectSpec, error) {
	doc := arg.Document()
	if doc == nil {
		return ProjectSpec{}, mddberr.AtStage(mddberr.InvalidPipeline, stageIdx, "$project requires a document argument")
	}
	var spec ProjectSpec
	doc.Range(func(name string, v document.Value) bool {
		switch v.Kind() {
		case document.KindInt, document.KindFloat:
			f, _ := v.AsFloat64()
			include := f != 0
			if name == "_id" && !include {
				spec.ExcludeID = true
			}
			spec.Fields = append(spec.Fields, operator.ProjectField{Name: name, Include: include})
		case document.KindBool:
			if name == "_id" && !v.Bool() {
				spec.ExcludeID = true
			}
			spec.Fields = append(spec.Fields, operator.ProjectField{Name: name, Include: v.Bool()})
		default:
			spec.Fields = append(spec.Fields, operator.ProjectField{Name: name, Compute: true, Expr: v})
		}
		return true
	})
	return spec, nil
}

// GroupAccum is one parsed accumulator of a $group stage.
type GroupAccum struct {
	Out  string
	Op   string
	Expr document.Value
}

// GroupSpec is a parsed $group stage.
type GroupSpec struct {
	IDExpr document.Value
	Accums []GroupAccum
}

// ParseGroup decodes a $group argument document (spec.md §4.4.3):
// `_id` plus any number of `out: {$op: expr}` accumulators.
func ParseGroup(arg document.Value, stageIdx int) (GroupSpec, error) {
	doc := arg.Document()
	if doc == nil {
		return GroupSpec{}, mddberr.AtStage(mddberr.InvalidPipeline, stageIdx, "$group requires a document argument")
	}
	idExpr, ok := doc.Get("_id")
	if !ok {
		return GroupSpec{}, mddberr.AtStage(mddberr.InvalidPipeline, stageIdx, "$group requires an _id expression")
	}
	spec := GroupSpec{IDExpr: idExpr}
	var parseErr error
	doc.Range(func(out string, v document.Value) bool {
		if out == "_id" {
			return true
		}
		accDoc := v.Document()
		if accDoc == nil || len(accDoc.Keys()) != 1 {
			parseErr = mddberr.AtStage(mddberr.InvalidPipeline, stageIdx, "$group field %q must be a single-operator accumulator", out)
			return false
		}
		op := accDoc.Keys()[0]
		accExpr, _ := accDoc.Get(op)
		spec.Accums = append(spec.Accums, GroupAccum{Out: out, Op: op, Expr: accExpr})
		return true
	})
	if parseErr != nil {
		return GroupSpec{}, parseErr
	}
	return spec, nil
}

// ParseSort decodes a $sort argument document into ordered keys
// (spec.md §4.4.4): 1/ascending, -1/descending.
func ParseSort(arg document.Value, stageIdx int) ([]operator.SortKey, error) {
	doc := arg.Document()
	if doc == nil {
		return nil, mddberr.AtStage(mddberr.InvalidPipeline, stageIdx, "$sort requires a document argument")
	}
	var keys []operator.SortKey
	doc.Range(func(field string, v document.Value) bool {
		f, _ := v.AsFloat64()
		keys = append(keys, operator.SortKey{Field: field, Desc: f < 0})
		return true
	})
	return keys, nil
}

// ParseLimit and ParseSkip decode their bare integer arguments.
func ParseLimit(arg document.Value, stageIdx int) (int, error) { return parseCount(arg, stageIdx, "$limit") }
func ParseSkip(arg document.Value, stageIdx int) (int, error)  { return parseCount(arg, stageIdx, "$skip") }

func parseCount(arg document.Value, stageIdx int, op string) (int, error) {
	f, ok := arg.AsFloat64()
	if !ok {
		return 0, mddberr.AtStage(mddberr.InvalidPipeline, stageIdx, "%s requires a numeric argument", op)
	}
	return int(f), nil
}

// UnwindSpec is a parsed $unwind stage.
type UnwindSpec struct {
	Field                string
	PreserveNullAndEmpty bool
	IncludeArrayIndex    string // non-empty when the caller wants the element index captured
}

// ParseUnwind accepts both the bare-path form ($unwind: "$a") and the
// document form (spec.md §4.4.6).
func ParseUnwind(arg document.Value, stageIdx int) (UnwindSpec, error) {
	if arg.Kind() == document.KindString {
		return UnwindSpec{Field: trimDollar(arg.Str())}, nil
	}
	doc := arg.Document()
	if doc == nil {
		return UnwindSpec{}, mddberr.AtStage(mddberr.InvalidPipeline, stageIdx, "$unwind requires a path or document argument")
	}
	pathV, ok := doc.Get("path")
	if !ok {
		return UnwindSpec{}, mddberr.AtStage(mddberr.InvalidPipeline, stageIdx, "$unwind document form requires a path")
	}
	spec := UnwindSpec{Field: trimDollar(pathV.Str())}
	if preserve, ok := doc.Get("preserveNullAndEmptyArrays"); ok {
		spec.PreserveNullAndEmpty = preserve.Bool()
	}
	if idx, ok := doc.Get("includeArrayIndex"); ok && idx.Kind() == document.KindString {
		spec.IncludeArrayIndex = idx.Str()
	}
	return spec, nil
}

func trimDollar(s string) string {
	if len(s) > 0 && s[0] == '$' {
		return s[1:]
	}
	return s
}

// LookupSpec is a parsed $lookup stage, either the equality form or
// the let/pipeline form (spec.md §4.4.7).
type LookupSpec struct {
	From, As                   string
	LocalField, ForeignField   string
	Let                        document.Value
	Pipeline                   document.Value
	PipelineForm               bool
}

// ParseLookup decodes a $lookup argument document.
func ParseLookup(arg document.Value, stageIdx int) (LookupSpec, error) {
	doc := arg.Document()
	if doc == nil {
		return LookupSpec{}, mddberr.AtStage(mddberr.InvalidPipeline, stageIdx, "$lookup requires a document argument")
	}
	spec := LookupSpec{}
	if v, ok := doc.Get("from"); ok {
		spec.From = v.Str()
	}
	if v, ok := doc.Get("as"); ok {
		spec.As = v.Str()
	}
	if v, ok := doc.Get("localField"); ok {
		spec.LocalField = v.Str()
	}
	if v, ok := doc.Get("foreignField"); ok {
		spec.ForeignField = v.Str()
	}
	if v, ok := doc.Get("let"); ok {
		spec.Let = v
	}
	if v, ok := doc.Get("pipeline"); ok {
		spec.Pipeline = v
		spec.PipelineForm = true
	}
	return spec, nil
}
