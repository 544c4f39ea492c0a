package operator

import (
	"mddb-ivm/document"
	"mddb-ivm/internal/batch"
	"mddb-ivm/internal/expr"
	"mddb-ivm/internal/rowid"
)

// ProjectField describes one output field of a $project stage: either
// a pass-through inclusion/exclusion of an input field, or a computed
// expression.
type ProjectField struct {
	Name    string
	Include bool
	Expr    document.Value // zero Value (KindNull doc) means plain include/exclude
	Compute bool
}

// ProjectOperator implements $project (spec.md §4.4.2): includes,
// excludes and computed fields, with `_id` included by default unless
// explicitly excluded. Included fields preserve the upstream RowId so
// late materialization can read the original batch; computed fields
// are written to an output column and published via onTransform so
// fallback materialization can reconstruct them if the column is
// later discarded.
type ProjectOperator struct {
	fields     []ProjectField
	excludeID  bool
	schema     Schema
	onTransform OnTransformFunc
}

// NewProject returns an uninitialized $project operator. idExcluded
// records whether the caller's spec explicitly excluded `_id`.
func NewProject(fields []ProjectField, idExcluded bool) *ProjectOperator {
	return &ProjectOperator{fields: fields, excludeID: idExcluded}
}

func (p *ProjectOperator) Init(schema Schema, hints Hints) error {
	p.schema = schema
	p.onTransform = hints.OnTransform
	return nil
}

func (p *ProjectOperator) Push(b *batch.Batch) (PushResult, error) {
	out := batch.New(b.Capacity)
	out.RowIDs = b.RowIDs

	includeID := !p.excludeID
	anyExplicitInclude := false
	for _, f := range p.fields {
		if f.Name == "_id" {
			includeID = f.Include
		}
		if f.Include || f.Compute {
			anyExplicitInclude = true
		}
	}

	if includeID {
		if col, ok := b.Column("_id"); ok {
			p.copyColumn(out, col, b.Selection)
		}
	}

	for _, f := range p.fields {
		if f.Name == "_id" {
			continue
		}
		if f.Compute {
			p.computeField(out, b, f)
			continue
		}
		if !f.Include {
			continue
		}
		col, ok := b.Column(f.Name)
		if !ok {
			continue
		}
		p.copyColumn(out, col, b.Selection)
	}

	// Exclusion-only projections (no computed/included fields named)
	// pass every field through except the excluded ones.
	if !anyExplicitInclude {
		excluded := make(map[string]bool, len(p.fields))
		for _, f := range p.fields {
			if !f.Include {
				excluded[f.Name] = true
			}
		}
		for _, name := range b.Fields() {
			if name == "_id" || excluded[name] {
				continue
			}
			col, _ := b.Column(name)
			p.copyColumn(out, col, b.Selection)
		}
	}

	out.Selection = append(batch.Selection(nil), b.Selection...)
	return PushResult{Output: out, Selection: out.Selection, Metrics: Metrics{RowsIn: len(b.Selection), RowsOut: len(out.Selection)}}, nil
}

// projectDoc applies this stage's field rules to a single document,
// the shape ApplyIncrement/ApplyDecrement need for delta propagation
// (spec.md §4.7) and that Push's column loop mirrors row-by-row.
func (p *ProjectOperator) projectDoc(row rowid.RowID, in *document.Document) *document.Document {
	includeID := !p.excludeID
	anyExplicitInclude := false
	for _, f := range p.fields {
		if f.Name == "_id" {
			includeID = f.Include
		}
		if f.Include || f.Compute {
			anyExplicitInclude = true
		}
	}

	out := document.New()
	if includeID {
		if v, ok := in.Get("_id"); ok {
			out.Set("_id", v)
		}
	}
	for _, f := range p.fields {
		if f.Name == "_id" {
			continue
		}
		if f.Compute {
			env := expr.Env{Doc: in, Root: in}
			v := expr.Eval(f.Expr, env)
			out.Set(f.Name, v)
			if p.onTransform != nil {
				p.onTransform(row, f.Name, v)
			}
			continue
		}
		if !f.Include {
			continue
		}
		if v, ok := in.Get(f.Name); ok {
			out.Set(f.Name, v)
		}
	}
	if !anyExplicitInclude {
		excluded := make(map[string]bool, len(p.fields))
		for _, f := range p.fields {
			if !f.Include {
				excluded[f.Name] = true
			}
		}
		in.Range(func(k string, v document.Value) bool {
			if k == "_id" || excluded[k] {
				return true
			}
			out.Set(k, v)
			return true
		})
	}
	return out
}

// ApplyIncrement recomputes this stage's fields and propagates +1
// (spec.md §4.7).
func (p *ProjectOperator) ApplyIncrement(row rowid.RowID, doc *document.Document) []Delta {
	return []Delta{{Row: row, Doc: p.projectDoc(row, doc), Sign: 1}}
}

// ApplyDecrement recomputes this stage's fields and propagates -1.
func (p *ProjectOperator) ApplyDecrement(row rowid.RowID, doc *document.Document) []Delta {
	return []Delta{{Row: row, Doc: p.projectDoc(row, doc), Sign: -1}}
}

func (p *ProjectOperator) copyColumn(out *batch.Batch, src *batch.Column, sel batch.Selection) {
	dst := out.AddColumn(src.Field, src.Kind())
	for _, slot := range sel {
		dst.Set(int(slot), src.Get(int(slot)))
	}
}

func (p *ProjectOperator) computeField(out *batch.Batch, b *batch.Batch, f ProjectField) {
	kind := batch.KindAny
	if expr.IsVectorizableProject(f.Expr) {
		kind = vectorizedResultKind(f.Expr)
	}
	dst := out.AddColumn(f.Name, kind)
	for _, slot := range b.Selection {
		row := b.Row(slot)
		v := expr.Eval(f.Expr, expr.Env{Doc: row, Root: row})
		dst.Set(int(slot), v)
		if p.onTransform != nil {
			p.onTransform(b.RowIDs[slot], f.Name, v)
		}
	}
}

// vectorizedResultKind picks a storage kind for an expression known
// to fall inside the vectorizable subset (spec.md §4.4.2): arithmetic
// produces float64, string operators produce dictionary strings.
func vectorizedResultKind(e document.Value) batch.Kind {
	doc := e.Document()
	if doc == nil {
		return batch.KindAny
	}
	keys := doc.Keys()
	if len(keys) != 1 {
		return batch.KindAny
	}
	switch keys[0] {
	case "$add", "$subtract", "$multiply", "$divide":
		return batch.KindF64
	case "$concat", "$toString":
		return batch.KindUtf8
	default:
		return batch.KindAny
	}
}
