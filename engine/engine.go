// Package engine is the public embedding API (spec.md §6): compile a
// pipeline once, then either run it once over a document set
// (Execute) or drive it incrementally against a live delta stream
// (Store). It is a thin seam over internal/compiler and internal/ivm —
// the engine itself owns no execution logic beyond routing between a
// one-shot run and a maintained store.
package engine

import (
	"sync"

	"mddb-ivm/document"
	"mddb-ivm/internal/batch"
	"mddb-ivm/internal/compiler"
	"mddb-ivm/internal/fallback"
	"mddb-ivm/internal/ivm"
	"mddb-ivm/internal/materialize"
	"mddb-ivm/internal/operator"
	"mddb-ivm/internal/rowid"
	"mddb-ivm/mddberr"
)

// sinkCacheCapacity bounds the late-materialization cache every
// compiled engine carries (spec.md §4.6).
const sinkCacheCapacity = 4096

// microPathThreshold is the micro-path eligibility rule (spec.md
// §4.5): a document set below this size runs entirely through the
// fallback interpreter, since the cost of building a columnar batch
// and its per-column validity bitmaps is not recovered over so few
// rows.
const microPathThreshold = 64

// Engine is a compiled pipeline bound to one input schema.
type Engine struct {
	space     *rowid.Space
	plan      *compiler.ExecutionPlan
	allStages []compiler.Stage
	source    fallback.CollectionSource
	sink      *materialize.Sink

	stats statCounters
}

type statCounters struct {
	mu               sync.Mutex
	microPathHits    int64
	columnarHits     int64
	fallbackTailHits int64
}

// ResolveCollection looks up a named collection for $lookup's "from".
type ResolveCollection func(name string) []*document.Document

type collectionSource struct{ resolve ResolveCollection }

func (c collectionSource) Collection(name string) []*document.Document {
	if c.resolve == nil {
		return nil
	}
	return c.resolve(name)
}

// Compile parses and routes pipeline against schema, building the
// vectorized prefix and fallback tail up front (spec.md §4.5).
func Compile(pipeline document.Value, schema operator.Schema, resolve ResolveCollection) (*Engine, error) {
	space := rowid.New()
	sink := materialize.NewSink(sinkCacheCapacity)
	opts := compiler.Options{
		Space: space,
		ResolveCollection: func(name string) []*document.Document {
			if resolve == nil {
				return nil
			}
			return resolve(name)
		},
		OnTransform: sink.Overlay.Record,
	}
	stages, err := compiler.ParsePipeline(pipeline)
	if err != nil {
		return nil, err
	}
	if err := compiler.Validate(stages); err != nil {
		return nil, err
	}
	plan, err := compiler.CompileStages(stages, schema, opts)
	if err != nil {
		return nil, err
	}
	return &Engine{
		space:     space,
		plan:      plan,
		allStages: stages,
		source:    collectionSource{resolve},
		sink:      sink,
	}, nil
}

// Execute runs the compiled pipeline once over docs (spec.md §6). A
// small input takes the micro-path straight through the fallback
// interpreter; a large one runs the vectorized prefix first and hands
// whatever remains to the fallback tail.
func (e *Engine) Execute(docs []*document.Document) ([]*document.Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if len(docs) < microPathThreshold || len(e.plan.Columnar) == 0 {
		e.stats.mu.Lock()
		e.stats.microPathHits++
		e.stats.mu.Unlock()
		return fallback.New(e.allStages, e.source).Run(docs, nil)
	}

	e.stats.mu.Lock()
	e.stats.columnarHits++
	e.stats.mu.Unlock()

	b, baseDocs := e.buildBatch(docs)
	out, err := runColumnar(e.plan.Columnar, b)
	if err != nil {
		return nil, err
	}
	mid := e.extractDocs(out, baseDocs)
	if len(e.plan.Fallback) == 0 {
		return mid, nil
	}
	e.stats.mu.Lock()
	e.stats.fallbackTailHits++
	e.stats.mu.Unlock()
	return fallback.New(e.plan.Fallback, e.source).Run(mid, nil)
}

// Store returns an IVM store driving this plan incrementally, or a
// mddberr.UnsupportedPredicate-coded error if the plan has a fallback
// tail or a non-incremental stage (spec.md §4.7 — delta maintenance
// requires every stage to support ApplyIncrement/ApplyDecrement).
func (e *Engine) Store() (*ivm.Store, error) {
	if !e.plan.CanIncrement() {
		return nil, mddberr.New(mddberr.UnsupportedPredicate, "engine: plan has a fallback tail, delta maintenance unavailable")
	}
	return ivm.NewStore(e.space, e.plan.Incremental), nil
}

// Stats reports routing counters and the compiled plan's per-reason
// rejection tally (spec.md §6).
type Stats struct {
	MicroPathHits      int64
	ColumnarHits       int64
	FallbackTailHits   int64
	RejectionsByReason map[mddberr.RejectionReason]int64
}

func (e *Engine) Stats() Stats {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	reasons := make(map[mddberr.RejectionReason]int64, len(e.plan.Rejections))
	for _, r := range e.plan.Rejections {
		reasons[r.Reason]++
	}
	return Stats{
		MicroPathHits:      e.stats.microPathHits,
		ColumnarHits:       e.stats.columnarHits,
		FallbackTailHits:   e.stats.fallbackTailHits,
		RejectionsByReason: reasons,
	}
}

// buildBatch lowers docs into a columnar batch and returns a parallel
// map from the RowId it minted for each document back to that
// document, the "base" extractDocs later hands to late materialization
// (spec.md §4.6). Each field gets a typed column (KindI64/KindF64/
// KindBool/KindUtf8) when every document agrees on its value kind, so
// downstream kernels like Column.Sum/Avg/CountValid can run directly
// against native storage instead of boxed document.Value; a field with
// mixed or composite (array/document) values across the batch falls
// back to KindAny (spec.md §4.1, §4.4.3).
func (e *Engine) buildBatch(docs []*document.Document) (*batch.Batch, map[rowid.RowID]*document.Document) {
	kinds := inferColumnKinds(docs)

	b := batch.New(len(docs))
	cols := make(map[string]*batch.Column, len(kinds))
	baseDocs := make(map[rowid.RowID]*document.Document, len(docs))
	for i, d := range docs {
		id := e.space.Allocate()
		b.RowIDs[i] = id
		baseDocs[id] = d
		d.Range(func(k string, v document.Value) bool {
			col, ok := cols[k]
			if !ok {
				col = b.AddColumn(k, kinds[k])
				cols[k] = col
			}
			col.Set(i, v)
			return true
		})
	}
	b.ResetSelection(len(docs))
	return b, baseDocs
}

// inferColumnKinds scans every document once to decide each field's
// native batch.Kind: uniform int -> KindI64, uniform float -> KindF64,
// uniform bool -> KindBool, uniform string -> KindUtf8; anything
// mixed, or carrying an array/document/timestamp value, falls back to
// KindAny so Column.Set's boxed path stores it exactly.
func inferColumnKinds(docs []*document.Document) map[string]batch.Kind {
	seen := make(map[string]document.Kind, 8)
	mixed := make(map[string]bool, 8)
	for _, d := range docs {
		d.Range(func(k string, v document.Value) bool {
			if v.IsNull() {
				return true
			}
			if mixed[k] {
				return true
			}
			prior, ok := seen[k]
			if !ok {
				seen[k] = v.Kind()
				return true
			}
			if prior != v.Kind() {
				mixed[k] = true
			}
			return true
		})
	}
	kinds := make(map[string]batch.Kind, len(seen))
	for k, dk := range seen {
		if mixed[k] {
			kinds[k] = batch.KindAny
			continue
		}
		switch dk {
		case document.KindInt:
			kinds[k] = batch.KindI64
		case document.KindFloat:
			kinds[k] = batch.KindF64
		case document.KindBool:
			kinds[k] = batch.KindBool
		case document.KindString:
			kinds[k] = batch.KindUtf8
		default:
			kinds[k] = batch.KindAny
		}
	}
	return kinds
}

// extractDocs materializes the terminal batch's selected rows through
// e.sink (spec.md §4.6): when the plan's stages never reshaped a row
// (no $group/$unwind/field-dropping $project), the original input
// document plus any onTransform overlay is reused instead of
// reboxing every column back into a fresh document; otherwise the
// columnar fallback rebuilds the row directly. Each row's overlay
// entry is forgotten once materialized since a one-shot Execute never
// revisits a RowId.
func (e *Engine) extractDocs(b *batch.Batch, baseDocs map[rowid.RowID]*document.Document) []*document.Document {
	if b == nil {
		return nil
	}
	fields := b.Fields()
	out := make([]*document.Document, 0, len(b.Selection))
	for _, slot := range b.Selection {
		row := b.RowIDs[slot]
		var base *document.Document
		if e.plan.PreservesRowShape {
			base = baseDocs[row]
		}
		s := slot
		doc := e.sink.Materialize(row, fields, base, func() *document.Document { return b.Row(s) })
		e.sink.Overlay.Forget(row)
		out = append(out, doc)
	}
	return out
}

// runColumnar drives the four-phase operator ABI (spec.md §4.4) over
// one full batch: Push once, then Flush for any blocking stage before
// handing its output on to the next stage.
func runColumnar(ops []operator.Operator, b *batch.Batch) (*batch.Batch, error) {
	cur := b
	for _, op := range ops {
		res, err := op.Push(cur)
		if err != nil {
			return nil, err
		}
		out := res.Output
		if blocker, ok := op.(operator.Blocking); ok && blocker.Blocking() {
			flushed, hasOutput, err := op.Flush()
			if err != nil {
				return nil, err
			}
			if hasOutput {
				out = flushed
			} else {
				out = emptyBatch()
			}
		}
		if out == nil {
			out = emptyBatch()
		}
		cur = out
	}
	return cur, nil
}

func emptyBatch() *batch.Batch {
	b := batch.New(0)
	b.ResetSelection(0)
	return b
}
