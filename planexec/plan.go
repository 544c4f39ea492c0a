// Package planexec executes an AI-authored Plan: a JSON document
// pairing an aggregation pipeline with an opaque presentation spec the
// caller renders however it likes. Grounded on the teacher's
// tool-dispatch shape in services/mddb-mcp/internal/mcp/tools.go (a
// single JSON-in/JSON-out entry point that decodes arguments, calls
// into the backend, and marshals the result back out), generalized
// from MCP tool arguments to a full pipeline-shaped request.
package planexec

import (
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"mddb-ivm/document"
	"mddb-ivm/engine"
	"mddb-ivm/internal/operator"
	"mddb-ivm/mddberr"
)

// Plan is the wire shape an AI planner submits: a pipeline plus an
// opaque presentation hint (e.g. "table", "chart:bar") the caller uses
// to render Result, never interpreted by this package.
type Plan struct {
	ID           string          `json:"id,omitempty"`
	Pipeline     json.RawMessage `json:"pipeline"`
	Presentation json.RawMessage `json:"presentation,omitempty"`
}

// Result pairs the executed documents with the plan's run id and
// unmodified presentation hint.
type Result struct {
	RunID        string               `json:"runId"`
	Documents    []*document.Document `json:"documents"`
	Presentation json.RawMessage      `json:"presentation,omitempty"`
	Stats        engine.Stats         `json:"stats"`
}

// DecodePlan parses raw JSON into a Plan, assigning a run id via
// google/uuid if the caller didn't supply one.
func DecodePlan(raw []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, mddberr.New(mddberr.InvalidPipeline, "planexec: invalid plan JSON: %v", err)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return &p, nil
}

// Execute compiles the plan's pipeline against schema and runs it over
// docs. A stage name outside the engine's known set fails with
// UnknownStage from engine.Compile's validation step, before any stage
// is routed or run.
func Execute(p *Plan, docs []*document.Document, schema operator.Schema, resolve engine.ResolveCollection) (*Result, error) {
	pipelineVal, err := decodeValue(p.Pipeline)
	if err != nil {
		return nil, mddberr.New(mddberr.InvalidPipeline, "planexec: invalid pipeline: %v", err)
	}
	eng, err := engine.Compile(pipelineVal, schema, resolve)
	if err != nil {
		return nil, err
	}
	out, err := eng.Execute(docs)
	if err != nil {
		return nil, err
	}
	return &Result{
		RunID:        p.ID,
		Documents:    out,
		Presentation: p.Presentation,
		Stats:        eng.Stats(),
	}, nil
}

// decodeValue routes raw pipeline JSON through document.Document's own
// object decoder (by wrapping it in a single-field object) so the
// plan's pipeline is parsed with exactly the same rules any other
// ingested document uses (integral numbers become KindInt, nested
// objects become KindDocument).
func decodeValue(raw json.RawMessage) (document.Value, error) {
	wrapped := append(append([]byte(`{"pipeline":`), raw...), '}')
	doc := document.New()
	if err := json.Unmarshal(wrapped, doc); err != nil {
		return document.Value{}, err
	}
	v, _ := doc.Get("pipeline")
	return v, nil
}
