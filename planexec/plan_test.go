package planexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mddb-ivm/document"
	"mddb-ivm/internal/operator"
)

func schemaOf(names ...string) operator.Schema {
	fields := make([]operator.FieldInfo, len(names))
	for i, n := range names {
		fields[i] = operator.FieldInfo{Name: n}
	}
	return operator.Schema{Fields: fields}
}

func TestDecodePlanAssignsRunIDWhenMissing(t *testing.T) {
	raw := []byte(`{"pipeline":[{"$limit":1}]}`)
	p, err := DecodePlan(raw)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
}

func TestDecodePlanKeepsSuppliedID(t *testing.T) {
	raw := []byte(`{"id":"plan-42","pipeline":[{"$limit":1}]}`)
	p, err := DecodePlan(raw)
	require.NoError(t, err)
	assert.Equal(t, "plan-42", p.ID)
}

func TestDecodePlanRejectsInvalidJSON(t *testing.T) {
	_, err := DecodePlan([]byte(`{not json`))
	assert.Error(t, err)
}

func TestExecuteRunsPipelineAndReturnsDocuments(t *testing.T) {
	raw := []byte(`{"id":"p1","pipeline":[{"$limit":1}]}`)
	p, err := DecodePlan(raw)
	require.NoError(t, err)

	docs := []*document.Document{
		document.New().Set("a", document.Int(1)),
		document.New().Set("a", document.Int(2)),
	}
	result, err := Execute(p, docs, schemaOf("a"), nil)
	require.NoError(t, err)
	assert.Equal(t, "p1", result.RunID)
	assert.Len(t, result.Documents, 1)
}

func TestExecutePreservesPresentationHintUnmodified(t *testing.T) {
	raw := []byte(`{"pipeline":[{"$limit":5}],"presentation":{"kind":"table"}}`)
	p, err := DecodePlan(raw)
	require.NoError(t, err)

	result, err := Execute(p, nil, schemaOf("a"), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"table"}`, string(result.Presentation))
}

func TestExecuteRejectsUnknownStageName(t *testing.T) {
	raw := []byte(`{"pipeline":[{"$bogus":1}]}`)
	p, err := DecodePlan(raw)
	require.NoError(t, err)

	_, err = Execute(p, []*document.Document{document.New()}, schemaOf("a"), nil)
	assert.Error(t, err)
}

func TestExecuteRejectsMalformedPipelineShape(t *testing.T) {
	raw := []byte(`{"pipeline":{"not":"an array"}}`)
	p, err := DecodePlan(raw)
	require.NoError(t, err)

	_, err = Execute(p, []*document.Document{document.New()}, schemaOf("a"), nil)
	assert.Error(t, err)
}
