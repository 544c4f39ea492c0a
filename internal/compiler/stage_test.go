package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mddb-ivm/document"
)

func pipelineOf(stages ...*document.Document) document.Value {
	elems := make([]document.Value, len(stages))
	for i, s := range stages {
		elems[i] = document.Doc(s)
	}
	return document.Array(elems...)
}

func TestParsePipelineDecodesEachSingleKeyStage(t *testing.T) {
	p := pipelineOf(
		document.New().Set("$match", document.New()),
		document.New().Set("$limit", document.Int(5)),
	)
	stages, err := ParsePipeline(p)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "$match", stages[0].Op)
	assert.Equal(t, 0, stages[0].Index)
	assert.Equal(t, "$limit", stages[1].Op)
	assert.Equal(t, 1, stages[1].Index)
}

func TestParsePipelineRejectsNonArray(t *testing.T) {
	_, err := ParsePipeline(document.Doc(document.New().Set("x", document.Int(1))))
	assert.Error(t, err)
}

func TestParsePipelineRejectsMultiKeyStage(t *testing.T) {
	bad := document.New().Set("$match", document.New()).Set("$limit", document.Int(1))
	_, err := ParsePipeline(pipelineOf(bad))
	assert.Error(t, err)
}

func TestValidateRejectsUnknownStage(t *testing.T) {
	stages := []Stage{{Op: "$bogus", Index: 0}}
	err := Validate(stages)
	assert.Error(t, err)
}

func TestValidateAcceptsAllKnownStages(t *testing.T) {
	var stages []Stage
	for op := range KnownStageOps {
		stages = append(stages, Stage{Op: op})
	}
	assert.NoError(t, Validate(stages))
}
