// Package mddberr defines the engine's stable wire error codes
// (spec.md §6, §7). Every error that crosses the embedding API or is
// recorded as a rejection reason carries one of these codes.
package mddberr

import "fmt"

// Code is a stable, machine-readable error identifier. Codes never
// change meaning across versions (spec.md §7).
type Code string

const (
	UnknownStage           Code = "UnknownStage"
	UnsupportedPredicate   Code = "UnsupportedPredicate"
	UnsupportedAccumulator Code = "UnsupportedAccumulator"
	CapacityExceeded       Code = "CapacityExceeded"
	InvalidPipeline        Code = "InvalidPipeline"
	Cancelled              Code = "Cancelled"
	Internal               Code = "Internal"
)

// Error pairs a stable code with a human-readable message and, for
// pipeline-shaped failures, the offending stage index.
type Error struct {
	Code       Code
	Message    string
	StageIndex int // -1 when not applicable
}

func (e *Error) Error() string {
	if e.StageIndex >= 0 {
		return fmt.Sprintf("%s: stage %d: %s", e.Code, e.StageIndex, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with no associated stage index.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), StageIndex: -1}
}

// AtStage builds an Error tied to a pipeline stage index.
func AtStage(code Code, stage int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), StageIndex: stage}
}

// RejectionReason is a short machine-readable reason code the router
// records when a stage cannot be lowered to the columnar path
// (spec.md §4.5). These are distinct from wire Codes: a rejection is
// recoverable via fallback, not necessarily surfaced as an Error.
type RejectionReason string

const (
	ReasonUnsupportedAccum     RejectionReason = "UNSUPPORTED_ACCUM"
	ReasonUnsupportedPredicate RejectionReason = "UNSUPPORTED_PREDICATE"
	ReasonUnsupportedExpr      RejectionReason = "UNSUPPORTED_EXPR"
	ReasonMultiGroup           RejectionReason = "MULTI_GROUP"
	ReasonComplexSort          RejectionReason = "COMPLEX_SORT"
	ReasonPipelineTooLong      RejectionReason = "PIPELINE_TOO_LONG"
	ReasonLookupPipelineForm   RejectionReason = "LOOKUP_PIPELINE_FORM"
	ReasonUnwindIndexCapture   RejectionReason = "UNWIND_INDEX_CAPTURE"
	ReasonCapacity             RejectionReason = "CAPACITY"
	ReasonUnknownStage         RejectionReason = "UNKNOWN_STAGE"
)
