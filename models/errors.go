package models

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument marks a caller-supplied parameter that violates a stated
// precondition (empty query, non-positive topK, bad chunk bounds). It is
// detected synchronously and never retried.
var ErrInvalidArgument = errors.New("invalid argument")

// Pipeline stages a collaborator failure can be attributed to.
const (
	StageEmbedding  = "embedding"
	StageRetrieval  = "retrieval"
	StageGeneration = "generation"
)

// StageError wraps a collaborator failure with the pipeline stage it occurred
// in, so callers can report which stage failed without exposing the
// collaborator's payload verbatim.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError attributes err to a pipeline stage. Existing stage attribution
// is preserved so the innermost stage wins.
func NewStageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// FailedStage returns the stage an error was attributed to, or "" when the
// error carries no stage information.
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
