package probe

import (
	"errors"
	"fmt"
)

var (
	ErrRetryExhausted  = errors.New("retry budget exhausted")
	ErrMaterialization = errors.New("materialization failed")
	ErrModel           = errors.New("model call failed")
)

// RetryExhaustedError carries the last failing candidate so callers can show
// the code and error that never converged.
type RetryExhaustedError struct {
	Attempts int
	Last     Candidate
}

func (e *RetryExhaustedError) Error() string {
	if e.Last.Err == nil {
		return fmt.Sprintf("retry budget exhausted after %d evaluations", e.Attempts)
	}
	return fmt.Sprintf("retry budget exhausted after %d evaluations: %v", e.Attempts, e.Last.Err)
}

func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

func (e *RetryExhaustedError) Unwrap() error {
	if e.Last.Err == nil {
		return nil
	}
	return e.Last.Err
}

// MaterializationError is a runtime failure of a plan that already passed
// evaluation.
type MaterializationError struct {
	Code string
	Err  error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialize validated plan: %v", e.Err)
}

func (e *MaterializationError) Is(target error) bool {
	return target == ErrMaterialization
}

func (e *MaterializationError) Unwrap() error {
	return e.Err
}

type Stage string

const (
	StageGenerate  Stage = "generate"
	StageCorrect   Stage = "correct"
	StageTranslate Stage = "translate"
)

type ModelError struct {
	Stage Stage
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s model call: %v", e.Stage, e.Err)
}

func (e *ModelError) Is(target error) bool {
	return target == ErrModel
}

func (e *ModelError) Unwrap() error {
	return e.Err
}
