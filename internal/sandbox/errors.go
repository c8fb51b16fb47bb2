package sandbox

import (
	"errors"
	"fmt"
)

var ErrEvaluation = errors.New("evaluation failed")

type ErrorKind string

const (
	KindSyntax               ErrorKind = "syntax"
	KindUnknownColumn        ErrorKind = "unknown_column"
	KindDisallowedIdentifier ErrorKind = "disallowed_identifier"
	KindTypeMismatch         ErrorKind = "type_mismatch"
	// KindRuntime marks failures outside the plan itself: a canceled
	// evaluation, or a validated plan that failed during materialization.
	KindRuntime ErrorKind = "runtime"
)

// EvalError describes why a candidate could not be turned into a validated plan.
type EvalError struct {
	Kind    ErrorKind
	Message string
	Path    string
}

func (e *EvalError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Message)
}

func (e *EvalError) Is(target error) bool {
	return target == ErrEvaluation
}

func errorf(kind ErrorKind, path, format string, args ...any) *EvalError {
	return &EvalError{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}
