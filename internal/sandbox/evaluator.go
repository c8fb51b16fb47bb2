// Package sandbox turns untrusted candidate plans into validated, read-only
// statements over a data source.
//
// A candidate can only name operations from a fixed vocabulary and columns of
// the bound source. Anything else is reported as a typed EvalError; Evaluate
// never returns a Go error and never panics.
package sandbox

import (
	"context"
	"errors"
	"strings"

	"github.com/duckmesh/probe/internal/plan"
	"github.com/duckmesh/probe/internal/source"
)

// Explainer binds a statement against the source without running it.
type Explainer interface {
	Explain(ctx context.Context, query string) error
}

type Options struct {
	// BinderCheck asks the engine to bind each lowered statement so that
	// errors the type checker cannot see surface before materialization.
	BinderCheck bool
}

type Field struct {
	Name string
	Type plan.Type
}

// Validated is a plan that resolved against the source. It is not yet
// materialized.
type Validated struct {
	Plan   plan.Plan
	Output []Field
	SQL    string
}

func (v *Validated) Kind() plan.Kind {
	return v.Plan.Kind
}

// Outcome holds exactly one of Plan or Err.
type Outcome struct {
	Plan *Validated
	Err  *EvalError
}

func (o Outcome) Valid() bool {
	return o.Err == nil && o.Plan != nil
}

type Evaluator struct {
	columns   []column
	explainer Explainer
	opts      Options
}

// New binds an evaluator to the schema of one source. explainer may be nil,
// in which case the binder check is skipped.
func New(schema []source.Column, explainer Explainer, opts Options) *Evaluator {
	columns := make([]column, 0, len(schema))
	for _, c := range schema {
		columns = append(columns, column{name: c.Name, typ: c.Type})
	}
	return &Evaluator{columns: columns, explainer: explainer, opts: opts}
}

func (e *Evaluator) Evaluate(ctx context.Context, code string) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{Err: errorf(KindSyntax, "", "malformed plan: %v", r)}
		}
	}()

	parsed, err := plan.Parse(code)
	if err != nil {
		var syntaxErr *plan.SyntaxError
		if errors.As(err, &syntaxErr) {
			return Outcome{Err: &EvalError{Kind: KindSyntax, Path: syntaxErr.Path, Message: syntaxErr.Msg}}
		}
		return Outcome{Err: errorf(KindSyntax, "", "%v", err)}
	}

	statement, output, evalErr := lowerPlan(parsed, e.columns)
	if evalErr != nil {
		return Outcome{Err: evalErr}
	}

	if e.opts.BinderCheck && e.explainer != nil {
		if err := e.explainer.Explain(ctx, statement); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Outcome{Err: errorf(KindRuntime, "", "evaluation canceled: %v", ctxErr)}
			}
			return Outcome{Err: errorf(KindTypeMismatch, "", "%s", binderMessage(err))}
		}
	}

	fields := make([]Field, 0, len(output))
	for _, c := range output {
		fields = append(fields, Field{Name: c.name, Type: c.typ})
	}
	return Outcome{Plan: &Validated{Plan: parsed, Output: fields, SQL: statement}}
}

// binderMessage keeps the first line of an engine error.
func binderMessage(err error) string {
	message := strings.TrimSpace(err.Error())
	if newline := strings.IndexByte(message, '\n'); newline >= 0 {
		message = strings.TrimSpace(message[:newline])
	}
	return message
}
