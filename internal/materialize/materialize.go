// Package materialize executes validated plans and renders the resulting
// tables as bounded text.
package materialize

import (
	"context"
	"fmt"

	"github.com/duckmesh/probe/internal/plan"
	"github.com/duckmesh/probe/internal/sandbox"
	"github.com/duckmesh/probe/internal/source"
)

type Column struct {
	Name string
	Type plan.Type
}

// Table is a fully evaluated result. Rows hold int64, float64, string, bool,
// time.Time or nil values in column order.
type Table struct {
	Columns []Column
	Rows    [][]any
}

func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

func (t Table) Shape() (rows, columns int) {
	return len(t.Rows), len(t.Columns)
}

type Result struct {
	Table    Table
	Rendered string
}

type Querier interface {
	Query(ctx context.Context, statement string) (source.Result, error)
}

type Materializer struct {
	querier Querier
	render  RenderOptions
}

func New(querier Querier, render RenderOptions) *Materializer {
	return &Materializer{querier: querier, render: render.withDefaults()}
}

// Materialize runs the plan to completion. Expression plans were lowered as
// a selection over the source, so both plan kinds execute the same way.
func (m *Materializer) Materialize(ctx context.Context, validated *sandbox.Validated) (Result, error) {
	if validated == nil {
		return Result{}, fmt.Errorf("validated plan is required")
	}

	queried, err := m.querier.Query(ctx, validated.SQL)
	if err != nil {
		return Result{}, fmt.Errorf("materialize %s plan: %w", validated.Kind(), err)
	}
	if len(queried.Columns) != len(validated.Output) {
		return Result{}, fmt.Errorf("materialize %s plan: got %d columns, want %d", validated.Kind(), len(queried.Columns), len(validated.Output))
	}

	table := Table{Columns: make([]Column, 0, len(validated.Output)), Rows: queried.Rows}
	for _, field := range validated.Output {
		table.Columns = append(table.Columns, Column{Name: field.Name, Type: field.Type})
	}
	return Result{Table: table, Rendered: Render(table, m.render)}, nil
}
