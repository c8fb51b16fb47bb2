// Package plan defines the structured query plans that models emit.
//
// A plan is JSON with one of two shapes: an expression evaluated as a single
// selection over the source table, or a pipeline of table steps applied in
// order. Plans carry no executable text; the sandbox resolves and lowers them.
package plan

import "encoding/json"

type Kind string

const (
	KindExpression Kind = "expression"
	KindPipeline   Kind = "pipeline"
)

type Plan struct {
	Kind  Kind   `json:"kind"`
	Name  string `json:"name,omitempty"`
	Expr  *Expr  `json:"expr,omitempty"`
	Steps []Step `json:"steps,omitempty"`
}

const (
	StepSelect      = "select"
	StepFilter      = "filter"
	StepWithColumns = "with_columns"
	StepGroupBy     = "group_by"
	StepSort        = "sort"
	StepLimit       = "limit"
	StepUnique      = "unique"
)

// Step is one table transformation. Which fields apply depends on Op.
type Step struct {
	Op        string      `json:"op"`
	Columns   []NamedExpr `json:"columns,omitempty"`
	Predicate *Expr       `json:"predicate,omitempty"`
	Keys      []NamedExpr `json:"keys,omitempty"`
	Aggs      []NamedExpr `json:"aggs,omitempty"`
	By        []SortKey   `json:"by,omitempty"`
	N         *int        `json:"n,omitempty"`
	Subset    []string    `json:"subset,omitempty"`
}

type NamedExpr struct {
	Name string `json:"name,omitempty"`
	Expr *Expr  `json:"expr"`
}

type SortKey struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
}

type Window struct {
	PartitionBy []*Expr   `json:"partition_by,omitempty"`
	OrderBy     []SortKey `json:"order_by,omitempty"`
}

// Expr is a node of the expression tree. Op selects the operation; the
// remaining fields are operands or options of that operation.
type Expr struct {
	Op         string            `json:"op"`
	Name       string            `json:"name,omitempty"`
	Value      json.RawMessage   `json:"value,omitempty"`
	Values     []json.RawMessage `json:"values,omitempty"`
	Dtype      string            `json:"dtype,omitempty"`
	Args       []*Expr           `json:"args,omitempty"`
	Pattern    string            `json:"pattern,omitempty"`
	With       string            `json:"with,omitempty"`
	Literal    bool              `json:"literal,omitempty"`
	Format     string            `json:"format,omitempty"`
	Unit       string            `json:"unit,omitempty"`
	Digits     *int              `json:"digits,omitempty"`
	Offset     *int              `json:"offset,omitempty"`
	Length     *int              `json:"length,omitempty"`
	Descending bool              `json:"descending,omitempty"`
	Over       *Window           `json:"over,omitempty"`
}

// Walk visits e and its operands depth first. Returning false from fn skips
// the operands of the current node.
func (e *Expr) Walk(fn func(*Expr) bool) {
	if e == nil {
		return
	}
	if !fn(e) {
		return
	}
	for _, arg := range e.Args {
		arg.Walk(fn)
	}
	if e.Over != nil {
		for _, part := range e.Over.PartitionBy {
			part.Walk(fn)
		}
	}
}

// Columns returns the column names referenced by e in first-seen order.
func (e *Expr) Columns() []string {
	seen := map[string]struct{}{}
	var names []string
	e.Walk(func(node *Expr) bool {
		if node.Op == "col" {
			if _, ok := seen[node.Name]; !ok {
				seen[node.Name] = struct{}{}
				names = append(names, node.Name)
			}
		}
		return true
	})
	return names
}
