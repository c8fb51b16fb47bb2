package sandbox

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/duckmesh/probe/internal/plan"
	"github.com/duckmesh/probe/internal/source"
)

// frame is one intermediate table of a pipeline: a SELECT statement whose
// visible columns are described by scope. Every frame also carries the
// ordinal column that fixes its row order.
type frame struct {
	sql   string
	scope *scope
}

func baseFrame(columns []column) frame {
	return frame{
		sql:   fmt.Sprintf("SELECT *, row_number() OVER () AS %s FROM %s", quoteIdent(ordinalColumn), quoteIdent(source.ViewName)),
		scope: newScope(columns),
	}
}

func (f frame) visible() []string {
	out := make([]string, 0, len(f.scope.columns))
	for _, c := range f.scope.columns {
		out = append(out, quoteIdent(c.name))
	}
	return out
}

// lowerPlan turns a parsed plan into one read-only statement over the source
// view and the schema of its result.
func lowerPlan(p plan.Plan, columns []column) (string, []column, *EvalError) {
	current := baseFrame(columns)

	var err *EvalError
	switch p.Kind {
	case plan.KindExpression:
		current, err = selectStep(current, []plan.NamedExpr{{Name: p.Name, Expr: p.Expr}}, "")
		if err != nil {
			return "", nil, err
		}
	case plan.KindPipeline:
		for i, step := range p.Steps {
			current, err = applyStep(current, step, element("", "steps", i))
			if err != nil {
				return "", nil, err
			}
		}
	default:
		return "", nil, errorf(KindSyntax, "kind", "unknown plan kind %q", p.Kind)
	}

	statement := fmt.Sprintf("SELECT %s FROM (%s) AS probe_result ORDER BY %s",
		strings.Join(current.visible(), ", "), current.sql, quoteIdent(ordinalColumn))
	return statement, current.scope.columns, nil
}

func applyStep(in frame, step plan.Step, path string) (frame, *EvalError) {
	if _, ok := stepVocabulary[step.Op]; !ok {
		if step.Op == "" {
			return frame{}, errorf(KindSyntax, child(path, "op"), "step op is required")
		}
		return frame{}, errorf(KindDisallowedIdentifier, child(path, "op"), "%q is not an allowed step", step.Op)
	}

	switch step.Op {
	case plan.StepSelect:
		return selectStep(in, step.Columns, child(path, "columns"))
	case plan.StepFilter:
		return filterStep(in, step.Predicate, child(path, "predicate"))
	case plan.StepWithColumns:
		return withColumnsStep(in, step.Columns, child(path, "columns"))
	case plan.StepGroupBy:
		return groupByStep(in, step.Keys, step.Aggs, path)
	case plan.StepSort:
		return sortStep(in, step.By, child(path, "by"))
	case plan.StepLimit:
		return limitStep(in, step.N, child(path, "n"))
	default:
		return uniqueStep(in, step.Subset, child(path, "subset"))
	}
}

// shape summarizes an expression before lowering. Columns inside
// aggregates and windows are bound by them and are not free.
type shape struct {
	aggregate bool
	window    bool
	free      []string
}

func analyze(e *plan.Expr) shape {
	var s shape
	e.Walk(func(node *plan.Expr) bool {
		fn, ok := vocabulary[node.Op]
		if !ok {
			return true
		}
		switch {
		case fn.class == classAggregate && node.Over == nil:
			s.aggregate = true
			return false
		case fn.class == classAggregate || fn.class == classWindow:
			s.window = true
			return false
		case node.Op == "col":
			s.free = append(s.free, node.Name)
		}
		return true
	})
	return s
}

type outputNames map[string]struct{}

func (o outputNames) add(name, path string) *EvalError {
	switch {
	case strings.TrimSpace(name) == "":
		return errorf(KindSyntax, path, "output column name is required")
	case name == ordinalColumn:
		return errorf(KindSyntax, path, "output column name %q is reserved", name)
	}
	if _, ok := o[name]; ok {
		return errorf(KindSyntax, path, "duplicate output column %q", name)
	}
	o[name] = struct{}{}
	return nil
}

func outputName(named plan.NamedExpr) string {
	if name := strings.TrimSpace(named.Name); name != "" {
		return name
	}
	if named.Expr == nil {
		return ""
	}
	if columns := named.Expr.Columns(); len(columns) > 0 {
		return strings.TrimSpace(columns[0])
	}
	if named.Expr.Op == "count" && len(named.Expr.Args) == 0 {
		return "count"
	}
	return "literal"
}

// selectStep lowers a selection. An empty path marks the root expression of
// an expression plan.
func selectStep(in frame, columns []plan.NamedExpr, path string) (frame, *EvalError) {
	if len(columns) == 0 {
		return frame{}, errorf(KindSyntax, path, "select requires at least one column")
	}

	// A selection with no free columns yields a single row.
	single := true
	grouped := false
	for i, named := range columns {
		if named.Expr == nil {
			return frame{}, errorf(KindSyntax, child(itemPath(path, i), "expr"), "expression is required")
		}
		s := analyze(named.Expr)
		if len(s.free) > 0 || s.window {
			single = false
		}
		grouped = grouped || s.aggregate
	}

	l := lowerer{scope: in.scope, mode: modeRow}
	if single {
		l.mode = modeAggregate
	}
	names := outputNames{}
	items := make([]string, 0, len(columns)+1)
	out := make([]column, 0, len(columns))
	for i, named := range columns {
		p := itemPath(path, i)
		lowered, err := l.lower(named.Expr, child(p, "expr"))
		if err != nil {
			return frame{}, err
		}
		name := outputName(named)
		if err := names.add(name, child(p, "name")); err != nil {
			return frame{}, err
		}
		items = append(items, lowered.sql+" AS "+quoteIdent(name))
		out = append(out, column{name: name, typ: lowered.typ})
	}

	switch {
	case single && grouped:
		items = append(items, "1 AS "+quoteIdent(ordinalColumn))
		return frame{sql: fmt.Sprintf("SELECT %s FROM (%s) AS s", strings.Join(items, ", "), in.sql), scope: newScope(out)}, nil
	case single:
		items = append(items, "1 AS "+quoteIdent(ordinalColumn))
		return frame{sql: "SELECT " + strings.Join(items, ", "), scope: newScope(out)}, nil
	}
	items = append(items, quoteIdent(ordinalColumn))
	return frame{sql: fmt.Sprintf("SELECT %s FROM (%s) AS s", strings.Join(items, ", "), in.sql), scope: newScope(out)}, nil
}

func itemPath(path string, i int) string {
	if path == "" {
		return ""
	}
	return indexed(path, i)
}

func filterStep(in frame, predicate *plan.Expr, path string) (frame, *EvalError) {
	if predicate == nil {
		return frame{}, errorf(KindSyntax, path, "filter requires a predicate")
	}
	s := analyze(predicate)
	lowered, err := lowerer{scope: in.scope, mode: modeRow}.lower(predicate, path)
	if err != nil {
		return frame{}, err
	}
	if lowered.typ != plan.TypeBool && lowered.typ != plan.TypeNull {
		return frame{}, errorf(KindTypeMismatch, path, "filter predicate must be bool, got %s", lowered.typ)
	}

	clause := "WHERE"
	if s.aggregate || s.window {
		clause = "QUALIFY"
	}
	return frame{sql: fmt.Sprintf("SELECT * FROM (%s) AS s %s %s", in.sql, clause, lowered.sql), scope: in.scope}, nil
}

func withColumnsStep(in frame, columns []plan.NamedExpr, path string) (frame, *EvalError) {
	if len(columns) == 0 {
		return frame{}, errorf(KindSyntax, path, "with_columns requires at least one column")
	}

	l := lowerer{scope: in.scope, mode: modeRow}
	names := outputNames{}
	replaced := map[string]typedExpr{}
	var added []column
	var addedSQL []string
	for i, named := range columns {
		p := indexed(path, i)
		lowered, err := l.lower(named.Expr, child(p, "expr"))
		if err != nil {
			return frame{}, err
		}
		name := outputName(named)
		if err := names.add(name, child(p, "name")); err != nil {
			return frame{}, err
		}
		if _, ok := in.scope.column(name); ok {
			replaced[name] = lowered
			continue
		}
		added = append(added, column{name: name, typ: lowered.typ})
		addedSQL = append(addedSQL, lowered.sql+" AS "+quoteIdent(name))
	}

	items := make([]string, 0, len(in.scope.columns)+len(added)+1)
	out := make([]column, 0, len(in.scope.columns)+len(added))
	for _, c := range in.scope.columns {
		if lowered, ok := replaced[c.name]; ok {
			items = append(items, lowered.sql+" AS "+quoteIdent(c.name))
			out = append(out, column{name: c.name, typ: lowered.typ})
			continue
		}
		items = append(items, quoteIdent(c.name))
		out = append(out, c)
	}
	items = append(items, addedSQL...)
	items = append(items, quoteIdent(ordinalColumn))
	out = append(out, added...)

	return frame{sql: fmt.Sprintf("SELECT %s FROM (%s) AS s", strings.Join(items, ", "), in.sql), scope: newScope(out)}, nil
}

func groupByStep(in frame, keys, aggs []plan.NamedExpr, path string) (frame, *EvalError) {
	if len(keys) == 0 {
		return frame{}, errorf(KindSyntax, child(path, "keys"), "group_by requires at least one key")
	}

	names := outputNames{}
	items := make([]string, 0, len(keys)+len(aggs)+1)
	groups := make([]string, 0, len(keys))
	orders := make([]string, 0, len(keys))
	out := make([]column, 0, len(keys)+len(aggs))

	keyLowerer := lowerer{scope: in.scope, mode: modeRow}
	for i, named := range keys {
		p := element(path, "keys", i)
		if named.Expr == nil {
			return frame{}, errorf(KindSyntax, child(p, "expr"), "expression is required")
		}
		s := analyze(named.Expr)
		if s.aggregate || s.window {
			return frame{}, errorf(KindTypeMismatch, child(p, "expr"), "group_by keys cannot contain aggregations or window functions")
		}
		if len(s.free) == 0 {
			return frame{}, errorf(KindTypeMismatch, child(p, "expr"), "group_by keys must reference a column")
		}
		lowered, err := keyLowerer.lower(named.Expr, child(p, "expr"))
		if err != nil {
			return frame{}, err
		}
		name := outputName(named)
		if err := names.add(name, child(p, "name")); err != nil {
			return frame{}, err
		}
		items = append(items, lowered.sql+" AS "+quoteIdent(name))
		groups = append(groups, lowered.sql)
		orders = append(orders, lowered.sql+" ASC NULLS LAST")
		out = append(out, column{name: name, typ: lowered.typ})
	}

	aggLowerer := lowerer{scope: in.scope, mode: modeAggregate}
	for i, named := range aggs {
		p := element(path, "aggs", i)
		if named.Expr == nil {
			return frame{}, errorf(KindSyntax, child(p, "expr"), "expression is required")
		}
		if s := analyze(named.Expr); len(s.free) > 0 {
			return frame{}, errorf(KindTypeMismatch, child(p, "expr"), "column %q must be aggregated inside group_by", s.free[0])
		}
		lowered, err := aggLowerer.lower(named.Expr, child(p, "expr"))
		if err != nil {
			return frame{}, err
		}
		name := outputName(named)
		if err := names.add(name, child(p, "name")); err != nil {
			return frame{}, err
		}
		items = append(items, lowered.sql+" AS "+quoteIdent(name))
		out = append(out, column{name: name, typ: lowered.typ})
	}

	items = append(items, fmt.Sprintf("row_number() OVER (ORDER BY %s) AS %s", strings.Join(orders, ", "), quoteIdent(ordinalColumn)))
	return frame{
		sql:   fmt.Sprintf("SELECT %s FROM (%s) AS s GROUP BY %s", strings.Join(items, ", "), in.sql, strings.Join(groups, ", ")),
		scope: newScope(out),
	}, nil
}

func sortStep(in frame, by []plan.SortKey, path string) (frame, *EvalError) {
	if len(by) == 0 {
		return frame{}, errorf(KindSyntax, path, "sort requires at least one key")
	}
	orders := make([]string, 0, len(by)+1)
	for i, key := range by {
		name := key.Column
		if strings.TrimSpace(name) == "" {
			return frame{}, errorf(KindSyntax, indexed(path, i), "sort key column is required")
		}
		c, ok := in.scope.column(name)
		if !ok {
			return frame{}, errorf(KindUnknownColumn, indexed(path, i), "column %q does not exist; available columns: %s", name, in.scope.describe())
		}
		orders = append(orders, sortTerm(c.name, key.Descending))
	}
	orders = append(orders, quoteIdent(ordinalColumn))

	items := append(in.visible(), fmt.Sprintf("row_number() OVER (ORDER BY %s) AS %s", strings.Join(orders, ", "), quoteIdent(ordinalColumn)))
	return frame{sql: fmt.Sprintf("SELECT %s FROM (%s) AS s", strings.Join(items, ", "), in.sql), scope: in.scope}, nil
}

func limitStep(in frame, n *int, path string) (frame, *EvalError) {
	if n == nil {
		return frame{}, errorf(KindSyntax, path, "limit requires n")
	}
	if *n < 0 {
		return frame{}, errorf(KindSyntax, path, "limit n cannot be negative")
	}
	return frame{
		sql:   fmt.Sprintf("SELECT * FROM (%s) AS s ORDER BY %s LIMIT %s", in.sql, quoteIdent(ordinalColumn), strconv.Itoa(*n)),
		scope: in.scope,
	}, nil
}

func uniqueStep(in frame, subset []string, path string) (frame, *EvalError) {
	partitions := in.visible()
	if len(subset) > 0 {
		partitions = partitions[:0:0]
		for i, name := range subset {
			c, ok := in.scope.column(name)
			if !ok {
				return frame{}, errorf(KindUnknownColumn, indexed(path, i), "column %q does not exist; available columns: %s", name, in.scope.describe())
			}
			partitions = append(partitions, quoteIdent(c.name))
		}
	}
	return frame{
		sql: fmt.Sprintf("SELECT * FROM (%s) AS s QUALIFY row_number() OVER (PARTITION BY %s ORDER BY %s) = 1",
			in.sql, strings.Join(partitions, ", "), quoteIdent(ordinalColumn)),
		scope: in.scope,
	}, nil
}
