package sandbox

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/duckmesh/probe/internal/plan"
)

type mode int

const (
	// modeRow lowers expressions evaluated once per row. Aggregates without
	// an explicit window are broadcast over the whole frame.
	modeRow mode = iota
	// modeAggregate lowers expressions evaluated once per group.
	modeAggregate
)

type typedExpr struct {
	sql string
	typ plan.Type
}

type lowerer struct {
	scope *scope
	mode  mode
	// nested is set while lowering operands of an aggregate or window.
	nested bool
}

func (l lowerer) lower(e *plan.Expr, path string) (typedExpr, *EvalError) {
	if e == nil {
		return typedExpr{}, errorf(KindSyntax, path, "expression is required")
	}
	if e.Op == "" {
		return typedExpr{}, errorf(KindSyntax, child(path, "op"), "op is required")
	}
	fn, ok := l.scope.function(e.Op)
	if !ok {
		return typedExpr{}, errorf(KindDisallowedIdentifier, child(path, "op"), "%q is not an allowed operation", e.Op)
	}
	if n := len(e.Args); n < fn.minArgs || (fn.maxArgs != unbounded && n > fn.maxArgs) {
		return typedExpr{}, errorf(KindSyntax, child(path, "args"), "%s takes %s, got %d", e.Op, arity(fn), n)
	}
	if e.Over != nil && fn.class != classAggregate && fn.class != classWindow {
		return typedExpr{}, errorf(KindSyntax, child(path, "over"), "over is only valid on aggregate and window operations, not %s", e.Op)
	}

	switch fn.class {
	case classLeaf:
		return l.leaf(e, path)
	case classAggregate:
		if e.Over != nil || l.mode == modeRow {
			return l.window(e, fn, path)
		}
		return l.aggregate(e, path)
	case classWindow:
		return l.window(e, fn, path)
	default:
		return l.scalar(e, path)
	}
}

func arity(fn function) string {
	switch {
	case fn.maxArgs == unbounded:
		return "at least " + strconv.Itoa(fn.minArgs) + " arguments"
	case fn.minArgs == fn.maxArgs && fn.minArgs == 1:
		return "1 argument"
	case fn.minArgs == fn.maxArgs:
		return strconv.Itoa(fn.minArgs) + " arguments"
	default:
		return strconv.Itoa(fn.minArgs) + " to " + strconv.Itoa(fn.maxArgs) + " arguments"
	}
}

func (l lowerer) operands(e *plan.Expr, path string) ([]typedExpr, *EvalError) {
	out := make([]typedExpr, 0, len(e.Args))
	for i, arg := range e.Args {
		lowered, err := l.lower(arg, element(path, "args", i))
		if err != nil {
			return nil, err
		}
		out = append(out, lowered)
	}
	return out, nil
}

func (l lowerer) leaf(e *plan.Expr, path string) (typedExpr, *EvalError) {
	if e.Op == "col" {
		name := e.Name
		if strings.TrimSpace(name) == "" {
			return typedExpr{}, errorf(KindSyntax, child(path, "name"), "col requires a column name")
		}
		c, ok := l.scope.column(name)
		if !ok {
			return typedExpr{}, errorf(KindUnknownColumn, child(path, "name"), "column %q does not exist; available columns: %s", name, l.scope.describe())
		}
		return typedExpr{sql: quoteIdent(c.name), typ: c.typ}, nil
	}

	value, err := literal(e.Value, child(path, "value"))
	if err != nil {
		return typedExpr{}, err
	}
	if e.Dtype == "" {
		return value, nil
	}
	target, ok := plan.ParseType(e.Dtype)
	if !ok {
		return typedExpr{}, errorf(KindSyntax, child(path, "dtype"), "unknown dtype %q", e.Dtype)
	}
	return typedExpr{sql: castTo(value.sql, target.SQL()), typ: target}, nil
}

func literal(raw json.RawMessage, path string) (typedExpr, *EvalError) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return typedExpr{sql: "NULL", typ: plan.TypeNull}, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return typedExpr{}, errorf(KindSyntax, path, "invalid literal: %v", err)
	}

	switch typed := value.(type) {
	case nil:
		return typedExpr{sql: "NULL", typ: plan.TypeNull}, nil
	case bool:
		if typed {
			return typedExpr{sql: "TRUE", typ: plan.TypeBool}, nil
		}
		return typedExpr{sql: "FALSE", typ: plan.TypeBool}, nil
	case string:
		return typedExpr{sql: quoteString(typed), typ: plan.TypeString}, nil
	case json.Number:
		text := typed.String()
		if !strings.ContainsAny(text, ".eE") {
			if i, err := typed.Int64(); err == nil {
				return typedExpr{sql: "(" + strconv.FormatInt(i, 10) + ")", typ: plan.TypeInt}, nil
			}
		}
		f, err := typed.Float64()
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return typedExpr{}, errorf(KindSyntax, path, "numeric literal %s is out of range", text)
		}
		return typedExpr{sql: castTo(strconv.FormatFloat(f, 'g', -1, 64), "DOUBLE"), typ: plan.TypeFloat}, nil
	default:
		return typedExpr{}, errorf(KindSyntax, path, "literal must be a string, number, boolean or null")
	}
}

func (l lowerer) scalar(e *plan.Expr, path string) (typedExpr, *EvalError) {
	args, err := l.operands(e, path)
	if err != nil {
		return typedExpr{}, err
	}
	argPath := func(i int) string { return element(path, "args", i) }

	switch e.Op {
	case "add", "sub", "mul", "div", "mod":
		return arithmetic(e.Op, args[0], args[1], path)
	case "neg":
		if err := expect(args[0], argPath(0), e.Op, plan.Type.Numeric, "a numeric operand"); err != nil {
			return typedExpr{}, err
		}
		return typedExpr{sql: "(-" + args[0].sql + ")", typ: args[0].typ}, nil

	case "eq", "ne", "lt", "le", "gt", "ge":
		if !comparable(args[0].typ, args[1].typ) {
			return typedExpr{}, errorf(KindTypeMismatch, path, "cannot compare %s with %s", args[0].typ, args[1].typ)
		}
		return typedExpr{sql: "(" + args[0].sql + " " + comparisonOperators[e.Op] + " " + args[1].sql + ")", typ: plan.TypeBool}, nil
	case "is_null":
		return typedExpr{sql: "(" + args[0].sql + " IS NULL)", typ: plan.TypeBool}, nil
	case "is_not_null":
		return typedExpr{sql: "(" + args[0].sql + " IS NOT NULL)", typ: plan.TypeBool}, nil
	case "is_in":
		return isIn(e, args[0], path)

	case "and", "or":
		parts := make([]string, 0, len(args))
		for i, arg := range args {
			if err := expect(arg, argPath(i), e.Op, isBool, "boolean operands"); err != nil {
				return typedExpr{}, err
			}
			parts = append(parts, arg.sql)
		}
		return typedExpr{sql: "(" + strings.Join(parts, " "+strings.ToUpper(e.Op)+" ") + ")", typ: plan.TypeBool}, nil
	case "not":
		if err := expect(args[0], argPath(0), e.Op, isBool, "a boolean operand"); err != nil {
			return typedExpr{}, err
		}
		return typedExpr{sql: "(NOT " + args[0].sql + ")", typ: plan.TypeBool}, nil

	case "abs":
		if err := expect(args[0], argPath(0), e.Op, plan.Type.Numeric, "a numeric operand"); err != nil {
			return typedExpr{}, err
		}
		return typedExpr{sql: call("abs", args[0].sql), typ: args[0].typ}, nil
	case "round":
		if err := expect(args[0], argPath(0), e.Op, plan.Type.Numeric, "a numeric operand"); err != nil {
			return typedExpr{}, err
		}
		digits := 0
		if e.Digits != nil {
			digits = *e.Digits
		}
		return typedExpr{sql: call("round", args[0].sql, strconv.Itoa(digits)), typ: args[0].typ}, nil
	case "length":
		if err := expect(args[0], argPath(0), e.Op, isString, "a string operand"); err != nil {
			return typedExpr{}, err
		}
		return typedExpr{sql: call("length", args[0].sql), typ: plan.TypeInt}, nil
	case "cast":
		target, ok := plan.ParseType(e.Dtype)
		if !ok {
			return typedExpr{}, errorf(KindSyntax, child(path, "dtype"), "cast requires a known dtype, got %q", e.Dtype)
		}
		return typedExpr{sql: castTo(args[0].sql, target.SQL()), typ: target}, nil
	case "least", "greatest", "fill_null":
		typ, err := unify(args, path, e.Op)
		if err != nil {
			return typedExpr{}, err
		}
		name := e.Op
		if name == "fill_null" {
			name = "coalesce"
		}
		return typedExpr{sql: call(name, sqlOf(args)...), typ: typ}, nil
	case "when":
		if err := expect(args[0], argPath(0), e.Op, isBool, "a boolean condition"); err != nil {
			return typedExpr{}, err
		}
		typ, err := unify(args[1:], path, e.Op)
		if err != nil {
			return typedExpr{}, err
		}
		otherwise := "NULL"
		if len(args) == 3 {
			otherwise = args[2].sql
		}
		return typedExpr{sql: "CASE WHEN " + args[0].sql + " THEN " + args[1].sql + " ELSE " + otherwise + " END", typ: typ}, nil

	case "lower", "upper", "strip":
		if err := expect(args[0], argPath(0), e.Op, isString, "a string operand"); err != nil {
			return typedExpr{}, err
		}
		name := e.Op
		if name == "strip" {
			name = "trim"
		}
		return typedExpr{sql: call(name, args[0].sql), typ: plan.TypeString}, nil
	case "contains", "starts_with", "ends_with", "replace":
		return stringMatch(e, args[0], path)
	case "concat":
		return typedExpr{sql: call("concat", sqlOf(args)...), typ: plan.TypeString}, nil
	case "slice":
		if err := expect(args[0], argPath(0), e.Op, isString, "a string operand"); err != nil {
			return typedExpr{}, err
		}
		if e.Offset == nil {
			return typedExpr{}, errorf(KindSyntax, child(path, "offset"), "slice requires an offset")
		}
		start := *e.Offset
		if start >= 0 {
			start++
		}
		if e.Length == nil {
			return typedExpr{sql: call("substring", args[0].sql, strconv.Itoa(start)), typ: plan.TypeString}, nil
		}
		if *e.Length < 0 {
			return typedExpr{}, errorf(KindSyntax, child(path, "length"), "slice length cannot be negative")
		}
		return typedExpr{sql: call("substring", args[0].sql, strconv.Itoa(start), strconv.Itoa(*e.Length)), typ: plan.TypeString}, nil

	default:
		return temporal(e, args[0], path)
	}
}

var comparisonOperators = map[string]string{
	"eq": "=",
	"ne": "<>",
	"lt": "<",
	"le": "<=",
	"gt": ">",
	"ge": ">=",
}

func arithmetic(op string, left, right typedExpr, path string) (typedExpr, *EvalError) {
	if op == "add" && isString(left.typ) && isString(right.typ) && (left.typ == plan.TypeString || right.typ == plan.TypeString) {
		return typedExpr{sql: "(" + left.sql + " || " + right.sql + ")", typ: plan.TypeString}, nil
	}
	if !numericOrNull(left.typ) || !numericOrNull(right.typ) {
		return typedExpr{}, errorf(KindTypeMismatch, path, "%s expects numeric operands, got %s and %s", op, left.typ, right.typ)
	}

	typ := plan.TypeNull
	switch {
	case left.typ == plan.TypeFloat || right.typ == plan.TypeFloat:
		typ = plan.TypeFloat
	case left.typ == plan.TypeInt || right.typ == plan.TypeInt:
		typ = plan.TypeInt
	}

	switch op {
	case "div":
		return typedExpr{sql: "(" + castTo(left.sql, "DOUBLE") + " / " + right.sql + ")", typ: plan.TypeFloat}, nil
	case "mod":
		return typedExpr{sql: "(" + left.sql + " % " + right.sql + ")", typ: typ}, nil
	}
	symbol := map[string]string{"add": "+", "sub": "-", "mul": "*"}[op]
	return typedExpr{sql: "(" + left.sql + " " + symbol + " " + right.sql + ")", typ: typ}, nil
}

func isIn(e *plan.Expr, subject typedExpr, path string) (typedExpr, *EvalError) {
	if len(e.Values) == 0 {
		return typedExpr{}, errorf(KindSyntax, child(path, "values"), "is_in requires at least one value")
	}
	items := make([]string, 0, len(e.Values))
	for i, raw := range e.Values {
		value, err := literal(raw, element(path, "values", i))
		if err != nil {
			return typedExpr{}, err
		}
		if !comparable(subject.typ, value.typ) {
			return typedExpr{}, errorf(KindTypeMismatch, element(path, "values", i), "cannot compare %s with %s", subject.typ, value.typ)
		}
		items = append(items, value.sql)
	}
	return typedExpr{sql: "(" + subject.sql + " IN (" + strings.Join(items, ", ") + "))", typ: plan.TypeBool}, nil
}

func stringMatch(e *plan.Expr, subject typedExpr, path string) (typedExpr, *EvalError) {
	if err := expect(subject, element(path, "args", 0), e.Op, isString, "a string operand"); err != nil {
		return typedExpr{}, err
	}
	if e.Pattern == "" {
		return typedExpr{}, errorf(KindSyntax, child(path, "pattern"), "%s requires a pattern", e.Op)
	}
	pattern := quoteString(e.Pattern)

	switch e.Op {
	case "starts_with":
		return typedExpr{sql: call("starts_with", subject.sql, pattern), typ: plan.TypeBool}, nil
	case "ends_with":
		return typedExpr{sql: call("suffix", subject.sql, pattern), typ: plan.TypeBool}, nil
	}

	if !e.Literal {
		if _, err := regexp.Compile(e.Pattern); err != nil {
			return typedExpr{}, errorf(KindSyntax, child(path, "pattern"), "invalid regular expression: %v", err)
		}
	}
	if e.Op == "contains" {
		if e.Literal {
			return typedExpr{sql: call("contains", subject.sql, pattern), typ: plan.TypeBool}, nil
		}
		return typedExpr{sql: call("regexp_matches", subject.sql, pattern), typ: plan.TypeBool}, nil
	}
	if e.Literal {
		return typedExpr{sql: call("replace", subject.sql, pattern, quoteString(e.With)), typ: plan.TypeString}, nil
	}
	return typedExpr{sql: call("regexp_replace", subject.sql, pattern, quoteString(e.With)), typ: plan.TypeString}, nil
}

var truncateUnits = map[string]string{
	"year": "year", "y": "year", "1y": "year",
	"quarter": "quarter", "q": "quarter", "1q": "quarter",
	"month": "month", "mo": "month", "1mo": "month",
	"week": "week", "w": "week", "1w": "week",
	"day": "day", "d": "day", "1d": "day",
	"hour": "hour", "h": "hour", "1h": "hour",
	"minute": "minute", "m": "minute", "1m": "minute",
	"second": "second", "s": "second", "1s": "second",
}

func temporal(e *plan.Expr, subject typedExpr, path string) (typedExpr, *EvalError) {
	argPath := element(path, "args", 0)
	switch e.Op {
	case "to_date":
		switch subject.typ {
		case plan.TypeDate:
			return subject, nil
		case plan.TypeString, plan.TypeNull:
			if e.Format != "" {
				return typedExpr{sql: castTo(call("strptime", subject.sql, quoteString(e.Format)), "DATE"), typ: plan.TypeDate}, nil
			}
			return typedExpr{sql: castTo(subject.sql, "DATE"), typ: plan.TypeDate}, nil
		case plan.TypeTimestamp:
			return typedExpr{sql: castTo(subject.sql, "DATE"), typ: plan.TypeDate}, nil
		}
		return typedExpr{}, errorf(KindTypeMismatch, argPath, "to_date expects a string or temporal operand, got %s", subject.typ)
	case "to_datetime":
		switch subject.typ {
		case plan.TypeTimestamp:
			return subject, nil
		case plan.TypeString, plan.TypeNull:
			if e.Format != "" {
				return typedExpr{sql: call("strptime", subject.sql, quoteString(e.Format)), typ: plan.TypeTimestamp}, nil
			}
			return typedExpr{sql: castTo(subject.sql, "TIMESTAMP"), typ: plan.TypeTimestamp}, nil
		case plan.TypeDate:
			return typedExpr{sql: castTo(subject.sql, "TIMESTAMP"), typ: plan.TypeTimestamp}, nil
		}
		return typedExpr{}, errorf(KindTypeMismatch, argPath, "to_datetime expects a string or temporal operand, got %s", subject.typ)
	}

	if err := expect(subject, argPath, e.Op, plan.Type.Temporal, "a date or datetime operand"); err != nil {
		return typedExpr{}, err
	}
	switch e.Op {
	case "year", "month", "day", "hour":
		return typedExpr{sql: call(e.Op, subject.sql), typ: plan.TypeInt}, nil
	case "weekday":
		return typedExpr{sql: call("isodow", subject.sql), typ: plan.TypeInt}, nil
	case "strftime":
		if e.Format == "" {
			return typedExpr{}, errorf(KindSyntax, child(path, "format"), "strftime requires a format")
		}
		return typedExpr{sql: call("strftime", subject.sql, quoteString(e.Format)), typ: plan.TypeString}, nil
	case "truncate":
		unit, ok := truncateUnits[strings.ToLower(strings.TrimSpace(e.Unit))]
		if !ok {
			return typedExpr{}, errorf(KindSyntax, child(path, "unit"), "unknown truncate unit %q", e.Unit)
		}
		typ := subject.typ
		if typ == plan.TypeNull {
			typ = plan.TypeTimestamp
		}
		return typedExpr{sql: castTo(call("date_trunc", quoteString(unit), subject.sql), typ.SQL()), typ: typ}, nil
	}
	return typedExpr{}, errorf(KindDisallowedIdentifier, child(path, "op"), "%q is not an allowed operation", e.Op)
}

// aggregate lowers an aggregate evaluated once per group.
func (l lowerer) aggregate(e *plan.Expr, path string) (typedExpr, *EvalError) {
	if l.nested {
		return typedExpr{}, errorf(KindTypeMismatch, path, "aggregation %s cannot be nested inside another aggregation or window", e.Op)
	}
	args, err := l.inner().operands(e, path)
	if err != nil {
		return typedExpr{}, err
	}
	switch e.Op {
	case "first":
		return typedExpr{sql: call("arg_min", args[0].sql, quoteIdent(ordinalColumn)), typ: args[0].typ}, nil
	case "last":
		return typedExpr{sql: call("arg_max", args[0].sql, quoteIdent(ordinalColumn)), typ: args[0].typ}, nil
	}
	agg, err := aggregateCall(e.Op, args, path)
	if err != nil {
		return typedExpr{}, err
	}
	return agg.finish(), nil
}

func (l lowerer) inner() lowerer {
	return lowerer{scope: l.scope, mode: modeRow, nested: true}
}

type aggregateSQL struct {
	sql  string
	typ  plan.Type
	cast string
}

func (a aggregateSQL) finish() typedExpr {
	return a.render(a.sql)
}

func (a aggregateSQL) over(spec string) typedExpr {
	return a.render(a.sql + " OVER (" + spec + ")")
}

func (a aggregateSQL) render(sqlText string) typedExpr {
	if a.cast != "" {
		sqlText = castTo(sqlText, a.cast)
	}
	return typedExpr{sql: sqlText, typ: a.typ}
}

func aggregateCall(op string, args []typedExpr, path string) (aggregateSQL, *EvalError) {
	if op == "count" {
		if len(args) == 0 {
			return aggregateSQL{sql: "count(*)", typ: plan.TypeInt}, nil
		}
		return aggregateSQL{sql: call("count", args[0].sql), typ: plan.TypeInt}, nil
	}

	subject := args[0]
	argPath := element(path, "args", 0)
	switch op {
	case "sum":
		switch subject.typ {
		case plan.TypeInt:
			return aggregateSQL{sql: call("sum", subject.sql), typ: plan.TypeInt, cast: "BIGINT"}, nil
		case plan.TypeBool:
			return aggregateSQL{sql: call("sum", castTo(subject.sql, "INTEGER")), typ: plan.TypeInt, cast: "BIGINT"}, nil
		case plan.TypeFloat, plan.TypeNull:
			return aggregateSQL{sql: call("sum", subject.sql), typ: plan.TypeFloat, cast: "DOUBLE"}, nil
		}
		return aggregateSQL{}, errorf(KindTypeMismatch, argPath, "sum expects a numeric operand, got %s", subject.typ)
	case "mean", "median", "std":
		if err := expect(subject, argPath, op, plan.Type.Numeric, "a numeric operand"); err != nil {
			return aggregateSQL{}, err
		}
		name := map[string]string{"mean": "avg", "median": "median", "std": "stddev_samp"}[op]
		return aggregateSQL{sql: call(name, subject.sql), typ: plan.TypeFloat, cast: "DOUBLE"}, nil
	case "min", "max":
		if subject.typ == plan.TypeOther {
			return aggregateSQL{}, errorf(KindTypeMismatch, argPath, "%s cannot order values of type %s", op, subject.typ)
		}
		return aggregateSQL{sql: call(op, subject.sql), typ: subject.typ}, nil
	case "n_unique":
		return aggregateSQL{sql: "count(DISTINCT " + subject.sql + ")", typ: plan.TypeInt}, nil
	}
	return aggregateSQL{}, errorf(KindDisallowedIdentifier, child(path, "op"), "%q is not an allowed aggregation", op)
}

const (
	wholePartition = "ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING"
	runningFrame   = "ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW"
)

// window lowers window functions and aggregates evaluated per row.
func (l lowerer) window(e *plan.Expr, fn function, path string) (typedExpr, *EvalError) {
	if l.mode == modeAggregate {
		return typedExpr{}, errorf(KindTypeMismatch, path, "window expression %s is not allowed in an aggregation", e.Op)
	}
	if l.nested {
		return typedExpr{}, errorf(KindTypeMismatch, path, "%s cannot be nested inside another aggregation or window", e.Op)
	}
	args, err := l.inner().operands(e, path)
	if err != nil {
		return typedExpr{}, err
	}

	if fn.class == classAggregate {
		switch e.Op {
		case "first", "last":
			spec, err := l.windowSpec(e.Over, path, nil, true, wholePartition)
			if err != nil {
				return typedExpr{}, err
			}
			name := map[string]string{"first": "first_value", "last": "last_value"}[e.Op]
			return typedExpr{sql: call(name, args[0].sql) + " OVER (" + spec + ")", typ: args[0].typ}, nil
		}
		agg, err := aggregateCall(e.Op, args, path)
		if err != nil {
			return typedExpr{}, err
		}
		ordered := e.Over != nil && len(e.Over.OrderBy) > 0
		bounds := ""
		if ordered {
			bounds = wholePartition
		}
		spec, err := l.windowSpec(e.Over, path, nil, ordered, bounds)
		if err != nil {
			return typedExpr{}, err
		}
		return agg.over(spec), nil
	}

	switch e.Op {
	case "row_number":
		spec, err := l.windowSpec(e.Over, path, nil, true, "")
		if err != nil {
			return typedExpr{}, err
		}
		return typedExpr{sql: "row_number() OVER (" + spec + ")", typ: plan.TypeInt}, nil
	case "rank", "dense_rank":
		if args[0].typ == plan.TypeOther {
			return typedExpr{}, errorf(KindTypeMismatch, element(path, "args", 0), "%s cannot order values of type %s", e.Op, args[0].typ)
		}
		direction := " ASC NULLS LAST"
		if e.Descending {
			direction = " DESC NULLS LAST"
		}
		spec, err := l.windowSpec(e.Over, path, []string{args[0].sql + direction}, false, "")
		if err != nil {
			return typedExpr{}, err
		}
		return typedExpr{sql: castTo(e.Op+"() OVER ("+spec+")", "BIGINT"), typ: plan.TypeInt}, nil
	case "shift":
		offset := 1
		if e.Offset != nil {
			offset = *e.Offset
		}
		spec, err := l.windowSpec(e.Over, path, nil, true, "")
		if err != nil {
			return typedExpr{}, err
		}
		name := "lag"
		if offset < 0 {
			name, offset = "lead", -offset
		}
		return typedExpr{sql: call(name, args[0].sql, strconv.Itoa(offset)) + " OVER (" + spec + ")", typ: args[0].typ}, nil
	case "cum_sum":
		agg, err := aggregateCall("sum", args, path)
		if err != nil {
			return typedExpr{}, err
		}
		spec, err := l.windowSpec(e.Over, path, nil, true, runningFrame)
		if err != nil {
			return typedExpr{}, err
		}
		return agg.over(spec), nil
	}
	return typedExpr{}, errorf(KindDisallowedIdentifier, child(path, "op"), "%q is not an allowed window function", e.Op)
}

// windowSpec renders the inside of an OVER clause. When ordered is set the
// frame's row order breaks ties so results are deterministic.
func (l lowerer) windowSpec(over *plan.Window, path string, leading []string, ordered bool, bounds string) (string, *EvalError) {
	var clauses []string
	orders := append([]string(nil), leading...)

	if over != nil {
		overPath := child(path, "over")
		partitions := make([]string, 0, len(over.PartitionBy))
		for i, part := range over.PartitionBy {
			lowered, err := l.inner().lower(part, element(overPath, "partition_by", i))
			if err != nil {
				return "", err
			}
			partitions = append(partitions, lowered.sql)
		}
		if len(partitions) > 0 {
			clauses = append(clauses, "PARTITION BY "+strings.Join(partitions, ", "))
		}
		for i, key := range over.OrderBy {
			c, ok := l.scope.column(key.Column)
			if !ok {
				return "", errorf(KindUnknownColumn, element(overPath, "order_by", i), "column %q does not exist; available columns: %s", key.Column, l.scope.describe())
			}
			orders = append(orders, sortTerm(c.name, key.Descending))
		}
	}
	if ordered {
		orders = append(orders, quoteIdent(ordinalColumn))
	}
	if len(orders) > 0 {
		clauses = append(clauses, "ORDER BY "+strings.Join(orders, ", "))
		if bounds != "" {
			clauses = append(clauses, bounds)
		}
	}
	return strings.Join(clauses, " "), nil
}

func sortTerm(name string, descending bool) string {
	if descending {
		return quoteIdent(name) + " DESC NULLS FIRST"
	}
	return quoteIdent(name) + " ASC NULLS FIRST"
}

func expect(value typedExpr, path, op string, accept func(plan.Type) bool, want string) *EvalError {
	if value.typ == plan.TypeNull || accept(value.typ) {
		return nil
	}
	return errorf(KindTypeMismatch, path, "%s expects %s, got %s", op, want, value.typ)
}

func isBool(t plan.Type) bool { return t == plan.TypeBool }

func isString(t plan.Type) bool { return t == plan.TypeString || t == plan.TypeNull }

func numericOrNull(t plan.Type) bool { return t.Numeric() || t == plan.TypeNull }

func comparable(a, b plan.Type) bool {
	switch {
	case a == plan.TypeNull || b == plan.TypeNull:
		return true
	case a == plan.TypeOther || b == plan.TypeOther:
		return false
	case a == b:
		return true
	case a.Numeric() && b.Numeric():
		return true
	case a.Temporal() && (b.Temporal() || b == plan.TypeString):
		return true
	case b.Temporal() && a == plan.TypeString:
		return true
	}
	return false
}

func unify(args []typedExpr, path, op string) (plan.Type, *EvalError) {
	result := plan.TypeNull
	for _, arg := range args {
		switch {
		case arg.typ == plan.TypeNull:
		case result == plan.TypeNull || result == arg.typ:
			result = arg.typ
		case result.Numeric() && arg.typ.Numeric():
			result = plan.TypeFloat
		case result.Temporal() && arg.typ.Temporal():
			result = plan.TypeTimestamp
		default:
			return plan.TypeNull, errorf(KindTypeMismatch, path, "%s operands have incompatible types %s and %s", op, result, arg.typ)
		}
	}
	return result, nil
}

func sqlOf(values []typedExpr) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, value.sql)
	}
	return out
}
