package probe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/duckmesh/probe/internal/sandbox"
	"github.com/duckmesh/probe/internal/source"
)

// NoDataAnswer is returned for empty result tables without asking a model.
const NoDataAnswer = "There is no data matching your query. You may want to try a different query or modify your search criteria."

const planReference = `A plan is one JSON object. It is either an expression over the table:

  {"kind": "expression", "name": "<output column>", "expr": <expr>}

or a pipeline of steps applied to the table in order:

  {"kind": "pipeline", "steps": [<step>, ...]}

Steps:
  {"op": "select", "columns": [{"name": "<output>", "expr": <expr>}, ...]}
  {"op": "filter", "predicate": <boolean expr>}
  {"op": "with_columns", "columns": [{"name": "<output>", "expr": <expr>}, ...]}
  {"op": "group_by", "keys": [{"name": "<output>", "expr": <expr>}, ...], "aggs": [{"name": "<output>", "expr": <aggregate expr>}, ...]}
  {"op": "sort", "by": [{"column": "<column>", "descending": true}, ...]}
  {"op": "limit", "n": <non-negative integer>}
  {"op": "unique", "subset": ["<column>", ...]}

Expressions are objects with an "op" and, for most ops, "args":
  {"op": "col", "name": "<column>"}
  {"op": "lit", "value": <json value>}
  arithmetic: add, sub, mul, div, mod, neg
  comparison: eq, ne, lt, le, gt, ge, is_null, is_not_null, is_in (with "values": [...])
  logical: and, or, not
  scalar: abs, round (with "digits"), length, cast (with "dtype": i64|f64|str|bool|date|datetime), least, greatest, fill_null, when (condition, then, otherwise)
  string: lower, upper, strip, contains (with "pattern", "literal"), starts_with, ends_with (with "pattern"), replace (with "pattern", "with"), concat, slice (with "offset", "length")
  date: to_date, to_datetime (with "format"), year, month, day, weekday, hour, strftime (with "format"), truncate (with "unit")
  aggregate: sum, mean, median, min, max, count, n_unique, std, first, last
  window: rank, dense_rank, row_number, shift (with "offset"), cum_sum, or any aggregate, each with "over": {"partition_by": [<expr>, ...], "order_by": [{"column": "<column>", "descending": false}]}

Example for "total revenue by product":
{"kind": "pipeline", "steps": [
  {"op": "with_columns", "columns": [{"name": "revenue", "expr": {"op": "mul", "args": [{"op": "col", "name": "quantity"}, {"op": "col", "name": "unit_price"}]}}]},
  {"op": "group_by", "keys": [{"expr": {"op": "col", "name": "product"}}], "aggs": [{"name": "total_revenue", "expr": {"op": "sum", "args": [{"op": "col", "name": "revenue"}]}}]},
  {"op": "sort", "by": [{"column": "total_revenue", "descending": true}]}
]}`

const planRules = `Rules:
1. Use only the columns listed in the schema, or columns created by earlier steps.
2. Reply with exactly one plan and nothing else: no prose, no comments, no markdown fences.
3. Do not invent values or rows. Every output column name must be unique.
4. Parse text dates with to_date or to_datetime before using date operations.`

const translateInstructions = `You turn a result table into a short natural-language answer to the user's query.
Answer the query directly from the table content. Do not mention the table, its rendering or phrases like "the data shows".
If the table has no rows, say there is no matching data and invite the user to try a different query.`

func generationSystemPrompt(schema []source.Column, sample []any) string {
	var b strings.Builder
	b.WriteString("You convert analytics questions into query plans over a single table named df.\n\n")
	b.WriteString("Schema:\n")
	b.WriteString(describeSchema(schema))
	b.WriteString("\nSample row:\n")
	b.WriteString(describeSample(schema, sample))
	b.WriteString("\n")
	b.WriteString(planReference)
	b.WriteString("\n\n")
	b.WriteString(planRules)
	return b.String()
}

func correctionSystemPrompt(schema []source.Column) string {
	var b strings.Builder
	b.WriteString("You fix query plans that failed validation. Return the corrected plan for the same question.\n\n")
	b.WriteString("Schema:\n")
	b.WriteString(describeSchema(schema))
	b.WriteString("\n")
	b.WriteString(planReference)
	b.WriteString("\n\n")
	b.WriteString(planRules)
	return b.String()
}

func correctionMessage(query string, failed Candidate) string {
	var b strings.Builder
	if query != "" {
		fmt.Fprintf(&b, "Question: %s\n\n", query)
	}
	fmt.Fprintf(&b, "Plan:\n%s\n\nError:\n%s", strings.TrimSpace(failed.Code), describeEvalError(failed.Err))
	return b.String()
}

func translationMessage(query, rendered string) string {
	return fmt.Sprintf("Query: %s\n\nTable:\n%s", query, rendered)
}

func describeSchema(schema []source.Column) string {
	var b strings.Builder
	for _, column := range schema {
		fmt.Fprintf(&b, "  %s: %s\n", column.Name, column.Type)
	}
	return b.String()
}

func describeSample(schema []source.Column, sample []any) string {
	if len(sample) == 0 {
		return "  (the table is empty)\n"
	}
	var b strings.Builder
	for i, column := range schema {
		if i >= len(sample) {
			break
		}
		fmt.Fprintf(&b, "  %s: %s\n", column.Name, describeValue(sample[i]))
	}
	return b.String()
}

func describeValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(typed)
	case time.Time:
		return typed.Format(time.RFC3339)
	default:
		return fmt.Sprint(typed)
	}
}

func describeEvalError(err *sandbox.EvalError) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
