package plan

import (
	"errors"
	"testing"
)

func TestParsePipelineWithAliases(t *testing.T) {
	code := "```json\n" + `{"kind":"pipeline","steps":[
		{"op":"where","predicate":{"op":"gt","args":[{"op":"col","name":"quantity"},{"op":"lit","value":1}]}},
		{"op":"groupby","keys":[{"expr":{"op":"column","name":"product"}}],"aggs":[{"name":"avg_price","expr":{"op":"AVG","args":[{"op":"col","name":"unit_price"}]}}]},
		{"op":"head","n":3}
	]}` + "\n```"

	p, err := Parse(code)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if p.Kind != KindPipeline {
		t.Fatalf("Kind = %q", p.Kind)
	}
	wantOps := []string{StepFilter, StepGroupBy, StepLimit}
	for i, want := range wantOps {
		if p.Steps[i].Op != want {
			t.Fatalf("Steps[%d].Op = %q, want %q", i, p.Steps[i].Op, want)
		}
	}
	if got := p.Steps[1].Keys[0].Expr.Op; got != "col" {
		t.Fatalf("key op = %q, want col", got)
	}
	if got := p.Steps[1].Aggs[0].Expr.Op; got != "mean" {
		t.Fatalf("agg op = %q, want mean", got)
	}
	if p.Steps[2].N == nil || *p.Steps[2].N != 3 {
		t.Fatalf("limit n = %v", p.Steps[2].N)
	}
}

func TestParseInfersKind(t *testing.T) {
	p, err := Parse(`{"expr":{"op":"sum","args":[{"op":"col","name":"amount"}]}}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if p.Kind != KindExpression {
		t.Fatalf("Kind = %q, want expression", p.Kind)
	}

	p, err = Parse(`{"steps":[{"op":"limit","n":1}]}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if p.Kind != KindPipeline {
		t.Fatalf("Kind = %q, want pipeline", p.Kind)
	}
}

func TestParseRejectsMalformedPlans(t *testing.T) {
	tests := map[string]string{
		"empty":           "   ",
		"not json":        `df.group_by("product").agg(pl.sum("revenue"))`,
		"unknown field":   `{"kind":"expression","expr":{"op":"col","name":"a","eval":"rm -rf"}}`,
		"trailing":        `{"kind":"expression","expr":{"op":"col","name":"a"}} {"kind":"pipeline"}`,
		"wrong type":      `{"kind":"pipeline","steps":[{"op":"limit","n":"ten"}]}`,
		"both shapes":     `{"expr":{"op":"col","name":"a"},"steps":[{"op":"limit","n":1}]}`,
		"empty pipeline":  `{"kind":"pipeline","steps":[]}`,
		"unknown kind":    `{"kind":"script","expr":{"op":"col","name":"a"}}`,
		"truncated":       `{"kind":"pipeline","steps":[`,
		"missing expr":    `{"kind":"expression"}`,
		"expr with steps": `{"kind":"expression","expr":{"op":"col","name":"a"},"steps":[{"op":"limit","n":1}]}`,
	}
	for name, code := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(code)
			if err == nil {
				t.Fatal("Parse() expected error")
			}
			if !errors.Is(err, ErrSyntax) {
				t.Fatalf("Parse() error = %v, want ErrSyntax", err)
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
		"```{\"a\":1}```":         `{"a":1}`,
	}
	for input, want := range tests {
		if got := StripFences(input); got != want {
			t.Fatalf("StripFences(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestExprColumnsInFirstSeenOrder(t *testing.T) {
	p, err := Parse(`{"kind":"expression","expr":{"op":"add","args":[
		{"op":"col","name":"b"},
		{"op":"mul","args":[{"op":"col","name":"a"},{"op":"col","name":"b"}]}
	]}}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := p.Expr.Columns()
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("Columns() = %v, want [b a]", got)
	}
}

func TestTypeFromDuckDB(t *testing.T) {
	tests := map[string]Type{
		"BIGINT":                   TypeInt,
		"HUGEINT":                  TypeInt,
		"DOUBLE":                   TypeFloat,
		"DECIMAL(18,3)":            TypeFloat,
		"VARCHAR":                  TypeString,
		"BOOLEAN":                  TypeBool,
		"DATE":                     TypeDate,
		"TIMESTAMP WITH TIME ZONE": TypeTimestamp,
		"INTEGER[]":                TypeOther,
	}
	for input, want := range tests {
		if got := TypeFromDuckDB(input); got != want {
			t.Fatalf("TypeFromDuckDB(%q) = %v, want %v", input, got, want)
		}
	}
}
