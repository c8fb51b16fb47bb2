package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrSyntax = errors.New("plan syntax error")

type SyntaxError struct {
	Path string
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return e.Path + ": " + e.Msg
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

var stepAliases = map[string]string{
	"groupby":  StepGroupBy,
	"where":    StepFilter,
	"order_by": StepSort,
	"sort_by":  StepSort,
	"head":     StepLimit,
	"distinct": StepUnique,
}

var exprAliases = map[string]string{
	"column":         "col",
	"literal":        "lit",
	"avg":            "mean",
	"len":            "count",
	"count_distinct": "n_unique",
	"groupby":        "group_by",
}

// Parse decodes model output into a plan. Markdown fences are stripped and
// unknown fields are rejected.
func Parse(code string) (Plan, error) {
	body := StripFences(code)
	if body == "" {
		return Plan{}, &SyntaxError{Msg: "empty plan"}
	}

	decoder := json.NewDecoder(strings.NewReader(body))
	decoder.DisallowUnknownFields()

	var p Plan
	if err := decoder.Decode(&p); err != nil {
		return Plan{}, decodeError(err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return Plan{}, &SyntaxError{Msg: "unexpected content after plan"}
	}

	if err := normalize(&p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag.
func StripFences(code string) string {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		tag := strings.TrimSpace(trimmed[:newline])
		if tag == "" || !strings.ContainsAny(tag, "{[") {
			trimmed = trimmed[newline+1:]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

func decodeError(err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &SyntaxError{Msg: fmt.Sprintf("invalid JSON at offset %d: %s", syntaxErr.Offset, syntaxErr.Error())}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &SyntaxError{Path: typeErr.Field, Msg: fmt.Sprintf("expected %s, got JSON %s", typeErr.Type, typeErr.Value)}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &SyntaxError{Msg: "truncated plan"}
	}
	return &SyntaxError{Msg: strings.TrimPrefix(err.Error(), "json: ")}
}

func normalize(p *Plan) error {
	p.Kind = Kind(strings.ToLower(strings.TrimSpace(string(p.Kind))))
	switch p.Kind {
	case "":
		switch {
		case p.Expr != nil && len(p.Steps) == 0:
			p.Kind = KindExpression
		case len(p.Steps) > 0 && p.Expr == nil:
			p.Kind = KindPipeline
		default:
			return &SyntaxError{Path: "kind", Msg: "kind is required"}
		}
	case "expr":
		p.Kind = KindExpression
	}

	switch p.Kind {
	case KindExpression:
		if p.Expr == nil {
			return &SyntaxError{Path: "expr", Msg: "expression plan requires expr"}
		}
		if len(p.Steps) > 0 {
			return &SyntaxError{Path: "steps", Msg: "expression plan cannot have steps"}
		}
		normalizeExpr(p.Expr)
	case KindPipeline:
		if len(p.Steps) == 0 {
			return &SyntaxError{Path: "steps", Msg: "pipeline requires at least one step"}
		}
		if p.Expr != nil {
			return &SyntaxError{Path: "expr", Msg: "pipeline cannot have a top-level expr"}
		}
		for i := range p.Steps {
			normalizeStep(&p.Steps[i])
		}
	default:
		return &SyntaxError{Path: "kind", Msg: fmt.Sprintf("unknown plan kind %q", p.Kind)}
	}
	return nil
}

func normalizeStep(step *Step) {
	step.Op = canonical(step.Op, stepAliases)
	for _, group := range [][]NamedExpr{step.Columns, step.Keys, step.Aggs} {
		for i := range group {
			normalizeExpr(group[i].Expr)
		}
	}
	normalizeExpr(step.Predicate)
}

func normalizeExpr(e *Expr) {
	e.Walk(func(node *Expr) bool {
		node.Op = canonical(node.Op, exprAliases)
		return true
	})
}

func canonical(op string, aliases map[string]string) string {
	op = strings.ToLower(strings.TrimSpace(op))
	if alias, ok := aliases[op]; ok {
		return alias
	}
	return op
}
