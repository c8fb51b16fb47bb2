package sandbox

import (
	"sort"
	"strings"

	"github.com/duckmesh/probe/internal/plan"
)

// ordinalColumn carries row order between nested selections. It is never
// part of a scope, so plans cannot reference or shadow it.
const ordinalColumn = "__probe_ord"

type class int

const (
	classLeaf class = iota
	classScalar
	classAggregate
	classWindow
)

type function struct {
	class   class
	minArgs int
	maxArgs int
}

const unbounded = -1

// vocabulary is the complete set of operations a plan may name. It is read
// only; scopes reference it but never modify it.
var vocabulary = map[string]function{
	"col": {classLeaf, 0, 0},
	"lit": {classLeaf, 0, 0},

	"add": {classScalar, 2, 2},
	"sub": {classScalar, 2, 2},
	"mul": {classScalar, 2, 2},
	"div": {classScalar, 2, 2},
	"mod": {classScalar, 2, 2},
	"neg": {classScalar, 1, 1},

	"eq":          {classScalar, 2, 2},
	"ne":          {classScalar, 2, 2},
	"lt":          {classScalar, 2, 2},
	"le":          {classScalar, 2, 2},
	"gt":          {classScalar, 2, 2},
	"ge":          {classScalar, 2, 2},
	"is_null":     {classScalar, 1, 1},
	"is_not_null": {classScalar, 1, 1},
	"is_in":       {classScalar, 1, 1},

	"and": {classScalar, 2, unbounded},
	"or":  {classScalar, 2, unbounded},
	"not": {classScalar, 1, 1},

	"abs":       {classScalar, 1, 1},
	"round":     {classScalar, 1, 1},
	"length":    {classScalar, 1, 1},
	"cast":      {classScalar, 1, 1},
	"least":     {classScalar, 2, unbounded},
	"greatest":  {classScalar, 2, unbounded},
	"fill_null": {classScalar, 2, 2},
	"when":      {classScalar, 2, 3},

	"lower":       {classScalar, 1, 1},
	"upper":       {classScalar, 1, 1},
	"strip":       {classScalar, 1, 1},
	"contains":    {classScalar, 1, 1},
	"starts_with": {classScalar, 1, 1},
	"ends_with":   {classScalar, 1, 1},
	"replace":     {classScalar, 1, 1},
	"concat":      {classScalar, 1, unbounded},
	"slice":       {classScalar, 1, 1},

	"to_date":     {classScalar, 1, 1},
	"to_datetime": {classScalar, 1, 1},
	"year":        {classScalar, 1, 1},
	"month":       {classScalar, 1, 1},
	"day":         {classScalar, 1, 1},
	"weekday":     {classScalar, 1, 1},
	"hour":        {classScalar, 1, 1},
	"strftime":    {classScalar, 1, 1},
	"truncate":    {classScalar, 1, 1},

	"sum":      {classAggregate, 1, 1},
	"mean":     {classAggregate, 1, 1},
	"median":   {classAggregate, 1, 1},
	"min":      {classAggregate, 1, 1},
	"max":      {classAggregate, 1, 1},
	"count":    {classAggregate, 0, 1},
	"n_unique": {classAggregate, 1, 1},
	"std":      {classAggregate, 1, 1},
	"first":    {classAggregate, 1, 1},
	"last":     {classAggregate, 1, 1},

	"rank":       {classWindow, 1, 1},
	"dense_rank": {classWindow, 1, 1},
	"row_number": {classWindow, 0, 0},
	"shift":      {classWindow, 1, 1},
	"cum_sum":    {classWindow, 1, 1},
}

var stepVocabulary = map[string]struct{}{
	plan.StepSelect:      {},
	plan.StepFilter:      {},
	plan.StepWithColumns: {},
	plan.StepGroupBy:     {},
	plan.StepSort:        {},
	plan.StepLimit:       {},
	plan.StepUnique:      {},
}

type column struct {
	name string
	typ  plan.Type
}

// scope is the set of names visible to one frame of a plan: the frame's
// columns and the fixed vocabulary.
type scope struct {
	columns   []column
	index     map[string]int
	functions map[string]function
}

func newScope(columns []column) *scope {
	s := &scope{
		columns:   make([]column, 0, len(columns)),
		index:     make(map[string]int, len(columns)),
		functions: vocabulary,
	}
	for _, c := range columns {
		if c.name == ordinalColumn {
			continue
		}
		s.index[c.name] = len(s.columns)
		s.columns = append(s.columns, c)
	}
	return s
}

// column resolves name exactly first, then with surrounding whitespace
// removed, so headers such as " amount" stay reachable.
func (s *scope) column(name string) (column, bool) {
	i, ok := s.index[name]
	if !ok {
		i, ok = s.index[strings.TrimSpace(name)]
	}
	if !ok {
		return column{}, false
	}
	return s.columns[i], true
}

func (s *scope) function(op string) (function, bool) {
	fn, ok := s.functions[op]
	return fn, ok
}

func (s *scope) names() []string {
	out := make([]string, 0, len(s.columns))
	for _, c := range s.columns {
		out = append(out, c.name)
	}
	return out
}

func (s *scope) describe() string {
	names := s.names()
	sort.Strings(names)
	return strings.Join(names, ", ")
}
