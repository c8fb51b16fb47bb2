package probe

import (
	"github.com/google/uuid"

	"github.com/duckmesh/probe/internal/materialize"
	"github.com/duckmesh/probe/internal/sandbox"
	"github.com/duckmesh/probe/internal/source"
)

type Origin string

const (
	OriginGenerated Origin = "generated"
	OriginCorrected Origin = "corrected"
)

// Candidate is one code string and, once evaluated, exactly one of Plan or
// Err.
type Candidate struct {
	Code   string
	Origin Origin
	Plan   *sandbox.Validated
	Err    *sandbox.EvalError
}

func (c Candidate) Evaluated() bool {
	return c.Plan != nil || c.Err != nil
}

func (c Candidate) Valid() bool {
	return c.Plan != nil && c.Err == nil
}

type State string

const (
	StatePending        State = ""
	StateSuccess        State = "success"
	StateExhaustedRetry State = "exhausted_retry"
	// StateFailed covers fatal errors outside the retry budget: model call
	// failures, materialization errors and cancellation.
	StateFailed State = "failed"
)

// QuerySession is the state of one ask call. It is discarded once the
// SessionResult is built.
type QuerySession struct {
	ID         uuid.UUID
	Query      string
	Schema     []source.Column
	Sample     []any
	History    []Candidate
	Attempts   int
	Retries    int
	MaxRetries int
	State      State
}

func newQuerySession(query string, schema []source.Column, maxRetries int) *QuerySession {
	return &QuerySession{
		ID:         uuid.New(),
		Query:      query,
		Schema:     schema,
		MaxRetries: maxRetries,
	}
}

func (s *QuerySession) record(candidate Candidate) {
	s.History = append(s.History, candidate)
}

func (s *QuerySession) last() (Candidate, bool) {
	if len(s.History) == 0 {
		return Candidate{}, false
	}
	return s.History[len(s.History)-1], true
}

// SessionResult is what an ask call returns. Answer is empty unless the
// session resolved.
type SessionResult struct {
	SessionID uuid.UUID
	Query     string
	Answer    string
	Code      string
	Rendered  string
	Table     *materialize.Table
	Attempts  int
	Retries   int
	State     State
	Err       error
	History   []Candidate
}

func (r SessionResult) Resolved() bool {
	return r.Err == nil && r.State == StateSuccess
}
