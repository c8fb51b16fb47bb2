package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/duckmesh/probe/internal/history"
	"github.com/duckmesh/probe/internal/llm"
	"github.com/duckmesh/probe/internal/materialize"
	"github.com/duckmesh/probe/internal/observability"
	"github.com/duckmesh/probe/internal/sandbox"
	"github.com/duckmesh/probe/internal/source"
	"github.com/duckmesh/probe/internal/storage"
)

// DataSource is the lazily read table a session runs against.
type DataSource interface {
	Location() storage.Location
	Schema() []source.Column
	Sample(ctx context.Context, n int) ([][]any, error)
	Query(ctx context.Context, statement string) (source.Result, error)
	Explain(ctx context.Context, statement string) error
}

type Options struct {
	MaxRetries        int
	EmitGeneratedCode bool
	EmitRenderedTable bool
	EmitFinalAnswer   bool
	// RetryMaterialization feeds runtime failures of validated plans back
	// into the correction loop as runtime errors. Off by default, which makes
	// them fatal.
	RetryMaterialization bool
	// Output receives emitted sections. Nil discards them.
	Output io.Writer
}

type Config struct {
	Client    llm.Client
	Generate  llm.Settings
	Correct   llm.Settings
	Translate llm.Settings

	BinderCheck bool
	Render      materialize.RenderOptions
	SampleRows  int

	History history.Recorder
	Logger  *slog.Logger
}

// Asker runs ask sessions. It holds no per-session state and is safe for
// concurrent use when its model client is.
type Asker struct {
	generator  *Generator
	corrector  *Corrector
	translator *Translator

	binderCheck bool
	render      materialize.RenderOptions
	sampleRows  int
	history     history.Recorder
	logger      *slog.Logger
}

func NewAsker(cfg Config) (*Asker, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = 1
	}
	if cfg.History == nil {
		cfg.History = history.Disabled{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.DiscardLogger()
	}
	return &Asker{
		generator:   NewGenerator(cfg.Client, cfg.Generate),
		corrector:   NewCorrector(cfg.Client, cfg.Correct),
		translator:  NewTranslator(cfg.Client, cfg.Translate),
		binderCheck: cfg.BinderCheck,
		render:      cfg.Render,
		sampleRows:  cfg.SampleRows,
		history:     cfg.History,
		logger:      cfg.Logger,
	}, nil
}

// Ask resolves one natural-language query against src. The returned error is
// always the same value as SessionResult.Err.
func (a *Asker) Ask(ctx context.Context, src DataSource, query string, opts Options) (SessionResult, error) {
	if opts.MaxRetries < 0 {
		err := fmt.Errorf("max retries must be non-negative, got %d", opts.MaxRetries)
		return SessionResult{State: StateFailed, Query: query, Err: err}, err
	}
	if query == "" {
		err := fmt.Errorf("query is required")
		return SessionResult{State: StateFailed, Err: err}, err
	}

	run := &sessionRun{
		asker:   a,
		src:     src,
		opts:    opts,
		out:     opts.Output,
		started: time.Now(),
		session: newQuerySession(query, src.Schema(), opts.MaxRetries),
	}
	if run.out == nil {
		run.out = io.Discard
	}
	run.traceID = observability.TraceIDFromContext(ctx)
	run.logger = a.logger.With(
		slog.String("session_id", run.session.ID.String()),
		slog.String("trace_id", run.traceID),
	)

	result := run.execute(ctx)
	a.finish(ctx, run, &result)
	return result, result.Err
}

type sessionRun struct {
	asker   *Asker
	src     DataSource
	opts    Options
	out     io.Writer
	logger  *slog.Logger
	traceID string
	started time.Time
	session *QuerySession
}

func (r *sessionRun) execute(ctx context.Context) SessionResult {
	session := r.session
	result := SessionResult{SessionID: session.ID, Query: session.Query}

	sample, err := r.src.Sample(ctx, r.asker.sampleRows)
	if err != nil {
		return r.fail(result, fmt.Errorf("sample source: %w", err))
	}
	if len(sample) > 0 {
		session.Sample = sample[0]
	}

	code, err := r.asker.generator.Generate(ctx, session)
	if err != nil {
		return r.fail(result, err)
	}

	controller := NewController(
		sandbox.New(session.Schema, r.src, sandbox.Options{BinderCheck: r.asker.binderCheck}),
		r.asker.corrector,
		r.logger,
	)
	controller.onCandidate = r.emitCandidate
	materializer := materialize.New(r.src, r.asker.render)

	candidate, err := controller.Resolve(ctx, session, Candidate{Code: code, Origin: OriginGenerated})
	var materialized materialize.Result
	for err == nil {
		start := time.Now()
		var runErr error
		materialized, runErr = materializer.Materialize(ctx, candidate.Plan)
		if runErr == nil {
			observability.ObserveMaterialization(len(materialized.Table.Rows), time.Since(start))
			break
		}
		err = &MaterializationError{Code: candidate.Code, Err: runErr}
		r.logger.WarnContext(ctx, "materialization failed",
			slog.Int("attempt", session.Attempts),
			slog.Bool("retry", r.opts.RetryMaterialization),
			slog.String("error", runErr.Error()),
		)
		if !r.opts.RetryMaterialization || ctx.Err() != nil {
			break
		}
		failed := demoteToRuntimeFailure(session, candidate, runErr)
		candidate, err = controller.Resolve(ctx, session, failed)
	}
	result.Code = candidate.Code
	if err != nil {
		return r.fail(result, err)
	}

	result.Table = &materialized.Table
	result.Rendered = materialized.Rendered
	r.emit(r.opts.EmitRenderedTable, "Result", materialized.Rendered)

	answer, err := r.asker.translator.Translate(ctx, session.Query, materialized)
	if err != nil {
		return r.fail(result, err)
	}
	result.Answer = answer
	r.emit(r.opts.EmitFinalAnswer, "Answer", answer)
	return result
}

// demoteToRuntimeFailure replaces the last, valid history entry with the same
// code carrying the materialization failure, so history keeps exactly one of
// plan or error per candidate.
func demoteToRuntimeFailure(session *QuerySession, candidate Candidate, runErr error) Candidate {
	failed := Candidate{
		Code:   candidate.Code,
		Origin: candidate.Origin,
		Err:    &sandbox.EvalError{Kind: sandbox.KindRuntime, Message: runErr.Error()},
	}
	if n := len(session.History); n > 0 && session.History[n-1].Valid() {
		session.History[n-1] = failed
	}
	session.State = StatePending
	return failed
}

func (r *sessionRun) fail(result SessionResult, err error) SessionResult {
	if r.session.State == StatePending || r.session.State == StateSuccess {
		r.session.State = StateFailed
	}
	if result.Code == "" {
		if last, ok := r.session.last(); ok {
			result.Code = last.Code
		}
	}
	result.Err = err
	return result
}

func (r *sessionRun) emitCandidate(candidate Candidate) {
	title := "Generated code"
	if candidate.Origin == OriginCorrected {
		title = fmt.Sprintf("Corrected code (retry %d of %d)", r.session.Retries, r.session.MaxRetries)
	}
	r.emit(r.opts.EmitGeneratedCode, title, candidate.Code)
}

func (r *sessionRun) emit(enabled bool, title, body string) {
	if !enabled {
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s:\n%s\n\n", title, body)
}

func (a *Asker) finish(ctx context.Context, run *sessionRun, result *SessionResult) {
	session := run.session
	result.Attempts = session.Attempts
	result.Retries = session.Retries
	result.State = session.State
	result.History = append([]Candidate(nil), session.History...)

	elapsed := time.Since(run.started)
	observability.ObserveSession(string(result.State), result.Retries, elapsed)

	attrs := []any{
		slog.String("state", string(result.State)),
		slog.Int("attempts", result.Attempts),
		slog.Int("retries", result.Retries),
		slog.Duration("duration", elapsed),
	}
	if result.Err != nil {
		run.logger.WarnContext(ctx, "session failed", append(attrs, slog.String("error", result.Err.Error()))...)
	} else {
		run.logger.InfoContext(ctx, "session resolved", attrs...)
	}

	// History is written even when the caller's context is already done.
	recordCtx := context.WithoutCancel(ctx)
	if err := a.history.Record(recordCtx, historyEntry(run, *result)); err != nil {
		run.logger.ErrorContext(ctx, "record session history", slog.String("error", err.Error()))
	}
}

func historyEntry(run *sessionRun, result SessionResult) history.Entry {
	entry := history.Entry{
		SessionID:  result.SessionID,
		Query:      result.Query,
		Source:     run.src.Location().String(),
		State:      string(result.State),
		Answer:     result.Answer,
		Code:       result.Code,
		Attempts:   result.Attempts,
		Retries:    result.Retries,
		MaxRetries: run.session.MaxRetries,
		StartedAt:  run.started.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if result.Table != nil {
		rows := len(result.Table.Rows)
		entry.Rows = &rows
	}
	if result.Err != nil {
		entry.ErrorMessage = result.Err.Error()
		entry.ErrorKind = ErrorKind(result.Err)
	}
	for _, candidate := range result.History {
		item := history.Candidate{Origin: string(candidate.Origin), Code: candidate.Code}
		if candidate.Err != nil {
			item.ErrorKind = string(candidate.Err.Kind)
			item.ErrorMessage = candidate.Err.Message
		}
		entry.Candidates = append(entry.Candidates, item)
	}
	entry.TraceID = run.traceID
	return entry
}

// ErrorKind classifies a session error for history and API responses.
func ErrorKind(err error) string {
	var evalErr *sandbox.EvalError
	var modelErr *ModelError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRetryExhausted) && errors.As(err, &evalErr):
		return string(evalErr.Kind)
	case errors.Is(err, ErrMaterialization):
		return "materialization"
	case errors.As(err, &modelErr):
		return "model_" + string(modelErr.Stage)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
