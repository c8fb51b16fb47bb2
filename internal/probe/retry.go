package probe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/duckmesh/probe/internal/observability"
	"github.com/duckmesh/probe/internal/sandbox"
)

type candidateEvaluator interface {
	Evaluate(ctx context.Context, code string) sandbox.Outcome
}

type candidateCorrector interface {
	Correct(ctx context.Context, session *QuerySession, failed Candidate) (string, error)
}

// Controller sequences evaluation and correction for one session until a
// candidate is valid or the session's retry budget is spent.
type Controller struct {
	evaluator candidateEvaluator
	corrector candidateCorrector
	logger    *slog.Logger
	// onCandidate, if set, sees every candidate before it is evaluated.
	onCandidate func(Candidate)
}

func NewController(evaluator candidateEvaluator, corrector candidateCorrector, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Controller{evaluator: evaluator, corrector: corrector, logger: logger}
}

// Resolve drives next to a terminal state. next is either an unevaluated
// candidate or one that already failed, in which case the loop starts with
// a correction.
//
// Every round is one correction call followed by one evaluation. Each
// correction starts from the first failing candidate of the call, so
// corrections never build on each other. On exhaustion the last failing
// candidate is returned inside a RetryExhaustedError.
func (c *Controller) Resolve(ctx context.Context, session *QuerySession, next Candidate) (Candidate, error) {
	var base *Candidate
	for {
		if !next.Evaluated() {
			next = c.evaluate(ctx, session, next)
		}
		if next.Valid() {
			session.State = StateSuccess
			return next, nil
		}
		if base == nil {
			failed := next
			base = &failed
		}
		if session.Retries >= session.MaxRetries {
			session.State = StateExhaustedRetry
			c.logger.WarnContext(ctx, "retry budget exhausted",
				slog.String("session_id", session.ID.String()),
				slog.Int("attempts", session.Attempts),
				slog.Int("max_retries", session.MaxRetries),
				slog.String("error_kind", string(next.Err.Kind)),
			)
			return next, &RetryExhaustedError{Attempts: session.Attempts, Last: next}
		}
		if err := ctx.Err(); err != nil {
			session.State = StateFailed
			return next, fmt.Errorf("resolve candidate: %w", err)
		}

		code, err := c.corrector.Correct(ctx, session, *base)
		if err != nil {
			session.State = StateFailed
			return next, err
		}
		session.Retries++
		next = Candidate{Code: code, Origin: OriginCorrected}
	}
}

func (c *Controller) evaluate(ctx context.Context, session *QuerySession, candidate Candidate) Candidate {
	if c.onCandidate != nil {
		c.onCandidate(candidate)
	}
	outcome := c.evaluator.Evaluate(ctx, candidate.Code)
	session.Attempts++
	candidate.Plan = outcome.Plan
	candidate.Err = outcome.Err
	if candidate.Plan == nil && candidate.Err == nil {
		candidate.Err = &sandbox.EvalError{Kind: sandbox.KindRuntime, Message: "evaluator returned no outcome"}
	}
	session.record(candidate)

	if candidate.Valid() {
		observability.ObserveEvaluation("valid")
		c.logger.DebugContext(ctx, "candidate valid",
			slog.String("session_id", session.ID.String()),
			slog.Int("attempt", session.Attempts),
			slog.String("origin", string(candidate.Origin)),
		)
		return candidate
	}
	observability.ObserveEvaluation(string(candidate.Err.Kind))
	c.logger.InfoContext(ctx, "candidate rejected",
		slog.String("session_id", session.ID.String()),
		slog.Int("attempt", session.Attempts),
		slog.String("origin", string(candidate.Origin)),
		slog.String("error_kind", string(candidate.Err.Kind)),
		slog.String("error", candidate.Err.Message),
	)
	return candidate
}
