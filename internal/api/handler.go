package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duckmesh/probe/internal/auth"
	"github.com/duckmesh/probe/internal/config"
	"github.com/duckmesh/probe/internal/export"
	"github.com/duckmesh/probe/internal/history"
	"github.com/duckmesh/probe/internal/materialize"
	"github.com/duckmesh/probe/internal/observability"
	"github.com/duckmesh/probe/internal/probe"
)

type ReadinessCheck func(ctx context.Context) error

// Source is an opened data source owned by one request.
type Source interface {
	probe.DataSource
	Close() error
}

// SourceOpener opens raw, a local path or s3:// location, applying whatever
// confinement the server is configured with.
type SourceOpener func(ctx context.Context, raw string) (Source, error)

type Asker interface {
	Ask(ctx context.Context, src probe.DataSource, query string, opts probe.Options) (probe.SessionResult, error)
}

type Exporter interface {
	ExportSession(ctx context.Context, sessionID string, table materialize.Table) (export.Result, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Asker             Asker
	OpenSource        SourceOpener
	History           history.Store
	// Exporter is nil when no object store is configured.
	Exporter         Exporter
	SchemaSampleRows int
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	queryReader := auth.RequireRole(auth.RoleQueryReader)
	historyReader := auth.RequireRole(auth.RoleHistoryReader)

	protected := http.NewServeMux()
	protected.Handle("POST /v1/ask", queryReader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleAsk(cfg, deps, w, r)
	})))
	protected.Handle("GET /v1/schema", queryReader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})))
	protected.Handle("GET /v1/history", historyReader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleHistory(deps, w, r)
	})))

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/ask", protectedHandler)
	mux.Handle("GET /v1/schema", protectedHandler)
	mux.Handle("GET /v1/history", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	middlewares = append(middlewares, observability.MetricsMiddleware)
	return chain(mux, middlewares...)
}

func CheckSourceConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Source.Root == "" && cfg.ObjectStore.Bucket == "" {
			return errors.New("neither a source root nor an object store bucket is configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// writeJSON encodes payload before committing the status so an
// unencodable payload becomes a 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		body.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&body).Encode(map[string]any{
			"error_code": "RESPONSE_ENCODING_FAILED",
			"message":    "response could not be encoded",
			"retryable":  false,
			"context":    map[string]any{"details": err.Error()},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

// jsonRows copies result rows for encoding. JSON has no infinities or NaN,
// so non-finite floats are sent as "+Inf", "-Inf" or "NaN".
func jsonRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		converted := make([]any, len(row))
		for j, value := range row {
			if f, ok := value.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
				converted[j] = strconv.FormatFloat(f, 'g', -1, 64)
				continue
			}
			converted[j] = value
		}
		out[i] = converted
	}
	return out
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
