package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/duckmesh/probe/internal/config"
	"github.com/duckmesh/probe/internal/materialize"
	"github.com/duckmesh/probe/internal/observability"
	"github.com/duckmesh/probe/internal/probe"
	"github.com/duckmesh/probe/internal/storage"
)

const maxRequestRetries = 10

type askRequest struct {
	Source               string `json:"source"`
	Query                string `json:"query"`
	MaxRetries           *int   `json:"max_retries"`
	RetryMaterialization *bool  `json:"retry_materialization"`
	Export               bool   `json:"export"`
}

type columnPayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type candidatePayload struct {
	Origin string        `json:"origin"`
	Code   string        `json:"code"`
	Error  *evalErrorRef `json:"error,omitempty"`
}

type evalErrorRef struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

type sessionErrorPayload struct {
	ErrorCode string `json:"error_code"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

type exportPayload struct {
	Location string `json:"location,omitempty"`
	Rows     int64  `json:"rows,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
	Error    string `json:"error,omitempty"`
}

type askResponse struct {
	SessionID  string               `json:"session_id"`
	Query      string               `json:"query"`
	State      string               `json:"state"`
	Answer     string               `json:"answer"`
	Code       string               `json:"code"`
	Rendered   string               `json:"rendered,omitempty"`
	Columns    []columnPayload      `json:"columns"`
	Rows       [][]any              `json:"rows"`
	Attempts   int                  `json:"attempts"`
	Retries    int                  `json:"retries"`
	Candidates []candidatePayload   `json:"candidates"`
	Error      *sessionErrorPayload `json:"error,omitempty"`
	Export     *exportPayload       `json:"export,omitempty"`
	TraceID    string               `json:"trace_id"`
}

func handleAsk(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Asker == nil || deps.OpenSource == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "ask dependencies are not configured", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	request.Query = strings.TrimSpace(request.Query)
	if request.Query == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return
	}
	if strings.TrimSpace(request.Source) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SOURCE_REQUIRED", "source is required", false, nil)
		return
	}

	opts := probe.Options{
		MaxRetries:           cfg.Session.MaxRetries,
		RetryMaterialization: cfg.Session.RetryMaterialization,
	}
	if request.MaxRetries != nil {
		opts.MaxRetries = *request.MaxRetries
	}
	if opts.MaxRetries < 0 || opts.MaxRetries > maxRequestRetries {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MAX_RETRIES", fmt.Sprintf("max_retries must be between 0 and %d", maxRequestRetries), false, map[string]any{"max_retries": opts.MaxRetries})
		return
	}
	if request.RetryMaterialization != nil {
		opts.RetryMaterialization = *request.RetryMaterialization
	}
	if request.Export && deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "export requires an object store", false, nil)
		return
	}

	src, ok := openSource(deps, w, r, request.Source)
	if !ok {
		return
	}
	defer func() { _ = src.Close() }()

	result, err := deps.Asker.Ask(r.Context(), src, request.Query, opts)
	response := newAskResponse(r.Context(), result)
	if err != nil {
		status, code, retryable := classifySessionError(err)
		if status != http.StatusUnprocessableEntity {
			writeError(r.Context(), w, status, code, err.Error(), retryable, map[string]any{
				"session_id": response.SessionID,
				"kind":       probe.ErrorKind(err),
			})
			return
		}
		response.Error = &sessionErrorPayload{ErrorCode: code, Kind: probe.ErrorKind(err), Message: err.Error()}
		writeJSON(w, status, response)
		return
	}

	if request.Export && result.Table != nil {
		exported, err := deps.Exporter.ExportSession(r.Context(), response.SessionID, *result.Table)
		if err != nil {
			if deps.Logger != nil {
				deps.Logger.ErrorContext(r.Context(), "export failed", "session_id", response.SessionID, "error", err)
			}
			response.Export = &exportPayload{Error: err.Error()}
		} else {
			response.Export = &exportPayload{Location: exported.Location.String(), Rows: exported.Rows, Bytes: exported.Bytes}
		}
	}
	writeJSON(w, http.StatusOK, response)
}

// openSource writes the error response itself and reports whether the
// handler may continue.
func openSource(deps Dependencies, w http.ResponseWriter, r *http.Request, raw string) (Source, bool) {
	src, err := deps.OpenSource(r.Context(), raw)
	if err == nil {
		return src, true
	}
	details := map[string]any{"source": raw, "details": err.Error()}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrObjectNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "SOURCE_NOT_FOUND", "source was not found", false, details)
		return nil, false
	}
	writeError(r.Context(), w, http.StatusBadRequest, "SOURCE_INVALID", "source could not be opened", false, details)
	return nil, false
}

// classifySessionError maps a terminal session error to a status. Failures
// the caller can act on by rephrasing (exhausted retries, a plan that would
// not run) are 422 and carry the full session.
func classifySessionError(err error) (status int, code string, retryable bool) {
	switch {
	case errors.Is(err, probe.ErrRetryExhausted):
		return http.StatusUnprocessableEntity, "RETRY_EXHAUSTED", false
	case errors.Is(err, probe.ErrMaterialization):
		return http.StatusUnprocessableEntity, "MATERIALIZATION_FAILED", false
	case errors.Is(err, probe.ErrModel):
		return http.StatusBadGateway, "MODEL_UNAVAILABLE", true
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "SESSION_TIMEOUT", true
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "SESSION_CANCELED", true
	default:
		return http.StatusInternalServerError, "SESSION_FAILED", false
	}
}

func newAskResponse(ctx context.Context, result probe.SessionResult) askResponse {
	response := askResponse{
		SessionID:  result.SessionID.String(),
		Query:      result.Query,
		State:      string(result.State),
		Answer:     result.Answer,
		Code:       result.Code,
		Rendered:   result.Rendered,
		Attempts:   result.Attempts,
		Retries:    result.Retries,
		Candidates: make([]candidatePayload, 0, len(result.History)),
		TraceID:    observability.TraceIDFromContext(ctx),
	}
	if result.Table != nil {
		response.Columns = columnsPayload(result.Table.Columns)
		response.Rows = jsonRows(result.Table.Rows)
	}
	for _, candidate := range result.History {
		payload := candidatePayload{Origin: string(candidate.Origin), Code: candidate.Code}
		if candidate.Err != nil {
			payload.Error = &evalErrorRef{Kind: string(candidate.Err.Kind), Message: candidate.Err.Message, Path: candidate.Err.Path}
		}
		response.Candidates = append(response.Candidates, payload)
	}
	return response
}

func columnsPayload(columns []materialize.Column) []columnPayload {
	payload := make([]columnPayload, 0, len(columns))
	for _, column := range columns {
		payload = append(payload, columnPayload{Name: column.Name, Type: column.Type.String()})
	}
	return payload
}
