package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/duckmesh/probe/internal/history"
)

type historyCandidate struct {
	Origin       string `json:"origin"`
	Code         string `json:"code"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type historyEntry struct {
	SessionID    string             `json:"session_id"`
	Query        string             `json:"query"`
	Source       string             `json:"source"`
	State        string             `json:"state"`
	Answer       string             `json:"answer,omitempty"`
	Code         string             `json:"code,omitempty"`
	ErrorKind    string             `json:"error_kind,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Attempts     int                `json:"attempts"`
	Retries      int                `json:"retries"`
	MaxRetries   int                `json:"max_retries"`
	Rows         *int               `json:"rows"`
	TraceID      string             `json:"trace_id,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	DurationMs   int64              `json:"duration_ms"`
	Candidates   []historyCandidate `json:"candidates,omitempty"`
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_DISABLED", history.ErrDisabled.Error(), false, nil)
		return
	}

	limit := history.DefaultListLimit
	if value := strings.TrimSpace(r.URL.Query().Get("limit")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": value})
			return
		}
		limit = history.ClampLimit(parsed)
	}

	entries, err := deps.History.List(r.Context(), limit)
	if err != nil {
		if errors.Is(err, history.ErrDisabled) {
			writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_DISABLED", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to list session history", true, map[string]any{"details": err.Error()})
		return
	}

	sessions := make([]historyEntry, 0, len(entries))
	for _, entry := range entries {
		sessions = append(sessions, newHistoryEntry(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "limit": limit})
}

func newHistoryEntry(entry history.Entry) historyEntry {
	out := historyEntry{
		SessionID:    entry.SessionID.String(),
		Query:        entry.Query,
		Source:       entry.Source,
		State:        entry.State,
		Answer:       entry.Answer,
		Code:         entry.Code,
		ErrorKind:    entry.ErrorKind,
		ErrorMessage: entry.ErrorMessage,
		Attempts:     entry.Attempts,
		Retries:      entry.Retries,
		MaxRetries:   entry.MaxRetries,
		Rows:         entry.Rows,
		TraceID:      entry.TraceID,
		StartedAt:    entry.StartedAt,
		FinishedAt:   entry.FinishedAt,
		DurationMs:   entry.Duration().Milliseconds(),
	}
	for _, candidate := range entry.Candidates {
		out.Candidates = append(out.Candidates, historyCandidate(candidate))
	}
	return out
}
