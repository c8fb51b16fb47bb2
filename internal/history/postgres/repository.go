package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/duckmesh/probe/internal/history"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

// Record stores a finished session and its candidates in one transaction.
func (r *Repository) Record(ctx context.Context, entry history.Entry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rows sql.NullInt64
	if entry.Rows != nil {
		rows = sql.NullInt64{Int64: int64(*entry.Rows), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO probe_session (
	session_id, query_text, source_uri, state, answer, final_code,
	error_kind, error_message, attempts, retries_used, max_retries,
	result_rows, trace_id, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		entry.SessionID,
		entry.Query,
		entry.Source,
		entry.State,
		nullString(entry.Answer),
		nullString(entry.Code),
		nullString(entry.ErrorKind),
		nullString(entry.ErrorMessage),
		entry.Attempts,
		entry.Retries,
		entry.MaxRetries,
		rows,
		nullString(entry.TraceID),
		entry.StartedAt,
		entry.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert session %s: %w", entry.SessionID, err)
	}

	for position, candidate := range entry.Candidates {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO probe_candidate (session_id, position, origin, code, error_kind, error_message)
VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.SessionID,
			position,
			candidate.Origin,
			candidate.Code,
			nullString(candidate.ErrorKind),
			nullString(candidate.ErrorMessage),
		); err != nil {
			return fmt.Errorf("insert candidate %d of session %s: %w", position, entry.SessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", entry.SessionID, err)
	}
	return nil
}

// List returns the most recently finished sessions without their candidates.
func (r *Repository) List(ctx context.Context, limit int) ([]history.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT session_id, query_text, source_uri, state, answer, final_code,
	error_kind, error_message, attempts, retries_used, max_retries,
	result_rows, trace_id, started_at, finished_at
FROM probe_session
ORDER BY finished_at DESC, session_id
LIMIT $1`, history.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []history.Entry
	for rows.Next() {
		var (
			entry                                          history.Entry
			answer, code, errorKind, errorMessage, traceID sql.NullString
			resultRows                                     sql.NullInt64
		)
		if err := rows.Scan(
			&entry.SessionID,
			&entry.Query,
			&entry.Source,
			&entry.State,
			&answer,
			&code,
			&errorKind,
			&errorMessage,
			&entry.Attempts,
			&entry.Retries,
			&entry.MaxRetries,
			&resultRows,
			&traceID,
			&entry.StartedAt,
			&entry.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		entry.Answer = answer.String
		entry.Code = code.String
		entry.ErrorKind = errorKind.String
		entry.ErrorMessage = errorMessage.String
		entry.TraceID = traceID.String
		if resultRows.Valid {
			n := int(resultRows.Int64)
			entry.Rows = &n
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
