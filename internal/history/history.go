// Package history is the optional audit log of finished ask sessions.
// Sessions only ever append to it; nothing in the ask path reads it back.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrDisabled = errors.New("session history is disabled")

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

type Candidate struct {
	Origin       string
	Code         string
	ErrorKind    string
	ErrorMessage string
}

type Entry struct {
	SessionID    uuid.UUID
	Query        string
	Source       string
	State        string
	Answer       string
	Code         string
	ErrorKind    string
	ErrorMessage string
	Attempts     int
	Retries      int
	MaxRetries   int
	// Rows is nil when the session never materialized a table.
	Rows       *int
	TraceID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Candidates []Candidate
}

func (e Entry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type Store interface {
	Recorder
	List(ctx context.Context, limit int) ([]Entry, error)
}

// Disabled is the Store used when history is turned off.
type Disabled struct{}

func (Disabled) Record(context.Context, Entry) error { return nil }

func (Disabled) List(context.Context, int) ([]Entry, error) { return nil, ErrDisabled }

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
