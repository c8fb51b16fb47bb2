package probe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/duckmesh/probe/internal/llm"
	"github.com/duckmesh/probe/internal/observability"
)

// complete performs one model call for a stage, records its metrics and
// wraps failures in ModelError.
//
// A blank completion is only an error for translation. Generated and
// corrected code is returned empty so the evaluator rejects it as a syntax
// error and the correction loop can react.
func complete(ctx context.Context, client llm.Client, stage Stage, req llm.Request) (string, error) {
	start := time.Now()
	resp, err := client.Complete(ctx, req)
	if errors.Is(err, llm.ErrEmptyCompletion) && stage != StageTranslate {
		resp, err = llm.Response{}, nil
	}
	observability.ObserveModelCall(string(stage), err, time.Since(start))
	if err != nil {
		return "", &ModelError{Stage: stage, Err: err}
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" && stage == StageTranslate {
		return "", &ModelError{Stage: stage, Err: llm.ErrEmptyCompletion}
	}
	return text, nil
}

func userMessage(content string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: content}}
}
