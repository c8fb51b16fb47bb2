// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/duckmesh/probe/internal/llm"
)

// Reply is one scripted answer. Err wins over Text.
type Reply struct {
	Text string
	Err  error
}

// Scripted replays replies in order and records every request it receives.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
}

func New(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

func Texts(texts ...string) *Scripted {
	replies := make([]Reply, 0, len(texts))
	for _, text := range texts {
		replies = append(replies, Reply{Text: text})
	}
	return New(replies...)
}

func (s *Scripted) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	if len(s.replies) == 0 {
		return llm.Response{}, fmt.Errorf("scripted client exhausted after %d calls", len(s.requests)-1)
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	if reply.Err != nil {
		return llm.Response{}, reply.Err
	}
	return llm.Response{Text: reply.Text, Provider: "scripted", Model: req.Settings.Model}, nil
}

func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
