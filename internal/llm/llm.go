// Package llm is a small provider-neutral client for chat-style language
// models. Model identity, temperature and token budget travel with every
// request rather than living in process-wide state.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrEmptyCompletion = errors.New("model returned empty completion")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Settings struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type Request struct {
	System   string
	Messages []Message
	Settings Settings
}

type Response struct {
	Text     string
	Provider string
	Model    string
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	// Model is used when a request does not name one.
	Model   string
	Timeout time.Duration
}

func New(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderAnthropic, "":
		return NewAnthropic(cfg)
	case ProviderOpenAI:
		return NewOpenAI(cfg)
	case ProviderGemini:
		return NewGemini(cfg)
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

func timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 60 * time.Second
	}
	return timeout
}

func modelOrDefault(requested, configured, fallback string) string {
	if model := strings.TrimSpace(requested); model != "" {
		return model
	}
	if model := strings.TrimSpace(configured); model != "" {
		return model
	}
	return fallback
}

func validateRequest(req Request) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	for i, message := range req.Messages {
		if message.Role != RoleUser && message.Role != RoleAssistant {
			return fmt.Errorf("message %d has unsupported role %q", i, message.Role)
		}
	}
	return nil
}
