package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

const (
	defaultAnthropicModel     = "claude-3-5-sonnet-20241022"
	defaultAnthropicMaxTokens = 1000
)

type Anthropic struct {
	client *anthropic.Client
	model  string
}

func NewAnthropic(cfg Config) (*Anthropic, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	opts := []anthropic.ClientOption{
		anthropic.WithHTTPClient(&http.Client{Timeout: timeoutOrDefault(cfg.Timeout)}),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	return &Anthropic{
		client: anthropic.NewClient(strings.TrimSpace(cfg.APIKey), opts...),
		model:  strings.TrimSpace(cfg.Model),
	}, nil
}

func (c *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	if err := validateRequest(req); err != nil {
		return Response{}, err
	}
	model := modelOrDefault(req.Settings.Model, c.model, defaultAnthropicModel)
	maxTokens := req.Settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	temperature := float32(req.Settings.Temperature)

	messages := make([]anthropic.Message, 0, len(req.Messages))
	for _, message := range req.Messages {
		text := message.Content
		role := anthropic.RoleUser
		if message.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		messages = append(messages, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{{Type: "text", Text: &text}},
		})
	}

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(model),
		System:      strings.TrimSpace(req.System),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("create anthropic message: %w", err)
	}

	text := strings.TrimSpace(extractText(resp))
	if text == "" {
		return Response{}, ErrEmptyCompletion
	}
	return Response{Text: text, Provider: ProviderAnthropic, Model: model}, nil
}

func extractText(resp anthropic.MessagesResponse) string {
	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			parts = append(parts, *block.Text)
		}
	}
	return strings.Join(parts, "")
}
