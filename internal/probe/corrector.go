package probe

import (
	"context"

	"github.com/duckmesh/probe/internal/llm"
)

// Corrector turns one failing candidate into exactly one new candidate.
type Corrector struct {
	client   llm.Client
	settings llm.Settings
}

func NewCorrector(client llm.Client, settings llm.Settings) *Corrector {
	return &Corrector{client: client, settings: settings}
}

func (c *Corrector) Correct(ctx context.Context, session *QuerySession, failed Candidate) (string, error) {
	return complete(ctx, c.client, StageCorrect, llm.Request{
		System:   correctionSystemPrompt(session.Schema),
		Messages: userMessage(correctionMessage(session.Query, failed)),
		Settings: c.settings,
	})
}
