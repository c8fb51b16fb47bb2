package probe

import (
	"context"

	"github.com/duckmesh/probe/internal/llm"
)

// Generator asks the generation model for the first candidate of a session.
type Generator struct {
	client   llm.Client
	settings llm.Settings
}

func NewGenerator(client llm.Client, settings llm.Settings) *Generator {
	return &Generator{client: client, settings: settings}
}

// Generate returns the raw candidate text. Whether it is a usable plan is
// decided by the evaluator.
func (g *Generator) Generate(ctx context.Context, session *QuerySession) (string, error) {
	return complete(ctx, g.client, StageGenerate, llm.Request{
		System:   generationSystemPrompt(session.Schema, session.Sample),
		Messages: userMessage(session.Query),
		Settings: g.settings,
	})
}
