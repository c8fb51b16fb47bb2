package probe

import (
	"context"

	"github.com/duckmesh/probe/internal/llm"
	"github.com/duckmesh/probe/internal/materialize"
)

type Translator struct {
	client   llm.Client
	settings llm.Settings
}

func NewTranslator(client llm.Client, settings llm.Settings) *Translator {
	return &Translator{client: client, settings: settings}
}

// Translate answers query from a materialized result. Empty tables get
// NoDataAnswer and never reach the model.
func (t *Translator) Translate(ctx context.Context, query string, result materialize.Result) (string, error) {
	if result.Table.Empty() {
		return NoDataAnswer, nil
	}
	return complete(ctx, t.client, StageTranslate, llm.Request{
		System:   translateInstructions,
		Messages: userMessage(translationMessage(query, result.Rendered)),
		Settings: t.settings,
	})
}
