package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/recall0/recall/internal/config"
	"github.com/recall0/recall/internal/race"
)

// generator adapts genkit.Generate to the engine's Generator port.
type generator struct {
	g           *genkit.Genkit
	model       string
	temperature float32
	maxTokens   int
}

func newGenerator(g *genkit.Genkit, cfg *config.Config) *generator {
	return &generator{
		g:           g,
		model:       cfg.FullModelName(),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Complete renders the retrieved context and the question into one user
// turn, preceded by the forwarded history.
func (gg *generator) Complete(ctx context.Context, req race.GenerateRequest) (string, error) {
	messages := make([]*ai.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		switch m.Role {
		case "assistant", "model":
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		}
	}

	var prompt strings.Builder
	prompt.WriteString("Personal context:\n")
	prompt.WriteString(req.Context)
	prompt.WriteString("\n\nQuestion: ")
	prompt.WriteString(req.Query)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(prompt.String())))

	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.model),
		ai.WithSystem(req.System),
		ai.WithMessages(messages...),
		ai.WithConfig(map[string]any{
			"temperature":     gg.temperature,
			"maxOutputTokens": gg.maxTokens,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("generating response: %w", err)
	}

	return resp.Text(), nil
}
