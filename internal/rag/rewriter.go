package rag

import (
	"context"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/faqbot/internal/faq"
)

const rewriteSystemPrompt = `You rewrite a user's latest message into a fully standalone search query, using the conversation history for context.

Rules:
1. Pronoun and dependency resolution: replace pronouns and vague references ("it", "that one", "the second option") with the concrete subject they refer to in the history.
2. Specifics and independence: the rewritten query must be understandable with zero conversation history. Carry over concrete subjects, but do NOT import topics the latest message does not depend on.

Example: if the history discusses the Commuter Pass and the user then asks "how much is it?", rewrite to "How much is the Commuter Pass?". But if the user changes topic and asks "do you have group discounts for 7 people?", do NOT mention the Commuter Pass.

Output ONLY the rewritten query, with no quotes and no commentary.`

// maxHistoryTurns caps how much conversation is shown to the rewrite model.
const maxHistoryTurns = 4

// Rewriter condenses a follow-up question plus conversation history into a
// standalone query suitable for embedding. Best effort: any model failure
// falls back to the original question so a flaky rewrite never blocks an
// answer.
type Rewriter struct {
	g      *genkit.Genkit
	model  ai.Model
	logger *slog.Logger
}

// NewRewriter creates a Rewriter bound to the given model.
func NewRewriter(g *genkit.Genkit, model ai.Model, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{g: g, model: model, logger: logger}
}

// Rewrite returns the standalone form of question. With no history the
// question is already standalone and is returned as-is without a model call.
func (r *Rewriter) Rewrite(ctx context.Context, question string, history []faq.Turn) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	messages := make([]*ai.Message, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case faq.RoleAssistant:
			messages = append(messages, ai.NewModelTextMessage(turn.Content))
		default:
			messages = append(messages, ai.NewUserTextMessage(turn.Content))
		}
	}
	messages = append(messages, ai.NewUserTextMessage(question))

	resp, err := genkit.Generate(ctx, r.g,
		ai.WithModel(r.model),
		ai.WithSystem(rewriteSystemPrompt),
		ai.WithMessages(messages...),
		ai.WithConfig(&ai.GenerationCommonConfig{Temperature: 0}),
	)
	if err != nil {
		// Cancellation must propagate; everything else degrades to the
		// original question.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.Warn("query rewrite failed, using original question", "error", err)
		return question, nil
	}

	rewritten := strings.TrimSpace(resp.Text())
	if rewritten == "" {
		return question, nil
	}
	return rewritten, nil
}
