package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/faqbot/internal/faq"
)

const answerPromptHeader = `ROLE
You are a customer-support assistant answering from a verified FAQ knowledge base.

CORE INSTRUCTIONS
- Answer ONLY from the database context below. Never invent facts.
- Answer in the language of the user's question.
- Be direct: lead with the answer itself, not with preamble.

RESPONSE LOGIC
- CASE A - yes/no question: answer with a single sentence that starts with the verdict.
- CASE B - quantitative question (price, duration, count, date): answer with a single sentence containing the figure.
- CASE C - anything else: give the direct answer first, then any useful details from the context.`

// StreamRequest carries everything the answer model needs for one response.
type StreamRequest struct {
	// Question is the user's latest message, verbatim.
	Question string
	// StandaloneQuery is the rewritten form used for retrieval. Shown to the
	// model so it answers the resolved question, not the elliptical one.
	StandaloneQuery string
	// LastAssistantTurn is the assistant's previous reply, empty on the first
	// turn of a conversation.
	LastAssistantTurn string
	// Matches is the gated retrieval result, best match first.
	Matches []faq.Match
}

// Streamer generates the grounded answer and delivers it incrementally.
type Streamer struct {
	g     *genkit.Genkit
	model ai.Model
}

// NewStreamer creates a Streamer bound to the given model.
func NewStreamer(g *genkit.Genkit, model ai.Model) *Streamer {
	return &Streamer{g: g, model: model}
}

// answerContext renders the retrieved entries as the model's only source of
// truth, one Q/A pair per entry.
func answerContext(matches []faq.Match) string {
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, fmt.Sprintf("Q: %s\nA: %s", m.Entry.Question, m.Entry.Answer))
	}
	return strings.Join(blocks, "\n---\n")
}

func buildAnswerPrompt(req StreamRequest) string {
	var b strings.Builder
	b.WriteString(answerPromptHeader)
	b.WriteString("\n\nDATABASE CONTEXT\n")
	b.WriteString(answerContext(req.Matches))
	b.WriteString("\n\nLAST MESSAGE\nYour previous reply was: ")
	if req.LastAssistantTurn != "" {
		b.WriteString(req.LastAssistantTurn)
	} else {
		b.WriteString("None")
	}
	b.WriteString("\n\nCURRENT USER INPUT\n")
	b.WriteString(req.Question)
	if req.StandaloneQuery != "" && req.StandaloneQuery != req.Question {
		b.WriteString("\n(resolved as: ")
		b.WriteString(req.StandaloneQuery)
		b.WriteString(")")
	}
	return b.String()
}

// Stream generates the answer and invokes emit for each text chunk as it
// arrives. emit returning an error aborts generation with that error;
// context cancellation aborts with the context's error. The resolved query
// is the user message so the model answers the standalone question; the
// verbatim input travels in the system prompt.
func (s *Streamer) Stream(ctx context.Context, req StreamRequest, emit func(chunk string) error) error {
	prompt := req.StandaloneQuery
	if prompt == "" {
		prompt = req.Question
	}

	_, err := genkit.Generate(ctx, s.g,
		ai.WithModel(s.model),
		ai.WithSystem(buildAnswerPrompt(req)),
		ai.WithPrompt(prompt),
		ai.WithConfig(&ai.GenerationCommonConfig{Temperature: 0.3}),
		ai.WithStreaming(func(cbCtx context.Context, chunk *ai.ModelResponseChunk) error {
			if err := cbCtx.Err(); err != nil {
				return err
			}
			text := chunk.Text()
			if text == "" {
				return nil
			}
			return emit(text)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("answer generation: %w", err)
	}
	return nil
}
