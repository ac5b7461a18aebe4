package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// ErrEmptyText indicates Embed was called with nothing to embed.
// Callers are expected to guard against empty blobs before calling.
var ErrEmptyText = errors.New("empty text")

// Embedder turns text into a fixed-length vector via a Genkit embedder.
// One outbound call per Embed, no internal retries: a failure means the
// caller skips the dependent operation, it is never fatal for the process.
type Embedder struct {
	embedder ai.Embedder
}

// NewEmbedder wraps a Genkit embedder.
func NewEmbedder(embedder ai.Embedder) *Embedder {
	return &Embedder{embedder: embedder}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embed call: %w", err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("embedder returned no vector")
	}

	return resp.Embeddings[0].Embedding, nil
}
