package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/faqbot/internal/faq"
)

// NoMatchAnswer is the canned reply when retrieval finds nothing confident
// enough to answer from.
const NoMatchAnswer = "I couldn't find this information in our knowledge base."

// Sentinel errors for pipeline construction and requests.
var (
	ErrEmptyQuestion = errors.New("empty question")
	ErrNilDependency = errors.New("nil pipeline dependency")
)

// TextEmbedder embeds a query for retrieval.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QueryRewriter turns a follow-up question into a standalone query.
type QueryRewriter interface {
	Rewrite(ctx context.Context, question string, history []faq.Turn) (string, error)
}

// AnswerStreamer generates the grounded answer incrementally.
type AnswerStreamer interface {
	Stream(ctx context.Context, req StreamRequest, emit func(chunk string) error) error
}

// Searcher is the retrieval surface of the FAQ store.
type Searcher interface {
	SearchNearest(ctx context.Context, vec []float32, limit int) ([]faq.Match, error)
}

// Source identifies one knowledge entry a streamed answer is grounded on.
// The question text doubles as the user-facing source label.
type Source struct {
	ID         int64
	DocumentID string
	Question   string
}

// Sink receives the pipeline's output events for one request, in order:
// either exactly one NoMatch call, or one Metadata call followed by zero or
// more Chunk calls. A Sink error aborts the request.
type Sink interface {
	// NoMatch delivers the canned answer for an unconfident retrieval.
	NoMatch(answer string) error
	// Metadata announces the sources the streamed answer is grounded on.
	Metadata(sources []Source) error
	// Chunk delivers one increment of the streamed answer.
	Chunk(text string) error
}

// AskRequest is one question against the knowledge base.
type AskRequest struct {
	Question string
	History  []faq.Turn
}

// PipelineConfig bounds one Ask call.
type PipelineConfig struct {
	// Threshold is the maximum cosine distance still considered a confident
	// match.
	Threshold float64
	// TopK is how many nearest entries to retrieve.
	TopK int
	// Timeout bounds the whole request, all model calls included.
	Timeout time.Duration
}

func (c PipelineConfig) validate() error {
	if c.Threshold <= 0 {
		return errors.New("threshold must be positive")
	}
	if c.TopK < 1 {
		return errors.New("topK must be at least 1")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// Pipeline runs the full query path: rewrite, embed, retrieve, gate, answer.
// Stateless across requests and safe for concurrent use.
type Pipeline struct {
	rewriter QueryRewriter
	embedder TextEmbedder
	searcher Searcher
	streamer AnswerStreamer
	cfg      PipelineConfig
	logger   *slog.Logger
}

// NewPipeline wires the query path. All dependencies are required.
func NewPipeline(rewriter QueryRewriter, embedder TextEmbedder, searcher Searcher,
	streamer AnswerStreamer, cfg PipelineConfig, logger *slog.Logger) (*Pipeline, error) {

	if rewriter == nil || embedder == nil || searcher == nil || streamer == nil {
		return nil, ErrNilDependency
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		rewriter: rewriter,
		embedder: embedder,
		searcher: searcher,
		streamer: streamer,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Ask answers one question, delivering output through sink. The call returns
// after the final chunk (or the no-match answer) has been delivered, or with
// the first stage error. Context cancellation and the configured timeout
// surface as the context's error, so callers can tell them apart from stage
// failures with errors.Is.
func (p *Pipeline) Ask(ctx context.Context, req AskRequest, sink Sink) error {
	if req.Question == "" {
		return ErrEmptyQuestion
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	requestID := uuid.NewString()
	logger := p.logger.With("request_id", requestID)
	start := time.Now()

	query, err := p.rewriter.Rewrite(ctx, req.Question, req.History)
	if err != nil {
		return fmt.Errorf("rewrite stage: %w", err)
	}
	if query != req.Question {
		logger.Debug("query rewritten", "standalone", query)
	}

	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embedding stage: %w", err)
	}

	matches, err := p.searcher.SearchNearest(ctx, vec, p.cfg.TopK)
	if err != nil {
		return fmt.Errorf("retrieval stage: %w", err)
	}

	if !Accept(matches, p.cfg.Threshold) {
		logger.Info("no confident match",
			"matches", len(matches),
			"elapsed", time.Since(start))
		if err := sink.NoMatch(NoMatchAnswer); err != nil {
			return fmt.Errorf("delivering no-match answer: %w", err)
		}
		return nil
	}

	sources := make([]Source, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, Source{
			ID:         m.Entry.ID,
			DocumentID: m.Entry.DocumentID,
			Question:   m.Entry.Question,
		})
	}
	if err := sink.Metadata(sources); err != nil {
		return fmt.Errorf("delivering metadata: %w", err)
	}

	streamReq := StreamRequest{
		Question:          req.Question,
		StandaloneQuery:   query,
		LastAssistantTurn: faq.LastAssistantContent(req.History),
		Matches:           matches,
	}
	if err := p.streamer.Stream(ctx, streamReq, sink.Chunk); err != nil {
		return fmt.Errorf("answer stage: %w", err)
	}

	logger.Info("question answered",
		"sources", len(sources),
		"best_distance", matches[0].Distance,
		"elapsed", time.Since(start))
	return nil
}
