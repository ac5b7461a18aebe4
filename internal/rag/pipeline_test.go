package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/koopa0/faqbot/internal/faq"
	"github.com/koopa0/faqbot/internal/log"
)

type fakeRewriter struct {
	rewritten string
	err       error
	gotQ      string
	gotHist   []faq.Turn
}

func (f *fakeRewriter) Rewrite(_ context.Context, question string, history []faq.Turn) (string, error) {
	f.gotQ, f.gotHist = question, history
	if f.err != nil {
		return "", f.err
	}
	if f.rewritten == "" {
		return question, nil
	}
	return f.rewritten, nil
}

type fakeEmbedder struct {
	vec     []float32
	err     error
	gotText string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.gotText = text
	return f.vec, f.err
}

type fakeSearcher struct {
	matches  []faq.Match
	err      error
	gotLimit int
}

func (f *fakeSearcher) SearchNearest(_ context.Context, _ []float32, limit int) ([]faq.Match, error) {
	f.gotLimit = limit
	return f.matches, f.err
}

type fakeStreamer struct {
	chunks []string
	err    error
	gotReq StreamRequest
	block  bool // wait for ctx cancellation instead of producing chunks
}

func (f *fakeStreamer) Stream(ctx context.Context, req StreamRequest, emit func(string) error) error {
	f.gotReq = req
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		if err := emit(c); err != nil {
			return err
		}
	}
	return nil
}

// recordSink captures pipeline events in arrival order.
type recordSink struct {
	noMatch  string
	sources  []Source
	chunks   []string
	events   []string
	chunkErr error
}

func (s *recordSink) NoMatch(answer string) error {
	s.noMatch = answer
	s.events = append(s.events, "no_match")
	return nil
}

func (s *recordSink) Metadata(sources []Source) error {
	s.sources = sources
	s.events = append(s.events, "metadata")
	return nil
}

func (s *recordSink) Chunk(text string) error {
	if s.chunkErr != nil {
		return s.chunkErr
	}
	s.chunks = append(s.chunks, text)
	s.events = append(s.events, "chunk")
	return nil
}

func testConfig() PipelineConfig {
	return PipelineConfig{Threshold: 0.85, TopK: 4, Timeout: 5 * time.Second}
}

func newTestPipeline(t *testing.T, rw QueryRewriter, em TextEmbedder, se Searcher, st AnswerStreamer) *Pipeline {
	t.Helper()
	p, err := NewPipeline(rw, em, se, st, testConfig(), log.NewNop())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func confidentMatches() []faq.Match {
	return []faq.Match{
		{Entry: faq.Entry{ID: 7, DocumentID: "doc-7", Question: "Do you offer refunds?", Answer: "Yes, within 30 days."}, Distance: 0.2},
		{Entry: faq.Entry{ID: 9, DocumentID: "doc-9", Question: "How long do refunds take?", Answer: "Five business days."}, Distance: 0.4},
	}
}

func TestAskStreamsConfidentAnswer(t *testing.T) {
	rw := &fakeRewriter{}
	em := &fakeEmbedder{vec: []float32{0.1, 0.2}}
	se := &fakeSearcher{matches: confidentMatches()}
	st := &fakeStreamer{chunks: []string{"Yes, ", "within 30 days."}}
	sink := &recordSink{}

	p := newTestPipeline(t, rw, em, se, st)
	err := p.Ask(context.Background(), AskRequest{Question: "Do you offer refunds?"}, sink)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if got := strings.Join(sink.events, ","); got != "metadata,chunk,chunk" {
		t.Errorf("event order = %s", got)
	}
	if len(sink.sources) != 2 || sink.sources[0].DocumentID != "doc-7" {
		t.Errorf("sources = %+v", sink.sources)
	}
	if sink.sources[0].Question != "Do you offer refunds?" {
		t.Errorf("source question = %q", sink.sources[0].Question)
	}
	if got := strings.Join(sink.chunks, ""); got != "Yes, within 30 days." {
		t.Errorf("answer = %q", got)
	}
	if se.gotLimit != 4 {
		t.Errorf("retrieval limit = %d", se.gotLimit)
	}
	if st.gotReq.Question != "Do you offer refunds?" {
		t.Errorf("streamer question = %q", st.gotReq.Question)
	}
}

func TestAskNoMatchBelowConfidence(t *testing.T) {
	se := &fakeSearcher{matches: []faq.Match{{Entry: faq.Entry{ID: 1}, Distance: 1.4}}}
	st := &fakeStreamer{chunks: []string{"should not stream"}}
	sink := &recordSink{}

	p := newTestPipeline(t, &fakeRewriter{}, &fakeEmbedder{vec: []float32{1}}, se, st)
	if err := p.Ask(context.Background(), AskRequest{Question: "Any pets allowed?"}, sink); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if sink.noMatch != NoMatchAnswer {
		t.Errorf("no-match answer = %q", sink.noMatch)
	}
	if len(sink.chunks) != 0 || sink.sources != nil {
		t.Errorf("unexpected streaming on no-match: %+v", sink)
	}
}

func TestAskNoMatchOnEmptyRetrieval(t *testing.T) {
	sink := &recordSink{}
	p := newTestPipeline(t, &fakeRewriter{}, &fakeEmbedder{vec: []float32{1}}, &fakeSearcher{}, &fakeStreamer{})

	if err := p.Ask(context.Background(), AskRequest{Question: "Empty base?"}, sink); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if sink.noMatch != NoMatchAnswer {
		t.Errorf("expected no-match answer, got %+v", sink)
	}
}

func TestAskEmbedsRewrittenQuery(t *testing.T) {
	rw := &fakeRewriter{rewritten: "How much is the Commuter Pass?"}
	em := &fakeEmbedder{vec: []float32{1}}
	st := &fakeStreamer{chunks: []string{"It costs $20."}}
	sink := &recordSink{}

	history := []faq.Turn{
		{Role: faq.RoleUser, Content: "Tell me about the Commuter Pass"},
		{Role: faq.RoleAssistant, Content: "The Commuter Pass covers unlimited rides."},
	}
	p := newTestPipeline(t, rw, em, &fakeSearcher{matches: confidentMatches()}, st)
	err := p.Ask(context.Background(), AskRequest{Question: "how much is it?", History: history}, sink)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if em.gotText != "How much is the Commuter Pass?" {
		t.Errorf("embedded text = %q, want rewritten query", em.gotText)
	}
	if st.gotReq.StandaloneQuery != "How much is the Commuter Pass?" {
		t.Errorf("streamer standalone = %q", st.gotReq.StandaloneQuery)
	}
	if st.gotReq.LastAssistantTurn != "The Commuter Pass covers unlimited rides." {
		t.Errorf("last assistant turn = %q", st.gotReq.LastAssistantTurn)
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	p := newTestPipeline(t, &fakeRewriter{}, &fakeEmbedder{vec: []float32{1}}, &fakeSearcher{}, &fakeStreamer{})
	err := p.Ask(context.Background(), AskRequest{}, &recordSink{})
	if !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("err = %v, want ErrEmptyQuestion", err)
	}
}

func TestAskWrapsStageErrors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		build func() *Pipeline
		stage string
	}{
		{"embed failure", func() *Pipeline {
			return newTestPipeline(t, &fakeRewriter{}, &fakeEmbedder{err: boom}, &fakeSearcher{}, &fakeStreamer{})
		}, "embedding stage"},
		{"search failure", func() *Pipeline {
			return newTestPipeline(t, &fakeRewriter{}, &fakeEmbedder{vec: []float32{1}}, &fakeSearcher{err: boom}, &fakeStreamer{})
		}, "retrieval stage"},
		{"stream failure", func() *Pipeline {
			return newTestPipeline(t, &fakeRewriter{}, &fakeEmbedder{vec: []float32{1}},
				&fakeSearcher{matches: confidentMatches()}, &fakeStreamer{err: boom})
		}, "answer stage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Ask(context.Background(), AskRequest{Question: "q"}, &recordSink{})
			if !errors.Is(err, boom) {
				t.Fatalf("err = %v, want wrapped boom", err)
			}
			if !strings.Contains(err.Error(), tt.stage) {
				t.Errorf("err = %v, want %q prefix", err, tt.stage)
			}
		})
	}
}

func TestAskSinkErrorAbortsStreaming(t *testing.T) {
	sinkErr := errors.New("client gone")
	sink := &recordSink{chunkErr: sinkErr}
	st := &fakeStreamer{chunks: []string{"a", "b"}}

	p := newTestPipeline(t, &fakeRewriter{}, &fakeEmbedder{vec: []float32{1}},
		&fakeSearcher{matches: confidentMatches()}, st)
	err := p.Ask(context.Background(), AskRequest{Question: "q"}, sink)
	if !errors.Is(err, sinkErr) {
		t.Errorf("err = %v, want sink error", err)
	}
}

func TestAskCancellationSurfacesAsContextError(t *testing.T) {
	st := &fakeStreamer{block: true}
	p := newTestPipeline(t, &fakeRewriter{}, &fakeEmbedder{vec: []float32{1}},
		&fakeSearcher{matches: confidentMatches()}, st)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.Ask(ctx, AskRequest{Question: "q"}, &recordSink{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAskTimeoutSurfacesAsDeadlineExceeded(t *testing.T) {
	st := &fakeStreamer{block: true}
	cfg := PipelineConfig{Threshold: 0.85, TopK: 4, Timeout: 30 * time.Millisecond}
	p, err := NewPipeline(&fakeRewriter{}, &fakeEmbedder{vec: []float32{1}},
		&fakeSearcher{matches: confidentMatches()}, st, cfg, log.NewNop())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	err = p.Ask(context.Background(), AskRequest{Question: "q"}, &recordSink{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestNewPipelineValidation(t *testing.T) {
	rw, em := &fakeRewriter{}, &fakeEmbedder{}
	se, st := &fakeSearcher{}, &fakeStreamer{}

	if _, err := NewPipeline(nil, em, se, st, testConfig(), log.NewNop()); !errors.Is(err, ErrNilDependency) {
		t.Errorf("nil rewriter: err = %v", err)
	}
	if _, err := NewPipeline(rw, em, se, st, PipelineConfig{Threshold: 0.85, TopK: 0, Timeout: time.Second}, log.NewNop()); err == nil {
		t.Error("expected config validation error for topK 0")
	}
	if _, err := NewPipeline(rw, em, se, st, PipelineConfig{Threshold: 0, TopK: 4, Timeout: time.Second}, log.NewNop()); err == nil {
		t.Error("expected config validation error for zero threshold")
	}
}
