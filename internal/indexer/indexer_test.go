package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/koopa0/faqbot/internal/faq"
	"github.com/koopa0/faqbot/internal/log"
	"github.com/koopa0/faqbot/internal/settings"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSettings struct {
	mu  sync.Mutex
	cfg settings.Settings
	err error
}

func (f *fakeSettings) Get(context.Context) (settings.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, f.err
}

func (f *fakeSettings) set(cfg settings.Settings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
}

type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, text)
	return []float32{1, 2, 3}, nil
}

func (f *fakeEmbedder) embedded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeWriter struct {
	mu     sync.Mutex
	err    error
	writes []faq.Ref
}

func (f *fakeWriter) SetEmbedding(_ context.Context, ref faq.Ref, _ []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, ref)
	return nil
}

func (f *fakeWriter) written() []faq.Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]faq.Ref(nil), f.writes...)
}

func faqSettings() settings.Settings {
	return settings.Settings{FieldSelection: map[string][]string{
		faq.EntryType: {"question", "answer"},
	}}
}

func testConfig() Config {
	return Config{SettleDelay: 10 * time.Millisecond, Workers: 2, TaskTimeout: 5 * time.Second}
}

func newTestIndexer(t *testing.T, src SettingsSource, em TextEmbedder, w EmbeddingWriter) *Indexer {
	t.Helper()
	idx, err := New(testConfig(), src, em, w, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(idx.Close)
	return idx
}

func refundMutation() Mutation {
	return Mutation{
		EntryType:  faq.EntryType,
		ID:         1,
		DocumentID: "doc-1",
		Fields:     map[string]string{"question": "Refunds?", "answer": "Yes within 30 days."},
	}
}

func TestIndexerEmbedsMutatedEntry(t *testing.T) {
	src := &fakeSettings{cfg: faqSettings()}
	em := &fakeEmbedder{}
	w := &fakeWriter{}
	idx := newTestIndexer(t, src, em, w)

	if err := idx.OnMutation(refundMutation()); err != nil {
		t.Fatalf("OnMutation: %v", err)
	}
	idx.Wait()

	texts := em.embedded()
	if len(texts) != 1 {
		t.Fatalf("embedded %d blobs, want 1", len(texts))
	}
	if texts[0] != "question: Refunds?\nanswer: Yes within 30 days." {
		t.Errorf("blob = %q", texts[0])
	}

	writes := w.written()
	if len(writes) != 1 || writes[0].DocumentID != "doc-1" {
		t.Errorf("writes = %+v", writes)
	}
}

func TestIndexerCoalescesBurst(t *testing.T) {
	src := &fakeSettings{cfg: faqSettings()}
	em := &fakeEmbedder{}
	w := &fakeWriter{}
	idx := newTestIndexer(t, src, em, w)

	m := refundMutation()
	for i := 0; i < 5; i++ {
		m.Fields["answer"] = "draft"
		if err := idx.OnMutation(m); err != nil {
			t.Fatalf("OnMutation: %v", err)
		}
	}
	m.Fields = map[string]string{"question": "Refunds?", "answer": "final text"}
	if err := idx.OnMutation(m); err != nil {
		t.Fatalf("OnMutation: %v", err)
	}
	idx.Wait()

	texts := em.embedded()
	if len(texts) != 1 {
		t.Fatalf("burst produced %d tasks, want 1", len(texts))
	}
	if texts[0] != "question: Refunds?\nanswer: final text" {
		t.Errorf("coalesced blob = %q, want latest payload", texts[0])
	}
}

func TestIndexerKeepsDistinctEntriesApart(t *testing.T) {
	src := &fakeSettings{cfg: faqSettings()}
	em := &fakeEmbedder{}
	w := &fakeWriter{}
	idx := newTestIndexer(t, src, em, w)

	a := refundMutation()
	b := refundMutation()
	b.ID, b.DocumentID = 2, "doc-2"

	if err := idx.OnMutation(a); err != nil {
		t.Fatalf("OnMutation a: %v", err)
	}
	if err := idx.OnMutation(b); err != nil {
		t.Fatalf("OnMutation b: %v", err)
	}
	idx.Wait()

	if got := len(w.written()); got != 2 {
		t.Errorf("wrote %d embeddings, want 2", got)
	}
}

func TestIndexerSkipsUnconfiguredType(t *testing.T) {
	src := &fakeSettings{} // no field selection at all
	em := &fakeEmbedder{}
	w := &fakeWriter{}
	idx := newTestIndexer(t, src, em, w)

	if err := idx.OnMutation(refundMutation()); err != nil {
		t.Fatalf("OnMutation: %v", err)
	}
	idx.Wait()

	if len(em.embedded()) != 0 || len(w.written()) != 0 {
		t.Error("unconfigured entry type must not be embedded")
	}
}

func TestIndexerSkipsEmptyBlob(t *testing.T) {
	src := &fakeSettings{cfg: faqSettings()}
	em := &fakeEmbedder{}
	w := &fakeWriter{}
	idx := newTestIndexer(t, src, em, w)

	m := refundMutation()
	m.Fields = map[string]string{"question": "  ", "answer": ""}
	if err := idx.OnMutation(m); err != nil {
		t.Fatalf("OnMutation: %v", err)
	}
	idx.Wait()

	if len(em.embedded()) != 0 {
		t.Error("empty blob must not be embedded")
	}
}

func TestIndexerSwallowsFailures(t *testing.T) {
	src := &fakeSettings{cfg: faqSettings()}
	em := &fakeEmbedder{err: errors.New("provider down")}
	w := &fakeWriter{}
	idx := newTestIndexer(t, src, em, w)

	if err := idx.OnMutation(refundMutation()); err != nil {
		t.Fatalf("OnMutation: %v", err)
	}
	idx.Wait()

	if len(w.written()) != 0 {
		t.Error("failed embedding must not be written")
	}

	// The queue keeps working after a failure.
	em.mu.Lock()
	em.err = nil
	em.mu.Unlock()
	if err := idx.OnMutation(refundMutation()); err != nil {
		t.Fatalf("OnMutation after failure: %v", err)
	}
	idx.Wait()
	if len(w.written()) != 1 {
		t.Errorf("writes after recovery = %d, want 1", len(w.written()))
	}
}

func TestIndexerReReadsSettingsPerTask(t *testing.T) {
	src := &fakeSettings{cfg: faqSettings()}
	em := &fakeEmbedder{}
	w := &fakeWriter{}
	idx := newTestIndexer(t, src, em, w)

	if err := idx.OnMutation(refundMutation()); err != nil {
		t.Fatalf("OnMutation: %v", err)
	}
	idx.Wait()

	// Narrow the selection; the next task must see it without any restart.
	src.set(settings.Settings{FieldSelection: map[string][]string{
		faq.EntryType: {"question"},
	}})
	if err := idx.OnMutation(refundMutation()); err != nil {
		t.Fatalf("OnMutation: %v", err)
	}
	idx.Wait()

	texts := em.embedded()
	if len(texts) != 2 {
		t.Fatalf("embedded %d blobs, want 2", len(texts))
	}
	if texts[1] != "question: Refunds?" {
		t.Errorf("second blob = %q, want question only", texts[1])
	}
}

func TestIndexerCloseFlushesPending(t *testing.T) {
	src := &fakeSettings{cfg: faqSettings()}
	em := &fakeEmbedder{}
	w := &fakeWriter{}
	cfg := Config{SettleDelay: time.Hour, Workers: 1, TaskTimeout: 5 * time.Second}
	idx, err := New(cfg, src, em, w, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := idx.OnMutation(refundMutation()); err != nil {
		t.Fatalf("OnMutation: %v", err)
	}
	idx.Close()

	if len(w.written()) != 1 {
		t.Errorf("Close left pending work unprocessed: %d writes", len(w.written()))
	}
	if err := idx.OnMutation(refundMutation()); !errors.Is(err, ErrClosed) {
		t.Errorf("OnMutation after Close = %v, want ErrClosed", err)
	}
}

func TestOnMutationRejectsMissingIdentity(t *testing.T) {
	idx := newTestIndexer(t, &fakeSettings{}, &fakeEmbedder{}, &fakeWriter{})
	err := idx.OnMutation(Mutation{EntryType: faq.EntryType})
	if !errors.Is(err, ErrNoIdentity) {
		t.Errorf("err = %v, want ErrNoIdentity", err)
	}
}

func TestBuildBlobOrdering(t *testing.T) {
	blob := buildBlob([]string{"answer", "question"}, map[string]string{
		"question": "Q", "answer": "A", "ignored": "X",
	})
	if blob != "answer: A\nquestion: Q" {
		t.Errorf("blob = %q, want configured order", blob)
	}
}

func TestEntryMutation(t *testing.T) {
	e := faq.Entry{ID: 4, DocumentID: "doc-4", Question: "Q", Answer: "A"}
	m := EntryMutation(e)
	if m.EntryType != faq.EntryType || m.DocumentID != "doc-4" || m.Fields["answer"] != "A" {
		t.Errorf("EntryMutation = %+v", m)
	}
}
