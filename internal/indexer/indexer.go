// Package indexer keeps entry embeddings current in the background. Content
// mutations are fed into a coalescing work queue: per-entry events arriving
// within the settle delay collapse into one embedding task carrying the
// latest payload, and a small worker pool executes the tasks. Failures are
// logged and swallowed, never propagated to the mutation source; a failed
// entry is re-embedded on its next mutation or by a bulk reindex.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/koopa0/faqbot/internal/faq"
	"github.com/koopa0/faqbot/internal/settings"
)

// Sentinel errors returned by OnMutation.
var (
	ErrClosed     = errors.New("indexer closed")
	ErrNoIdentity = errors.New("mutation carries no entry identity")
)

// Mutation is one content change event. DocumentID is the stable identity
// when present; ID is the fallback. Fields holds the entry's current field
// values; which of them contribute to the embedding is decided at task
// execution time from the persisted settings, not at enqueue time.
type Mutation struct {
	EntryType  string
	ID         int64
	DocumentID string
	Fields     map[string]string
}

// Ref returns the entry reference this mutation addresses.
func (m Mutation) Ref() faq.Ref {
	return faq.Ref{ID: m.ID, DocumentID: m.DocumentID}
}

// EntryMutation builds the mutation a knowledge entry would emit, used by
// the bulk reindex path to push existing rows through the same queue as
// live webhook events.
func EntryMutation(e faq.Entry) Mutation {
	return Mutation{
		EntryType:  faq.EntryType,
		ID:         e.ID,
		DocumentID: e.DocumentID,
		Fields: map[string]string{
			"question": e.Question,
			"answer":   e.Answer,
		},
	}
}

// SettingsSource yields the current field-selection configuration. Read
// once per task so admin edits apply without a restart.
type SettingsSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// TextEmbedder embeds one blob of entry text.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingWriter persists a computed embedding.
type EmbeddingWriter interface {
	SetEmbedding(ctx context.Context, ref faq.Ref, vec []float32) error
}

// Config tunes the queue.
type Config struct {
	// SettleDelay is how long an entry's task waits after its latest
	// mutation before running, so rapid edit bursts embed once.
	SettleDelay time.Duration
	// Workers is the task pool size.
	Workers int
	// TaskTimeout bounds one embedding task.
	TaskTimeout time.Duration
}

func (c Config) validate() error {
	if c.SettleDelay < 0 {
		return errors.New("settle delay must not be negative")
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.TaskTimeout <= 0 {
		return errors.New("task timeout must be positive")
	}
	return nil
}

type pendingEntry struct {
	timer *time.Timer
	mut   Mutation
}

// Indexer is the coalescing embedding queue. Safe for concurrent use.
type Indexer struct {
	cfg      Config
	settings SettingsSource
	embedder TextEmbedder
	store    EmbeddingWriter
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEntry
	closed  bool

	tasks    chan Mutation
	quit     chan struct{}
	workers  sync.WaitGroup
	inflight sync.WaitGroup
}

// New creates an Indexer and starts its worker pool.
func New(cfg Config, src SettingsSource, embedder TextEmbedder, store EmbeddingWriter,
	logger *slog.Logger) (*Indexer, error) {

	if src == nil || embedder == nil || store == nil {
		return nil, errors.New("nil indexer dependency")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("indexer config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	idx := &Indexer{
		cfg:      cfg,
		settings: src,
		embedder: embedder,
		store:    store,
		logger:   logger,
		pending:  make(map[string]*pendingEntry),
		tasks:    make(chan Mutation),
		quit:     make(chan struct{}),
	}
	idx.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go idx.worker()
	}
	return idx, nil
}

// OnMutation enqueues an embedding task for the mutated entry. Repeated
// mutations of the same entry within the settle delay collapse into one
// task holding the latest payload, and each mutation restarts the delay.
// Never blocks on task execution.
func (i *Indexer) OnMutation(m Mutation) error {
	if m.ID == 0 && m.DocumentID == "" {
		return ErrNoIdentity
	}

	key := m.EntryType + "/" + m.Ref().String()

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}

	if p, ok := i.pending[key]; ok {
		p.mut = m
		p.timer.Reset(i.cfg.SettleDelay)
		return nil
	}

	i.inflight.Add(1)
	p := &pendingEntry{mut: m}
	p.timer = time.AfterFunc(i.cfg.SettleDelay, func() { i.dispatch(key) })
	i.pending[key] = p
	return nil
}

// dispatch moves a settled entry from the pending map to the task channel.
func (i *Indexer) dispatch(key string) {
	i.mu.Lock()
	p, ok := i.pending[key]
	if !ok {
		// Already flushed by Close.
		i.mu.Unlock()
		return
	}
	delete(i.pending, key)
	i.mu.Unlock()

	i.tasks <- p.mut
}

func (i *Indexer) worker() {
	defer i.workers.Done()
	for {
		select {
		case m := <-i.tasks:
			i.run(m)
			i.inflight.Done()
		case <-i.quit:
			return
		}
	}
}

// run executes one embedding task. Errors are logged, never returned: the
// mutation source must not see indexing failures.
func (i *Indexer) run(m Mutation) {
	ctx, cancel := context.WithTimeout(context.Background(), i.cfg.TaskTimeout)
	defer cancel()

	ref := m.Ref()
	logger := i.logger.With("entry", ref.String(), "type", m.EntryType)

	cfg, err := i.settings.Get(ctx)
	if err != nil {
		logger.Warn("indexing skipped: reading settings failed", "error", err)
		return
	}

	fields := cfg.Fields(m.EntryType)
	if len(fields) == 0 {
		logger.Debug("indexing skipped: no field selection for entry type")
		return
	}

	blob := buildBlob(fields, m.Fields)
	if blob == "" {
		logger.Debug("indexing skipped: selected fields are empty")
		return
	}

	vec, err := i.embedder.Embed(ctx, blob)
	if err != nil {
		logger.Warn("indexing failed: embedding", "error", err)
		return
	}

	if err := i.store.SetEmbedding(ctx, ref, vec); err != nil {
		logger.Warn("indexing failed: saving embedding", "error", err)
		return
	}

	logger.Debug("entry indexed", "fields", len(fields), "dim", len(vec))
}

// buildBlob renders the selected fields as "name: value" lines, in the
// configured order, skipping absent or empty fields.
func buildBlob(selected []string, values map[string]string) string {
	var lines []string
	for _, name := range selected {
		if v := strings.TrimSpace(values[name]); v != "" {
			lines = append(lines, name+": "+v)
		}
	}
	return strings.Join(lines, "\n")
}

// Wait blocks until every accepted mutation has been fully processed,
// including entries still sitting out their settle delay. Test and
// shutdown aid; new mutations arriving during Wait extend it.
func (i *Indexer) Wait() {
	i.inflight.Wait()
}

// Close stops accepting mutations, runs everything still pending without
// waiting out settle delays, and shuts the worker pool down. Safe to call
// once.
func (i *Indexer) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	flush := make([]Mutation, 0, len(i.pending))
	for key, p := range i.pending {
		p.timer.Stop()
		flush = append(flush, p.mut)
		delete(i.pending, key)
	}
	i.mu.Unlock()

	// Timers that fired before Stop find their key gone and return; their
	// inflight slot is covered by the flush below.
	for _, m := range flush {
		i.tasks <- m
	}

	i.inflight.Wait()
	close(i.quit)
	i.workers.Wait()
}
