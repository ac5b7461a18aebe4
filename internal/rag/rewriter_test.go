package rag

import (
	"context"
	"testing"

	"github.com/koopa0/faqbot/internal/faq"
	"github.com/koopa0/faqbot/internal/log"
	"github.com/koopa0/faqbot/internal/testutil"
)

func TestRewritePassthroughWithoutHistory(t *testing.T) {
	g := testutil.NewGenkit(t)
	mock := testutil.NewMockLLM("SHOULD NOT BE CALLED")
	model := mock.RegisterModel(g)
	rw := NewRewriter(g, model, log.NewNop())

	got, err := rw.Rewrite(context.Background(), "What are your opening hours?", nil)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != "What are your opening hours?" {
		t.Errorf("rewritten = %q, want passthrough", got)
	}
	if len(mock.Calls()) != 0 {
		t.Error("model should not be called without history")
	}
}

func TestRewriteResolvesPronouns(t *testing.T) {
	g := testutil.NewGenkit(t)
	mock := testutil.NewMockLLM("How much is the Commuter Pass?")
	model := mock.RegisterModel(g)
	rw := NewRewriter(g, model, log.NewNop())

	history := []faq.Turn{
		{Role: faq.RoleUser, Content: "Tell me about the Commuter Pass"},
		{Role: faq.RoleAssistant, Content: "The Commuter Pass covers unlimited rides."},
	}
	got, err := rw.Rewrite(context.Background(), "how much is it?", history)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != "How much is the Commuter Pass?" {
		t.Errorf("rewritten = %q", got)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("model calls = %d", len(calls))
	}
	if calls[0].UserMessage != "how much is it?" {
		t.Errorf("last user message seen by model = %q", calls[0].UserMessage)
	}
}

func TestRewriteCapsHistory(t *testing.T) {
	g := testutil.NewGenkit(t)
	mock := testutil.NewMockLLM("standalone")
	model := mock.RegisterModel(g)
	rw := NewRewriter(g, model, log.NewNop())

	var history []faq.Turn
	for i := 0; i < 10; i++ {
		history = append(history, faq.Turn{Role: faq.RoleUser, Content: "filler"})
	}

	if _, err := rw.Rewrite(context.Background(), "follow-up", history); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	// The latest message must still be the one patterns match against.
	calls := mock.Calls()
	if len(calls) != 1 || calls[0].UserMessage != "follow-up" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestRewriteEmptyModelOutputFallsBack(t *testing.T) {
	g := testutil.NewGenkit(t)
	mock := testutil.NewMockLLM("   ")
	model := mock.RegisterModel(g)
	rw := NewRewriter(g, model, log.NewNop())

	history := []faq.Turn{{Role: faq.RoleUser, Content: "earlier"}}
	got, err := rw.Rewrite(context.Background(), "original question", history)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != "original question" {
		t.Errorf("rewritten = %q, want fallback to original", got)
	}
}
