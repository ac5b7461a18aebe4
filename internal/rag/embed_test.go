package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/koopa0/faqbot/internal/testutil"
)

func TestEmbedReturnsVector(t *testing.T) {
	g := testutil.NewGenkit(t)
	mock := testutil.NewMockEmbedder(16)
	e := NewEmbedder(mock.RegisterEmbedder(g))

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 16 {
		t.Errorf("vector length = %d", len(vec))
	}
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	g := testutil.NewGenkit(t)
	mock := testutil.NewMockEmbedder(4)
	e := NewEmbedder(mock.RegisterEmbedder(g))

	if _, err := e.Embed(context.Background(), ""); !errors.Is(err, ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestEmbedWrapsProviderFailure(t *testing.T) {
	g := testutil.NewGenkit(t)
	mock := testutil.NewMockEmbedder(4)
	boom := errors.New("provider down")
	mock.FailWith(boom)
	e := NewEmbedder(mock.RegisterEmbedder(g))

	if _, err := e.Embed(context.Background(), "hello"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped provider error", err)
	}
}
