package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/koopa0/faqbot/internal/log"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func healthGet(t *testing.T, db Pinger, path string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHealthHandler(db, log.NewNop())
	s := NewServer(ServerConfig{}, nil, nil, nil, h, log.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	rec := healthGet(t, nil, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	if rec := healthGet(t, fakePinger{}, "/ready"); rec.Code != http.StatusOK {
		t.Errorf("healthy db: status = %d", rec.Code)
	}
	if rec := healthGet(t, fakePinger{err: errors.New("down")}, "/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy db: status = %d", rec.Code)
	}
	if rec := healthGet(t, nil, "/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("nil db: status = %d", rec.Code)
	}
}
