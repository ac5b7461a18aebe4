package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/koopa0/faqbot/internal/indexer"
)

// MutationQueue is the indexing surface the webhook needs.
type MutationQueue interface {
	OnMutation(m indexer.Mutation) error
}

// EntryHookHandler serves POST /api/hooks/entry, the content-mutation
// webhook. The CMS fires it after every entry create, update, or publish.
//
// Request body:
//
//	{"event": "entry.update", "model": "faq", "entry": {"id": 7, "documentId": "doc-7", "question": "...", "answer": "..."}}
//
// The handler enqueues an embedding task and answers 202 immediately;
// indexing outcome is never reported back to the caller. Delete events are
// accepted and ignored: the row cascade removes the embedding with the
// entry, so there is nothing to clean up.
type EntryHookHandler struct {
	queue  MutationQueue
	logger *slog.Logger
}

// NewEntryHookHandler creates the webhook handler.
func NewEntryHookHandler(queue MutationQueue, logger *slog.Logger) *EntryHookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntryHookHandler{queue: queue, logger: logger}
}

// RegisterRoutes registers the webhook route on the given mux.
func (h *EntryHookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/hooks/entry", h.handleEntry)
}

type entryHookRequest struct {
	Event string                     `json:"event,omitempty"`
	Model string                     `json:"model"`
	Entry map[string]json.RawMessage `json:"entry"`
}

// isDeleteEvent reports whether the lifecycle event needs no re-embedding.
func isDeleteEvent(event string) bool {
	return strings.Contains(strings.ToLower(event), "delete")
}

func (h *EntryHookHandler) handleEntry(w http.ResponseWriter, r *http.Request) {
	var req entryHookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "MISSING_MODEL", "model is required")
		return
	}

	if isDeleteEvent(req.Event) {
		h.logger.Debug("delete event ignored", "model", req.Model)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	m, err := mutationFromEntry(req.Model, req.Entry)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ENTRY", err.Error())
		return
	}

	if err := h.queue.OnMutation(m); err != nil {
		if errors.Is(err, indexer.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "indexer is shutting down")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_ENTRY", err.Error())
		return
	}

	h.logger.Debug("mutation accepted", "model", req.Model, "entry", m.Ref())
	w.WriteHeader(http.StatusAccepted)
}

// mutationFromEntry flattens the webhook entry payload into a mutation.
// String-valued fields become embedding candidates; the id and documentId
// keys carry identity and everything non-string is ignored.
func mutationFromEntry(model string, entry map[string]json.RawMessage) (indexer.Mutation, error) {
	if len(entry) == 0 {
		return indexer.Mutation{}, errors.New("entry is required")
	}

	m := indexer.Mutation{EntryType: model, Fields: make(map[string]string)}
	for key, raw := range entry {
		switch key {
		case "id":
			if err := json.Unmarshal(raw, &m.ID); err != nil {
				// Some sources send the id as a quoted number.
				var s string
				if err := json.Unmarshal(raw, &s); err != nil {
					return indexer.Mutation{}, fmt.Errorf("invalid entry id: %s", raw)
				}
				id, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					return indexer.Mutation{}, fmt.Errorf("invalid entry id: %q", s)
				}
				m.ID = id
			}
		case "documentId":
			if err := json.Unmarshal(raw, &m.DocumentID); err != nil {
				return indexer.Mutation{}, fmt.Errorf("invalid documentId: %s", raw)
			}
		default:
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				m.Fields[key] = s
			}
		}
	}

	if m.ID == 0 && m.DocumentID == "" {
		return indexer.Mutation{}, errors.New("entry carries neither id nor documentId")
	}
	return m, nil
}
