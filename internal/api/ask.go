package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/koopa0/faqbot/internal/faq"
	"github.com/koopa0/faqbot/internal/rag"
)

// Asker is the query pipeline surface the handler needs.
type Asker interface {
	Ask(ctx context.Context, req rag.AskRequest, sink rag.Sink) error
}

// AskHandler serves POST /api/ask.
//
// Request body: {"question": "...", "history": [{"role": "...", "content": "..."}]}
//
// A confident answer is streamed as Server-Sent Events:
//
//	event: metadata        {"sources": ["matched question", ...]}
//	data: "chunk text"     (repeated; JSON-encoded string per chunk)
//	event: done            [DONE]
//	event: error           {"code": "...", "message": "..."}  (on mid-stream failure)
//
// When retrieval finds nothing confident, the response is a plain JSON
// document instead: {"type": "no_match", "answer": "...", "sources": []}.
type AskHandler struct {
	pipeline Asker
	logger   *slog.Logger
}

// NewAskHandler creates the ask handler.
func NewAskHandler(pipeline Asker, logger *slog.Logger) *AskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AskHandler{pipeline: pipeline, logger: logger}
}

// RegisterRoutes registers the ask route on the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ask", h.handleAsk)
}

type askRequest struct {
	Question string     `json:"question"`
	History  []faq.Turn `json:"history,omitempty"`
}

type noMatchResponse struct {
	Type    string   `json:"type"`
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// metadataPayload lists the question text of each matched entry. Clients
// render these as plain citation strings.
type metadataPayload struct {
	Sources []string `json:"sources"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *AskHandler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUESTION", "question is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("response writer does not support streaming")
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming not supported")
		return
	}

	sink := &askSink{w: w, flusher: flusher}
	err := h.pipeline.Ask(r.Context(), rag.AskRequest{Question: req.Question, History: req.History}, sink)
	switch {
	case err == nil:
		if sink.streaming {
			sink.writeEvent("done", "[DONE]")
		}
	case errors.Is(err, context.Canceled):
		// Client gone; nothing useful left to write.
		h.logger.Debug("ask aborted by client")
	case errors.Is(err, context.DeadlineExceeded):
		// Once streaming has begun a deadline truncates the answer; the
		// client sees the stream end without a done marker.
		h.logger.Warn("ask timed out", "mid_stream", sink.streaming)
		if !sink.streaming {
			writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "the answer took too long to produce")
		}
	case errors.Is(err, rag.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, "MISSING_QUESTION", "question is required")
	default:
		h.logger.Error("ask failed", "error", err)
		h.fail(sink, http.StatusInternalServerError, "PIPELINE_ERROR", "failed to produce an answer")
	}
}

// fail reports a pipeline failure in whichever framing the response is in:
// an SSE error event once streaming has begun, a JSON error otherwise.
func (h *AskHandler) fail(sink *askSink, status int, code, message string) {
	if sink.streaming {
		payload, _ := json.Marshal(errorPayload{Code: code, Message: message})
		sink.writeEvent("error", string(payload))
		return
	}
	writeError(sink.w, status, code, message)
}

// askSink adapts the HTTP response to the pipeline's event sink. The first
// event decides the framing: Metadata switches to SSE, NoMatch stays JSON.
type askSink struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	streaming bool
}

func (s *askSink) NoMatch(answer string) error {
	writeJSON(s.w, http.StatusOK, noMatchResponse{
		Type:    "no_match",
		Answer:  answer,
		Sources: []string{},
	})
	return nil
}

func (s *askSink) Metadata(sources []rag.Source) error {
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	s.streaming = true

	questions := make([]string, 0, len(sources))
	for _, src := range sources {
		questions = append(questions, src.Question)
	}
	payload, err := json.Marshal(metadataPayload{Sources: questions})
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	s.writeEvent("metadata", string(payload))
	return nil
}

func (s *askSink) Chunk(text string) error {
	payload, err := json.Marshal(text)
	if err != nil {
		return fmt.Errorf("encoding chunk: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *askSink) writeEvent(event, data string) {
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}
