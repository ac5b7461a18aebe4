package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/koopa0/faqbot/internal/settings"
)

// SettingsAccess is the settings surface the admin handlers need.
type SettingsAccess interface {
	Get(ctx context.Context) (settings.Settings, error)
	Set(ctx context.Context, in settings.Settings) error
}

// SettingsHandler serves the admin settings endpoints. The API key is
// write-only over HTTP: reads report whether one is set, never its value.
type SettingsHandler struct {
	store  SettingsAccess
	logger *slog.Logger
}

// NewSettingsHandler creates the admin settings handler.
func NewSettingsHandler(store SettingsAccess, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{store: store, logger: logger}
}

// RegisterRoutes registers the admin routes on the given mux.
func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/admin/settings", h.handleGet)
	mux.HandleFunc("PUT /api/admin/settings", h.handlePut)
}

type settingsView struct {
	HasAPIKey      bool                `json:"hasApiKey"`
	FieldSelection map[string][]string `json:"config,omitempty"`
}

type settingsUpdate struct {
	OpenAIKey      *string             `json:"openaiKey,omitempty"`
	FieldSelection map[string][]string `json:"config,omitempty"`
}

func (h *SettingsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	cur, err := h.store.Get(r.Context())
	if err != nil {
		h.logger.Error("reading settings", "error", err)
		writeError(w, http.StatusInternalServerError, "SETTINGS_READ_FAILED", "failed to read settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsView{
		HasAPIKey:      cur.OpenAIKey != "",
		FieldSelection: cur.FieldSelection,
	})
}

// handlePut replaces the field selection and optionally the API key. An
// absent openaiKey keeps the stored key; an explicit empty string clears it.
func (h *SettingsHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	var update settingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	cur, err := h.store.Get(r.Context())
	if err != nil {
		h.logger.Error("reading settings", "error", err)
		writeError(w, http.StatusInternalServerError, "SETTINGS_READ_FAILED", "failed to read settings")
		return
	}

	next := settings.Settings{
		OpenAIKey:      cur.OpenAIKey,
		FieldSelection: update.FieldSelection,
	}
	if update.OpenAIKey != nil {
		next.OpenAIKey = *update.OpenAIKey
	}

	if err := h.store.Set(r.Context(), next); err != nil {
		h.logger.Error("writing settings", "error", err)
		writeError(w, http.StatusInternalServerError, "SETTINGS_WRITE_FAILED", "failed to write settings")
		return
	}

	writeJSON(w, http.StatusOK, settingsView{
		HasAPIKey:      next.OpenAIKey != "",
		FieldSelection: next.FieldSelection,
	})
}
