// Package settings provides read/write access to the chatbot configuration
// owned by the admin surface: the per-entry-type field-selection lists and
// the optional model API key override.
//
// The indexer re-reads the settings on every mutation event instead of
// caching them, so an admin edit takes effect on the next mutation without
// a process restart.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SettingsKey is the plugin_settings row holding the chatbot settings.
const SettingsKey = "chatbot.settings"

// Settings is the persisted chatbot configuration.
type Settings struct {
	// OpenAIKey optionally overrides the deployment's model credential.
	OpenAIKey string `json:"openaiKey,omitempty"`

	// FieldSelection maps an entry-type identifier to the ordered list of
	// field names whose concatenated text is embedded for that type. A type
	// with no entry (or an empty list) is not embedded at all.
	FieldSelection map[string][]string `json:"config,omitempty"`
}

// Fields returns the configured field list for an entry type, nil when the
// type is not configured for embedding.
func (s Settings) Fields(entryType string) []string {
	return s.FieldSelection[entryType]
}

// DB is the database surface Store needs; *pgxpool.Pool satisfies it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store reads and writes the chatbot settings row. Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a settings Store. A nil logger falls back to slog.Default().
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Get returns the current settings. A missing row is not an error: it means
// nothing has been configured yet and yields zero-value Settings.
func (s *Store) Get(ctx context.Context) (Settings, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT value FROM plugin_settings WHERE key = $1`, SettingsKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings: %w", err)
	}

	var out Settings
	if err := json.Unmarshal(raw, &out); err != nil {
		return Settings{}, fmt.Errorf("parsing settings value: %w", err)
	}
	return out, nil
}

// Set replaces the settings row.
func (s *Store) Set(ctx context.Context, in Settings) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO plugin_settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		SettingsKey, raw)
	if err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}

	s.logger.Debug("settings updated", "types", len(in.FieldSelection))
	return nil
}
