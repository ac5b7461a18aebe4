package faq

import "time"

// Turn roles for caller-supplied conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one knowledge-base entry. The embedding is populated
// asynchronously by the indexer after each create/update; rows without a
// vector are invisible to retrieval.
type Entry struct {
	ID          int64      // numeric row id
	DocumentID  string     // stable logical id, may be empty for legacy rows
	Question    string
	Answer      string
	PublishedAt *time.Time // nil = draft, excluded from retrieval
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Turn is one conversation turn supplied by the caller. The core reads it,
// never mutates it.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Match is a retrieval result: an entry plus its cosine distance to the
// query vector. Smaller distance means more similar. Ephemeral, produced
// per query, never persisted.
type Match struct {
	Entry    Entry
	Distance float64
}

// Ref identifies an entry for a write. The stable DocumentID is preferred;
// the numeric ID is the fallback for rows created before document ids
// existed.
type Ref struct {
	ID         int64
	DocumentID string
}

// LastAssistantContent returns the content of the most recent assistant
// turn, or "" when the history holds none.
func LastAssistantContent(history []Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}
