// Package session persists dialog history across process restarts and owns
// the per-conversation dialog builders. The search core itself is stateless
// between restarts; this package is the external session owner.
package session

import (
	"context"
	"time"
)

// Message is a single persisted dialog turn.
type Message struct {
	Role      string    `json:"role"` // "system", "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionData is everything stored for one conversation.
type SessionData struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Messages  []Message `json:"messages"`
	Metadata  Metadata  `json:"metadata"`
}

// Metadata tracks conversation lifecycle information.
type Metadata struct {
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

// Store is the persistence contract. Implementations may be Redis,
// relational or in-memory.
type Store interface {
	// LoadSession loads a session, returning an empty one when it does not
	// exist yet.
	LoadSession(ctx context.Context, sessionID string) (*SessionData, error)

	// SaveMessage appends a message to a session and refreshes its TTL.
	SaveMessage(ctx context.Context, sessionID, userID string, msg Message) error

	// ClearSession removes a session.
	ClearSession(ctx context.Context, sessionID string) error

	// SessionExists reports whether a session is stored.
	SessionExists(ctx context.Context, sessionID string) (bool, error)
}
