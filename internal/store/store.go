// Package store defines the session persistence boundary. Backends live in
// the file, sqlite, and pg subpackages; the sessions service layers business
// rules (locking, key derivation, history filtering) on top.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/conversation"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Stats is the operational summary exposed to health checks.
type Stats struct {
	TotalSessions  int `json:"total_sessions"`
	ActiveSessions int `json:"active_sessions"` // activity within the last hour
	TotalMessages  int `json:"total_messages"`
}

// SessionStore persists sessions. Session metadata is upserted; messages are
// append-only and idempotent by message ID — appending an ID that is already
// stored is a no-op so retried webhook deliveries never double-count.
type SessionStore interface {
	// Get loads a session with its full message log. Returns ErrNotFound.
	Get(ctx context.Context, sessionID string) (*conversation.Session, error)

	// Put upserts session metadata and context (not messages).
	Put(ctx context.Context, s *conversation.Session) error

	// AppendMessage appends one message to an existing session and bumps its
	// activity timestamps. Returns ErrNotFound if the session is missing.
	// A duplicate message ID is a silent no-op.
	AppendMessage(ctx context.Context, sessionID string, msg conversation.Message) error

	// DeleteExpired removes all sessions (and their messages) whose last
	// activity predates cutoff. Returns the number of sessions removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)

	// Stats returns store-wide counters for monitoring.
	Stats(ctx context.Context) (Stats, error)

	// Close releases the backing resources.
	Close() error
}
