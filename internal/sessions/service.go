// Package sessions manages conversation session lifecycle on top of a
// store.SessionStore backend: deterministic key derivation, per-session
// serialization of read-modify-write sequences, idempotent appends, history
// retrieval, and inactivity-based cleanup.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/conversation"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/store"
)

// Service coordinates session state for the webhook pipeline.
type Service struct {
	store store.SessionStore
	locks keyedLocks
}

// NewService creates a session service over the given backend.
func NewService(st store.SessionStore) *Service {
	return &Service{store: st}
}

// GetOrCreate returns the session for a conversation, creating and persisting
// it on first contact. Existing sessions get their last-activity bumped.
func (s *Service) GetOrCreate(ctx context.Context, conversationSID, serviceSID, participantSID string) (*conversation.Session, error) {
	key := SessionKey(conversationSID)
	mu := s.locks.lock(key)
	defer mu.Unlock()

	sess, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
		sess.Touch(time.Now().UTC())
		if err := s.store.Put(ctx, sess); err != nil {
			return nil, fmt.Errorf("touch session: %w", err)
		}
		return sess, nil
	case errors.Is(err, store.ErrNotFound):
		// fall through to create
	default:
		return nil, fmt.Errorf("get session: %w", err)
	}

	now := time.Now().UTC()
	sess = &conversation.Session{
		ID:              key,
		ConversationSID: conversationSID,
		ServiceSID:      serviceSID,
		ParticipantSID:  participantSID,
		State:           conversation.StateActive,
		Messages:        []conversation.Message{},
		Context:         conversation.Context{},
		CreatedAt:       now,
		UpdatedAt:       now,
		LastActivityAt:  now,
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Info("sessions: created", "session", key)
	return sess, nil
}

// AppendMessage appends one message to an existing session. The messageID is
// the idempotency key: passing the webhook's MessageSid means a redelivered
// event appends nothing. An empty messageID gets a fresh UUID.
// Returns false (without error) when the session does not exist — callers
// must have created it first.
func (s *Service) AppendMessage(ctx context.Context, sessionID, messageID string, role conversation.Role, content, author string, metadata map[string]any) bool {
	if !role.Valid() {
		slog.Error("sessions: invalid role", "session", sessionID, "role", role)
		return false
	}
	msg := conversation.NewMessage(role, content, author, metadata)
	if msg.Content == "" {
		slog.Error("sessions: empty message content", "session", sessionID)
		return false
	}
	if messageID != "" {
		msg.ID = messageID
	}

	mu := s.locks.lock(sessionID)
	defer mu.Unlock()

	if err := s.store.AppendMessage(ctx, sessionID, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Error("sessions: append to missing session", "session", sessionID)
		} else {
			slog.Error("sessions: append failed", "session", sessionID, "error", err)
		}
		return false
	}
	return true
}

// UpdateContext merges partial key/value updates into the session context,
// last-write-wins per key, and bumps the updated timestamp.
func (s *Service) UpdateContext(ctx context.Context, sessionID string, updates conversation.Context) bool {
	mu := s.locks.lock(sessionID)
	defer mu.Unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		slog.Error("sessions: context update on missing session", "session", sessionID, "error", err)
		return false
	}
	if sess.Context == nil {
		sess.Context = conversation.Context{}
	}
	sess.Context.Merge(updates)
	sess.UpdatedAt = time.Now().UTC()
	if err := s.store.Put(ctx, sess); err != nil {
		slog.Error("sessions: context update failed", "session", sessionID, "error", err)
		return false
	}
	return true
}

// GetHistory returns the most recent limit messages in chronological order
// (all messages when limit <= 0), filtering system-role messages unless
// includeSystem is set. A missing session yields an empty slice.
func (s *Service) GetHistory(ctx context.Context, sessionID string, limit int, includeSystem bool) []conversation.Message {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil
	}
	msgs := sess.Messages
	if !includeSystem {
		filtered := make([]conversation.Message, 0, len(msgs))
		for _, m := range msgs {
			if m.Role != conversation.RoleSystem {
				filtered = append(filtered, m)
			}
		}
		msgs = filtered
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

// ReapExpired deletes sessions whose last activity predates now-threshold.
// Runs from the background reaper, never on the request path.
func (s *Service) ReapExpired(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	n, err := s.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap expired sessions: %w", err)
	}
	if n > 0 {
		slog.Info("sessions: reaped expired", "count", n, "threshold", threshold)
	}
	return n, nil
}

// Stats exposes store counters for the readiness probe.
func (s *Service) Stats(ctx context.Context) (store.Stats, error) {
	return s.store.Stats(ctx)
}
