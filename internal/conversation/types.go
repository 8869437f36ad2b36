// Package conversation defines the domain types shared across the bot:
// messages, sessions, conversation context, and agent responses.
package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// State is the lifecycle state of a conversation as reported by Twilio.
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
	StateClosed   State = "closed"
)

// ParticipantKind classifies a conversation participant by identity prefix.
type ParticipantKind string

const (
	ParticipantCustomer   ParticipantKind = "customer"
	ParticipantAgent      ParticipantKind = "agent"
	ParticipantHumanAgent ParticipantKind = "human_agent"
)

// ClassifyParticipant maps a participant identity to its kind.
// Identities prefixed "human_agent_" are human agents; "agent_" prefixed
// identities and the configured bot identity are automated agents; everything
// else counts as a customer. The human-agent check runs first.
func ClassifyParticipant(identity, botIdentity string) ParticipantKind {
	switch {
	case strings.HasPrefix(identity, "human_agent_"):
		return ParticipantHumanAgent
	case strings.HasPrefix(identity, "agent_"), identity != "" && identity == botIdentity:
		return ParticipantAgent
	default:
		return ParticipantCustomer
	}
}

// MaxMessageLen bounds stored message content, matching the platform's
// 4000-character message body limit.
const MaxMessageLen = 4000

// Message is one turn in a conversation. Immutable once stored; the ID is the
// idempotency key for appends (retried webhook deliveries reuse the same
// MessageSid and therefore the same ID).
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Author    string         `json:"author,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage builds a message with a fresh UUID and current timestamp.
// Content is trimmed and truncated to MaxMessageLen.
func NewMessage(role Role, content, author string, metadata map[string]any) Message {
	content = strings.TrimSpace(content)
	if len(content) > MaxMessageLen {
		content = content[:MaxMessageLen]
	}
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Author:    author,
		Metadata:  metadata,
	}
}

// Context is the free-form per-conversation key/value blob: customer info,
// order history, tags, priority. Keys merge last-write-wins on update.
type Context map[string]any

// Merge folds updates into the context, overwriting existing keys.
func (c Context) Merge(updates Context) {
	for k, v := range updates {
		c[k] = v
	}
}

// Clone returns a shallow copy so callers can't mutate stored state.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Session is this system's record of one conversation: an append-only message
// log plus context and activity timestamps. Keyed deterministically by
// conversation SID so concurrent webhook deliveries resolve to the same row.
type Session struct {
	ID              string    `json:"session_id"`
	ConversationSID string    `json:"conversation_sid"`
	ServiceSID      string    `json:"service_sid"`
	ParticipantSID  string    `json:"participant_sid,omitempty"`
	State           State     `json:"state"`
	Messages        []Message `json:"messages"`
	Context         Context   `json:"context"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// Touch bumps the activity timestamps.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now
	s.LastActivityAt = now
}

// HasMessage reports whether a message with the given ID is already stored.
func (s *Session) HasMessage(id string) bool {
	for _, m := range s.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// RecentMessages returns the last limit messages in chronological order,
// or all of them when limit <= 0.
func (s *Session) RecentMessages(limit int) []Message {
	if limit <= 0 || len(s.Messages) <= limit {
		out := make([]Message, len(s.Messages))
		copy(out, s.Messages)
		return out
	}
	out := make([]Message, limit)
	copy(out, s.Messages[len(s.Messages)-limit:])
	return out
}

// AgentResponse is the ephemeral result of one agent invocation. It is never
// persisted as-is; the orchestrator folds it into the assistant Message's
// metadata after a successful send.
type AgentResponse struct {
	Content          string         `json:"content"`
	Confidence       float64        `json:"confidence,omitempty"`
	ToolsUsed        []string       `json:"tools_used,omitempty"`
	ProcessingTimeMS int64          `json:"processing_time_ms,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// FallbackUsed reports whether this response is the canned fallback produced
// when the AI backend failed.
func (r *AgentResponse) FallbackUsed() bool {
	if r.Metadata == nil {
		return false
	}
	used, _ := r.Metadata["fallback_used"].(bool)
	return used
}
