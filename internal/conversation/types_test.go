package conversation

import (
	"strings"
	"testing"
	"time"
)

func TestClassifyParticipant(t *testing.T) {
	tests := []struct {
		identity string
		want     ParticipantKind
	}{
		{"cust1", ParticipantCustomer},
		{"customer_12345", ParticipantCustomer},
		{"agent_bot", ParticipantAgent},
		{"assistant", ParticipantAgent},
		{"human_agent_jane", ParticipantHumanAgent},
		{"", ParticipantCustomer},
	}
	for _, tt := range tests {
		if got := ClassifyParticipant(tt.identity, "assistant"); got != tt.want {
			t.Errorf("ClassifyParticipant(%q) = %v, want %v", tt.identity, got, tt.want)
		}
	}
}

func TestNewMessageTruncates(t *testing.T) {
	long := strings.Repeat("x", MaxMessageLen+100)
	msg := NewMessage(RoleUser, long, "cust1", nil)
	if len(msg.Content) != MaxMessageLen {
		t.Errorf("content length = %d, want %d", len(msg.Content), MaxMessageLen)
	}
	if msg.ID == "" {
		t.Error("message ID empty")
	}
}

func TestNewMessageTrims(t *testing.T) {
	msg := NewMessage(RoleUser, "  hello  ", "cust1", nil)
	if msg.Content != "hello" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestContextMerge(t *testing.T) {
	c := Context{"a": 1, "b": "old"}
	c.Merge(Context{"b": "new", "c": true})
	if c["a"] != 1 || c["b"] != "new" || c["c"] != true {
		t.Errorf("merged context = %v", c)
	}

	clone := c.Clone()
	clone["a"] = 99
	if c["a"] != 1 {
		t.Error("Clone shares storage with original")
	}
}

func TestSessionHasMessage(t *testing.T) {
	s := Session{Messages: []Message{{ID: "m1"}, {ID: "m2"}}}
	if !s.HasMessage("m1") || s.HasMessage("m3") {
		t.Error("HasMessage lookup wrong")
	}
}

func TestRecentMessages(t *testing.T) {
	s := Session{}
	for i := 0; i < 5; i++ {
		s.Messages = append(s.Messages, Message{ID: string(rune('a' + i))})
	}

	if got := s.RecentMessages(3); len(got) != 3 || got[0].ID != "c" {
		t.Errorf("RecentMessages(3) = %v", got)
	}
	if got := s.RecentMessages(0); len(got) != 5 {
		t.Errorf("RecentMessages(0) returned %d", len(got))
	}
	if got := s.RecentMessages(10); len(got) != 5 {
		t.Errorf("RecentMessages(10) returned %d", len(got))
	}
}

func TestTouch(t *testing.T) {
	var s Session
	now := time.Now().UTC()
	s.Touch(now)
	if !s.UpdatedAt.Equal(now) || !s.LastActivityAt.Equal(now) {
		t.Error("Touch did not bump timestamps")
	}
}

func TestFallbackUsed(t *testing.T) {
	r := AgentResponse{}
	if r.FallbackUsed() {
		t.Error("nil metadata should not read as fallback")
	}
	r.Metadata = map[string]any{"fallback_used": true}
	if !r.FallbackUsed() {
		t.Error("fallback_used metadata not detected")
	}
}
