// Package webhook implements the inbound event pipeline: payload parsing,
// the candidate filter, the typing-indicator coordinator, and the
// orchestrator that runs an eligible message through session, agent, and
// outbound send.
package webhook

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/security"
)

// EventType is the Twilio webhook event discriminator.
type EventType string

const (
	EventMessageAdd              EventType = "onMessageAdd"
	EventParticipantAdd          EventType = "onParticipantAdd"
	EventParticipantRemove       EventType = "onParticipantRemove"
	EventConversationStateUpdate EventType = "onConversationStateUpdate"
	EventConversationAdd         EventType = "onConversationAdd"
	EventConversationRemove      EventType = "onConversationRemove"
)

// Event is a parsed webhook delivery. Field presence depends on EventType;
// only the four common identifiers are guaranteed.
type Event struct {
	EventType       EventType
	AccountSID      string
	ServiceSID      string
	ConversationSID string

	// onMessageAdd
	MessageSID     string
	ParticipantSID string
	Author         string
	Body           string
	MessageIndex   int

	// participant events
	Identity string

	// onConversationStateUpdate
	State string
}

// ParseEvent validates and extracts a webhook event from form data.
// Missing or malformed required fields are validation errors.
func ParseEvent(form url.Values) (*Event, error) {
	ev := &Event{
		EventType:       EventType(form.Get("EventType")),
		AccountSID:      form.Get("AccountSid"),
		ServiceSID:      form.Get("ServiceSid"),
		ConversationSID: form.Get("ConversationSid"),
		MessageSID:      form.Get("MessageSid"),
		ParticipantSID:  form.Get("ParticipantSid"),
		Author:          form.Get("Author"),
		Body:            form.Get("Body"),
		Identity:        form.Get("Identity"),
		State:           form.Get("State"),
	}
	if idx := form.Get("MessageIndex"); idx != "" {
		if n, err := strconv.Atoi(idx); err == nil {
			ev.MessageIndex = n
		}
	}

	if ev.EventType == "" {
		return nil, fmt.Errorf("missing EventType")
	}
	if ev.ConversationSID == "" {
		return nil, fmt.Errorf("missing ConversationSid")
	}
	if !security.ValidConversationSID(ev.ConversationSID) {
		return nil, fmt.Errorf("malformed ConversationSid")
	}
	if ev.ServiceSID != "" && !security.ValidServiceSID(ev.ServiceSID) {
		return nil, fmt.Errorf("malformed ServiceSid")
	}
	if ev.MessageSID != "" && !security.ValidMessageSID(ev.MessageSID) {
		return nil, fmt.Errorf("malformed MessageSid")
	}
	return ev, nil
}

// ShouldEngage is the cheap candidate filter, applied before any API calls:
// only message-add events with a non-blank body that the bot did not author
// itself go on to the conversation-level eligibility check.
func (ev *Event) ShouldEngage(botIdentity string) bool {
	return ev.EventType == EventMessageAdd &&
		strings.TrimSpace(ev.Body) != "" &&
		ev.Author != botIdentity
}
