// Package twilio is a minimal Conversations REST client plus the
// conversation-level eligibility check that gates agent engagement.
package twilio

import "encoding/json"

// Conversation is the subset of a Conversations resource the bot cares about.
type Conversation struct {
	SID          string `json:"sid"`
	AccountSID   string `json:"account_sid"`
	FriendlyName string `json:"friendly_name"`
	UniqueName   string `json:"unique_name"`
	State        string `json:"state"` // "active", "inactive", "closed"
	Attributes   string `json:"attributes"`
	DateCreated  string `json:"date_created"`
	DateUpdated  string `json:"date_updated"`
}

// Participant is a member of a conversation. Identity is empty for
// SMS/WhatsApp participants bound by address.
type Participant struct {
	SID              string          `json:"sid"`
	AccountSID       string          `json:"account_sid"`
	ConversationSID  string          `json:"conversation_sid"`
	Identity         string          `json:"identity"`
	RoleSID          string          `json:"role_sid"`
	MessagingBinding json.RawMessage `json:"messaging_binding"`
	DateCreated      string          `json:"date_created"`
	DateUpdated      string          `json:"date_updated"`
}

// Message is a sent conversation message, as echoed back by the API.
type Message struct {
	SID             string `json:"sid"`
	AccountSID      string `json:"account_sid"`
	ConversationSID string `json:"conversation_sid"`
	ParticipantSID  string `json:"participant_sid"`
	Author          string `json:"author"`
	Body            string `json:"body"`
	Index           int    `json:"index"`
	DateCreated     string `json:"date_created"`
}

// participantPage is the list envelope for the participants endpoint.
type participantPage struct {
	Participants []Participant `json:"participants"`
	Meta         struct {
		NextPageURL string `json:"next_page_url"`
	} `json:"meta"`
}

// apiError is the Twilio error envelope.
type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Status   int    `json:"status"`
	MoreInfo string `json:"more_info"`
}

// Eligibility is the verdict for whether the agent should engage a
// conversation. Computed fresh per event, never persisted.
type Eligibility struct {
	Eligible      bool   `json:"eligible"`
	Reason        string `json:"reason"`
	State         string `json:"state,omitempty"`
	Participants  int    `json:"participant_count"`
	Customers     int    `json:"customer_count"`
	Agents        int    `json:"agent_count"`
	HasHumanAgent bool   `json:"has_human_agent"`
}

// Eligibility reasons, checked in fixed order. The first failing check wins.
const (
	ReasonNotFound          = "conversation_not_found"
	ReasonNotActive         = "conversation_not_active"
	ReasonHumanAgentPresent = "human_agent_present"
	ReasonWrongCustomers    = "wrong_customer_count"
	ReasonEligible          = "eligible"
)
