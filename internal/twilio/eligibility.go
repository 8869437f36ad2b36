package twilio

import (
	"context"
	"log/slog"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/conversation"
)

// EligibilityChecker decides whether the agent may engage a conversation.
// The rule set is strict: the conversation must be active, hold exactly one
// customer participant, and contain no human agent. Human-agent presence is
// a hard yield and is checked before customer counting.
type EligibilityChecker struct {
	client      *Client
	botIdentity string
	logger      *slog.Logger
}

// NewEligibilityChecker builds a checker using the given API client.
func NewEligibilityChecker(client *Client, botIdentity string, logger *slog.Logger) *EligibilityChecker {
	return &EligibilityChecker{client: client, botIdentity: botIdentity, logger: logger}
}

// Check fetches the conversation and its participants and returns the
// verdict. API failures resolve to an ineligible verdict rather than an
// error; a conversation we cannot inspect is a conversation we do not join.
func (e *EligibilityChecker) Check(ctx context.Context, conversationSID string) Eligibility {
	conv, err := e.client.GetConversation(ctx, conversationSID)
	if err != nil {
		if !IsNotFound(err) {
			e.logger.Warn("eligibility: conversation fetch failed",
				"conversation_sid", conversationSID, "error", err)
		}
		return Eligibility{Eligible: false, Reason: ReasonNotFound}
	}

	participants, err := e.client.ListParticipants(ctx, conversationSID)
	if err != nil {
		e.logger.Warn("eligibility: participant fetch failed",
			"conversation_sid", conversationSID, "error", err)
		return Eligibility{Eligible: false, Reason: ReasonNotFound}
	}

	verdict := Eligibility{
		State:        conv.State,
		Participants: len(participants),
	}

	for _, p := range participants {
		switch conversation.ClassifyParticipant(p.Identity, e.botIdentity) {
		case conversation.ParticipantHumanAgent:
			verdict.HasHumanAgent = true
		case conversation.ParticipantAgent:
			verdict.Agents++
		default:
			verdict.Customers++
		}
	}

	switch {
	case conv.State != string(conversation.StateActive):
		verdict.Reason = ReasonNotActive
	case verdict.HasHumanAgent:
		verdict.Reason = ReasonHumanAgentPresent
	case verdict.Customers != 1:
		verdict.Reason = ReasonWrongCustomers
	default:
		verdict.Eligible = true
		verdict.Reason = ReasonEligible
	}

	e.logger.Debug("eligibility: checked",
		"conversation_sid", conversationSID,
		"eligible", verdict.Eligible,
		"reason", verdict.Reason,
		"customers", verdict.Customers,
		"has_human_agent", verdict.HasHumanAgent)
	return verdict
}
