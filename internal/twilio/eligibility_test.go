package twilio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func eligibilityServer(t *testing.T, state string, identities []string, found bool) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !found {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"code": 20404, "message": "not found", "status": 404})
			return
		}
		if strings.HasSuffix(r.URL.Path, "/Participants") {
			page := participantPage{}
			for i, id := range identities {
				page.Participants = append(page.Participants, Participant{
					SID:      "MB" + strings.Repeat(string(rune('a'+i)), 32),
					Identity: id,
				})
			}
			json.NewEncoder(w).Encode(page)
			return
		}
		json.NewEncoder(w).Encode(Conversation{SID: "CH" + strings.Repeat("0", 32), State: state})
	}))
	t.Cleanup(srv.Close)
	return NewClient("AC"+strings.Repeat("0", 32), "token", "IS"+strings.Repeat("0", 32), srv.URL, testLogger())
}

func TestEligibilityCheck(t *testing.T) {
	convSID := "CH" + strings.Repeat("0", 32)

	tests := []struct {
		name       string
		state      string
		identities []string
		found      bool
		eligible   bool
		reason     string
	}{
		{
			name:       "single customer active",
			state:      "active",
			identities: []string{"cust1", "assistant"},
			found:      true,
			eligible:   true,
			reason:     ReasonEligible,
		},
		{
			name:   "not found",
			found:  false,
			reason: ReasonNotFound,
		},
		{
			name:       "closed conversation",
			state:      "closed",
			identities: []string{"cust1"},
			found:      true,
			reason:     ReasonNotActive,
		},
		{
			name:       "human agent present",
			state:      "active",
			identities: []string{"cust1", "human_agent_jane"},
			found:      true,
			reason:     ReasonHumanAgentPresent,
		},
		{
			name:       "human agent overrides customer count",
			state:      "active",
			identities: []string{"cust1", "cust2", "human_agent_jane"},
			found:      true,
			reason:     ReasonHumanAgentPresent,
		},
		{
			name:       "two customers",
			state:      "active",
			identities: []string{"cust1", "cust2"},
			found:      true,
			reason:     ReasonWrongCustomers,
		},
		{
			name:       "zero customers",
			state:      "active",
			identities: []string{"agent_bot", "assistant"},
			found:      true,
			reason:     ReasonWrongCustomers,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := eligibilityServer(t, tt.state, tt.identities, tt.found)
			checker := NewEligibilityChecker(client, "assistant", testLogger())

			got := checker.Check(context.Background(), convSID)
			if got.Eligible != tt.eligible {
				t.Errorf("eligible = %v, want %v", got.Eligible, tt.eligible)
			}
			if got.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", got.Reason, tt.reason)
			}
		})
	}
}
