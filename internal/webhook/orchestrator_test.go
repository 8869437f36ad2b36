package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/agent"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/config"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/providers"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/sessions"
	filestore "github.com/nmogil-tw/twilio-openai-conversations/internal/store/file"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/twilio"
)

var (
	convSID = "CH" + strings.Repeat("0", 32)
	svcSID  = "IS" + strings.Repeat("0", 32)
	msgSID  = "IM" + strings.Repeat("0", 32)
	partSID = "MB" + strings.Repeat("0", 32)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
	got   providers.CompletionRequest
}

func (s *stubProvider) Complete(_ context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return &providers.CompletionResponse{Content: s.reply}, nil
}

func (s *stubProvider) lastRequest() providers.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

func (s *stubProvider) Name() string         { return "stub" }
func (s *stubProvider) DefaultModel() string { return "stub-model" }

// fakeTwilio is an httptest stand-in for the Conversations API.
type fakeTwilio struct {
	mu           sync.Mutex
	state        string
	identities   []string
	sendFails    bool
	sentBodies   []string
	typingCalls  []string // "on" / "off"
	messageCount int
}

func (f *fakeTwilio) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/Messages"):
			if f.sendFails {
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]any{"code": 20500, "message": "send failed", "status": 500})
				return
			}
			r.ParseForm()
			f.messageCount++
			f.sentBodies = append(f.sentBodies, r.PostForm.Get("Body"))
			json.NewEncoder(w).Encode(twilio.Message{
				SID:    "IM" + strings.Repeat("b", 30) + "00",
				Author: r.PostForm.Get("Author"),
				Body:   r.PostForm.Get("Body"),
			})
		case strings.Contains(r.URL.Path, "/Participants/"):
			r.ParseForm()
			if r.PostForm.Get("Typing") == "true" {
				f.typingCalls = append(f.typingCalls, "on")
			} else {
				f.typingCalls = append(f.typingCalls, "off")
			}
			w.Write([]byte("{}"))
		case strings.HasSuffix(r.URL.Path, "/Participants"):
			page := struct {
				Participants []twilio.Participant `json:"participants"`
			}{}
			for i, id := range f.identities {
				page.Participants = append(page.Participants, twilio.Participant{
					SID:      "MB" + strings.Repeat(string(rune('a'+i)), 32),
					Identity: id,
				})
			}
			json.NewEncoder(w).Encode(page)
		default:
			json.NewEncoder(w).Encode(twilio.Conversation{SID: convSID, State: f.state})
		}
	}
}

func (f *fakeTwilio) typingSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.typingCalls))
	copy(out, f.typingCalls)
	return out
}

type fixture struct {
	orch     *Orchestrator
	sessions *sessions.Service
	fake     *fakeTwilio
	provider *stubProvider
}

func newFixture(t *testing.T, fake *fakeTwilio, provider *stubProvider) *fixture {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	st, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	logger := testLogger()
	sessSvc := sessions.NewService(st)
	client := twilio.NewClient("AC"+strings.Repeat("0", 32), "token", svcSID, srv.URL, logger)
	checker := twilio.NewEligibilityChecker(client, "assistant", logger)
	invoker := agent.NewInvoker(provider, config.AgentConfig{
		FallbackResponses: map[string]string{"unknown_query": "Please call us."},
	}, config.OpenAIConfig{Model: "stub-model"}, logger)
	typing := NewTypingCoordinator(client, 100*time.Millisecond, logger)

	return &fixture{
		orch: NewOrchestrator(sessSvc, checker, client, invoker, typing,
			"assistant", 50, 5*time.Second, logger),
		sessions: sessSvc,
		fake:     fake,
		provider: provider,
	}
}

func messageForm(body, author string) url.Values {
	form := url.Values{}
	form.Set("EventType", string(EventMessageAdd))
	form.Set("AccountSid", "AC"+strings.Repeat("0", 32))
	form.Set("ServiceSid", svcSID)
	form.Set("ConversationSid", convSID)
	form.Set("MessageSid", msgSID)
	form.Set("ParticipantSid", partSID)
	form.Set("Author", author)
	form.Set("Body", body)
	return form
}

func TestProcessEligibleMessage(t *testing.T) {
	fake := &fakeTwilio{state: "active", identities: []string{"cust1", "assistant"}}
	fx := newFixture(t, fake, &stubProvider{reply: "Hi there!"})

	resp := fx.orch.ProcessMessageAdded(context.Background(), messageForm("Hello", "cust1"))

	if !resp.Success || !resp.AgentResponded {
		t.Fatalf("resp = %+v, want success with agent_responded", resp)
	}

	history := fx.sessions.GetHistory(context.Background(), "conv_"+convSID, 0, true)
	if len(history) != 2 {
		t.Fatalf("stored %d messages, want 2 (user + assistant)", len(history))
	}
	if history[0].Content != "Hello" || history[1].Content != "Hi there!" {
		t.Errorf("history = %q, %q", history[0].Content, history[1].Content)
	}
}

func TestProcessHumanAgentPresent(t *testing.T) {
	fake := &fakeTwilio{state: "active", identities: []string{"cust1", "human_agent_jane"}}
	fx := newFixture(t, fake, &stubProvider{reply: "should not send"})

	resp := fx.orch.ProcessMessageAdded(context.Background(), messageForm("Hello", "cust1"))

	if !resp.Success || resp.AgentResponded {
		t.Fatalf("resp = %+v, want success without agent response", resp)
	}
	if !strings.Contains(resp.Message, "not eligible") {
		t.Errorf("message = %q, want eligibility explanation", resp.Message)
	}
	if history := fx.sessions.GetHistory(context.Background(), "conv_"+convSID, 0, true); len(history) != 0 {
		t.Errorf("session has %d messages, want 0", len(history))
	}
	if fx.fake.messageCount != 0 {
		t.Errorf("sent %d messages, want 0", fx.fake.messageCount)
	}
}

func TestProcessSelfAuthoredMessage(t *testing.T) {
	fake := &fakeTwilio{state: "active", identities: []string{"cust1"}}
	fx := newFixture(t, fake, &stubProvider{reply: "echo"})

	resp := fx.orch.ProcessMessageAdded(context.Background(), messageForm("Hi again", "assistant"))

	if !resp.Success || resp.AgentResponded {
		t.Fatalf("resp = %+v, want ack without processing", resp)
	}
	if fx.provider.calls != 0 {
		t.Errorf("provider called %d times, want 0", fx.provider.calls)
	}
}

func TestProcessBackendDownFallback(t *testing.T) {
	fake := &fakeTwilio{state: "active", identities: []string{"cust1"}}
	fx := newFixture(t, fake, &stubProvider{err: errors.New("backend down")})

	resp := fx.orch.ProcessMessageAdded(context.Background(), messageForm("Hello", "cust1"))

	if !resp.Success || !resp.AgentResponded {
		t.Fatalf("resp = %+v, want fallback delivered as success", resp)
	}
	if len(fake.sentBodies) != 1 || fake.sentBodies[0] != "Please call us." {
		t.Errorf("sent = %v, want configured fallback", fake.sentBodies)
	}
	history := fx.sessions.GetHistory(context.Background(), "conv_"+convSID, 0, true)
	if len(history) != 2 {
		t.Fatalf("stored %d messages, want 2", len(history))
	}
}

func TestProcessSendFailure(t *testing.T) {
	fake := &fakeTwilio{state: "active", identities: []string{"cust1"}, sendFails: true}
	fx := newFixture(t, fake, &stubProvider{reply: "Hi!"})

	resp := fx.orch.ProcessMessageAdded(context.Background(), messageForm("Hello", "cust1"))

	if resp.Success || resp.ErrorCode != ErrCodeOutboundSend {
		t.Fatalf("resp = %+v, want outbound_send_error", resp)
	}
	// User turn persisted, assistant turn not.
	history := fx.sessions.GetHistory(context.Background(), "conv_"+convSID, 0, true)
	if len(history) != 1 {
		t.Errorf("stored %d messages, want 1 (user only)", len(history))
	}
}

func TestProcessMalformedPayload(t *testing.T) {
	fake := &fakeTwilio{state: "active", identities: []string{"cust1"}}
	fx := newFixture(t, fake, &stubProvider{reply: "x"})

	form := url.Values{}
	form.Set("EventType", string(EventMessageAdd))
	form.Set("Body", "Hello")

	resp := fx.orch.ProcessMessageAdded(context.Background(), form)
	if resp.Success || resp.ErrorCode != ErrCodeValidation {
		t.Fatalf("resp = %+v, want validation_error", resp)
	}
}

func TestProcessDuplicateDelivery(t *testing.T) {
	fake := &fakeTwilio{state: "active", identities: []string{"cust1"}}
	fx := newFixture(t, fake, &stubProvider{reply: "Hi!"})

	form := messageForm("Hello", "cust1")
	fx.orch.ProcessMessageAdded(context.Background(), form)
	fx.orch.ProcessMessageAdded(context.Background(), form)

	history := fx.sessions.GetHistory(context.Background(), "conv_"+convSID, 0, true)
	// Redelivery re-answers but must not duplicate the user turn.
	users := 0
	for _, m := range history {
		if m.Role == "user" {
			users++
		}
	}
	if users != 1 {
		t.Errorf("user turns = %d, want 1 after duplicate delivery", users)
	}
}

func TestProcessWithoutMessageSID(t *testing.T) {
	fake := &fakeTwilio{state: "active", identities: []string{"cust1"}}
	provider := &stubProvider{reply: "Hi!"}
	fx := newFixture(t, fake, provider)

	form := messageForm("Hello", "cust1")
	form.Del("MessageSid")

	resp := fx.orch.ProcessMessageAdded(context.Background(), form)
	if !resp.Success || !resp.AgentResponded {
		t.Fatalf("resp = %+v", resp)
	}

	// The just-stored turn must not be replayed as history alongside the live
	// message: the backend sees the system prompt plus the current turn only.
	got := provider.lastRequest()
	if len(got.Messages) != 2 {
		t.Errorf("sent %d messages, want 2 (system + live turn)", len(got.Messages))
	}

	history := fx.sessions.GetHistory(context.Background(), "conv_"+convSID, 0, true)
	if len(history) != 2 {
		t.Errorf("stored %d messages, want 2 (user + assistant)", len(history))
	}
}

func TestTypingClearedAfterProcessing(t *testing.T) {
	fake := &fakeTwilio{state: "active", identities: []string{"cust1"}}
	fx := newFixture(t, fake, &stubProvider{reply: "Hi!"})

	fx.orch.ProcessMessageAdded(context.Background(), messageForm("Hello", "cust1"))

	deadline := time.After(2 * time.Second)
	for {
		calls := fake.typingSeen()
		if len(calls) >= 2 && calls[len(calls)-1] == "off" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("typing calls = %v, want on followed by off", calls)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
