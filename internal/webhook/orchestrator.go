package webhook

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/agent"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/conversation"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/sessions"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/twilio"
)

var tracer = otel.Tracer("webhook")

// Orchestrator runs an inbound message event through the full pipeline:
// candidate filter, eligibility, session append, typing indicator, agent
// invocation, outbound send, assistant append. Each stage's failure is
// converted to a typed Response; Process never returns an error.
type Orchestrator struct {
	sessions    *sessions.Service
	eligibility *twilio.EligibilityChecker
	client      *twilio.Client
	invoker     *agent.Invoker
	typing      *TypingCoordinator

	botIdentity    string
	historyLimit   int
	requestTimeout time.Duration
	logger         *slog.Logger
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(
	sess *sessions.Service,
	eligibility *twilio.EligibilityChecker,
	client *twilio.Client,
	invoker *agent.Invoker,
	typing *TypingCoordinator,
	botIdentity string,
	historyLimit int,
	requestTimeout time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		sessions:       sess,
		eligibility:    eligibility,
		client:         client,
		invoker:        invoker,
		typing:         typing,
		botIdentity:    botIdentity,
		historyLimit:   historyLimit,
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

// ProcessMessageAdded handles one message-added delivery. The form has
// already passed signature validation; everything after that point resolves
// to a 200-class Response.
func (o *Orchestrator) ProcessMessageAdded(ctx context.Context, form url.Values) (resp *Response) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "webhook.message_added")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("webhook: panic during processing", "panic", r)
			resp = &Response{
				Success:   false,
				Message:   "Internal server error processing webhook",
				ErrorCode: ErrCodeInternal,
			}
		}
		resp.ProcessingTimeMS = time.Since(start).Milliseconds()
	}()

	ev, err := ParseEvent(form)
	if err != nil {
		o.logger.Error("webhook: invalid payload", "error", err)
		return &Response{
			Success:   false,
			Message:   "Invalid webhook payload",
			ErrorCode: ErrCodeValidation,
		}
	}

	span.SetAttributes(
		attribute.String("conversation.sid", ev.ConversationSID),
		attribute.String("event.type", string(ev.EventType)),
	)
	log := o.logger.With(
		"conversation_sid", ev.ConversationSID,
		"message_sid", ev.MessageSID,
		"author", ev.Author,
	)

	if !ev.ShouldEngage(o.botIdentity) {
		log.Info("webhook: not a candidate for agent processing")
		return &Response{
			Success: true,
			Message: "Webhook received but not processed by agent",
		}
	}

	verdict := o.eligibility.Check(ctx, ev.ConversationSID)
	if !verdict.Eligible {
		log.Info("webhook: conversation not eligible", "reason", verdict.Reason)
		return &Response{
			Success: true,
			Message: "Conversation not eligible: " + verdict.Reason,
		}
	}

	return o.respond(ctx, span, ev, log)
}

// respond is the engaged half of the pipeline: session bookkeeping, typing,
// agent call, outbound send. Any failure here other than the outbound send
// maps to agent_processing_error.
func (o *Orchestrator) respond(ctx context.Context, span trace.Span, ev *Event, log *slog.Logger) *Response {
	sess, err := o.sessions.GetOrCreate(ctx, ev.ConversationSID, ev.ServiceSID, ev.ParticipantSID)
	if err != nil {
		log.Error("webhook: session unavailable", "error", err)
		return &Response{
			Success:   false,
			Message:   "Error processing message with agent",
			ErrorCode: ErrCodeAgentProcessing,
		}
	}
	span.SetAttributes(attribute.String("session.id", sess.ID))

	// The MessageSid keys the append, so a redelivered event is a no-op.
	// Events without one get a fresh ID minted here so the turn can still be
	// recognized below.
	userMsgID := ev.MessageSID
	if userMsgID == "" {
		userMsgID = uuid.NewString()
	}
	o.sessions.AppendMessage(ctx, sess.ID, userMsgID, conversation.RoleUser, ev.Body, ev.Author, nil)

	typingTask := o.typing.Start(ctx, ev.ConversationSID, ev.ParticipantSID)
	defer typingTask.Stop()

	history := o.sessions.GetHistory(ctx, sess.ID, o.historyLimit, false)
	if n := len(history); n > 0 && history[n-1].ID == userMsgID {
		// The current turn goes to the agent as the live message, not history.
		history = history[:n-1]
	}

	agentResp := o.invoker.Invoke(ctx, ev.Body, sess.ID, history, sess.Context.Clone())

	sent, err := o.client.SendMessage(ctx, ev.ConversationSID, o.botIdentity, agentResp.Content)
	if err != nil {
		log.Error("webhook: outbound send failed", "error", err)
		return &Response{
			Success:   false,
			Message:   "Failed to send agent response",
			ErrorCode: ErrCodeOutboundSend,
		}
	}

	o.sessions.AppendMessage(ctx, sess.ID, sent.SID, conversation.RoleAssistant, agentResp.Content, o.botIdentity, map[string]any{
		"twilio_message_sid": sent.SID,
		"confidence":         agentResp.Confidence,
		"tools_used":         agentResp.ToolsUsed,
		"processing_time_ms": agentResp.ProcessingTimeMS,
	})

	log.Info("webhook: agent response sent",
		"sent_message_sid", sent.SID,
		"fallback_used", agentResp.FallbackUsed())
	return &Response{
		Success:        true,
		Message:        "Message processed and response sent",
		AgentResponded: true,
	}
}
