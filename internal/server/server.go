// Package server is the HTTP surface: webhook routes, health probes,
// signature enforcement, per-conversation rate limiting, and graceful
// shutdown.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/config"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/security"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/sessions"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/webhook"
)

// Server hosts the webhook and health endpoints.
type Server struct {
	cfg        *config.Config
	orch       *webhook.Orchestrator
	sessions   *sessions.Service
	limiter    *conversationLimiter
	logger     *slog.Logger
	httpServer *http.Server
	startedAt  time.Time
	version    string
}

// New builds the server and its routes.
func New(cfg *config.Config, orch *webhook.Orchestrator, sess *sessions.Service, version string, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		orch:      orch,
		sessions:  sess,
		limiter:   newConversationLimiter(cfg.Server.RateLimitRPM),
		logger:    logger,
		startedAt: time.Now(),
		version:   version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/message-added", s.withSignature(s.handleMessageAdded))
	mux.HandleFunc("POST /webhook/participant-added", s.withSignature(s.handleParticipantEvent("added")))
	mux.HandleFunc("POST /webhook/participant-removed", s.withSignature(s.handleParticipantEvent("removed")))
	mux.HandleFunc("POST /webhook/conversation-state-updated", s.withSignature(s.handleStateUpdated))
	mux.HandleFunc("GET /webhook/test", s.handleWebhookTest)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("server: listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// withSignature enforces the webhook signature when a secret is configured.
// An invalid signature is the one case that gets a non-200 response.
func (s *Server) withSignature(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusOK, webhook.Response{
				Success:   false,
				Message:   "Invalid webhook payload",
				ErrorCode: webhook.ErrCodeValidation,
			})
			return
		}

		secret := s.cfg.Twilio.WebhookSecret
		signature := r.Header.Get("X-Twilio-Signature")
		if secret != "" && signature != "" {
			if !security.ValidateSignature(requestURL(r), r.PostForm, secret, signature) {
				s.logger.Warn("server: invalid webhook signature", "path", r.URL.Path)
				http.Error(w, "Invalid webhook signature", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (s *Server) handleMessageAdded(w http.ResponseWriter, r *http.Request) {
	if convSID := r.PostForm.Get("ConversationSid"); convSID != "" && !s.limiter.Allow(convSID) {
		s.logger.Warn("server: rate limited", "conversation_sid", convSID)
		writeJSON(w, http.StatusOK, webhook.Response{
			Success: true,
			Message: "Rate limited, webhook acknowledged without processing",
		})
		return
	}

	resp := s.orch.ProcessMessageAdded(r.Context(), r.PostForm)
	writeJSON(w, http.StatusOK, resp)
}

// handleParticipantEvent logs participant joins and leaves. No action yet;
// eligibility re-checks per message pick up human-agent arrivals anyway.
func (s *Server) handleParticipantEvent(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.Info("server: participant "+kind,
			"conversation_sid", r.PostForm.Get("ConversationSid"),
			"identity", r.PostForm.Get("Identity"))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Participant " + kind + " event processed",
		})
	}
}

func (s *Server) handleStateUpdated(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("server: conversation state updated",
		"conversation_sid", r.PostForm.Get("ConversationSid"),
		"state", r.PostForm.Get("State"))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Conversation state update processed",
	})
}

func (s *Server) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Webhook endpoint is working",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "twilio-openai-conversations",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
