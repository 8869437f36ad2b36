// Package agent turns customer messages into responses: built-in tool
// lookups first, the completion backend for everything else, and a canned
// fallback when the backend fails. Invoke never returns an error; a broken
// backend degrades to the fallback reply instead of silence.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/config"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/conversation"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/providers"
)

const defaultFallback = "I'm having trouble right now. Please contact customer service."

// Confidence levels: tool answers are deterministic, model answers are the
// backend's word, fallbacks barely count.
const (
	toolConfidence     = 0.9
	modelConfidence    = 0.8
	fallbackConfidence = 0.1
)

// Invoker is the agent entry point used by the webhook orchestrator.
type Invoker struct {
	provider providers.Provider
	tools    *Tools
	cfg      config.AgentConfig

	model       string
	maxTokens   int
	temperature float64

	logger *slog.Logger
}

// NewInvoker wires the agent over a completion provider. oai carries the
// per-request tuning (model, token cap, temperature).
func NewInvoker(provider providers.Provider, cfg config.AgentConfig, oai config.OpenAIConfig, logger *slog.Logger) *Invoker {
	return &Invoker{
		provider:    provider,
		tools:       NewTools(cfg.KnowledgeBase, logger),
		cfg:         cfg,
		model:       oai.Model,
		maxTokens:   oai.MaxTokens,
		temperature: oai.Temperature,
		logger:      logger,
	}
}

// Invoke produces a response to a customer message. history is the session's
// prior turns in chronological order; sessCtx is the session's context blob.
// The returned response is always non-nil and always has content.
func (inv *Invoker) Invoke(ctx context.Context, message, sessionID string, history []conversation.Message, sessCtx conversation.Context) *conversation.AgentResponse {
	start := time.Now()

	if answer, tool, ok := inv.tools.Route(message); ok {
		inv.logger.Info("agent: answered by tool",
			"session_id", sessionID, "tool", tool)
		return &conversation.AgentResponse{
			Content:          answer,
			Confidence:       toolConfidence,
			ToolsUsed:        []string{tool},
			ProcessingTimeMS: time.Since(start).Milliseconds(),
			Metadata: map[string]any{
				"session_id": sessionID,
				"timestamp":  start.UTC().Format(time.RFC3339),
			},
		}
	}

	resp, err := inv.complete(ctx, message, history, sessCtx)
	if err != nil {
		inv.logger.Error("agent: completion failed, using fallback",
			"session_id", sessionID, "error", err)
		return inv.fallback(start, err)
	}

	inv.logger.Info("agent: response generated",
		"session_id", sessionID,
		"processing_ms", time.Since(start).Milliseconds())
	meta := map[string]any{
		"model_used": inv.model,
		"session_id": sessionID,
		"timestamp":  start.UTC().Format(time.RFC3339),
	}
	if resp.Usage != nil {
		meta["tokens_used"] = resp.Usage.TotalTokens
	}
	return &conversation.AgentResponse{
		Content:          resp.Content,
		Confidence:       modelConfidence,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Metadata:         meta,
	}
}

func (inv *Invoker) complete(ctx context.Context, message string, history []conversation.Message, sessCtx conversation.Context) (*providers.CompletionResponse, error) {
	msgs := make([]providers.Message, 0, len(history)+2)
	msgs = append(msgs, providers.Message{
		Role:    string(conversation.RoleSystem),
		Content: inv.systemPrompt(sessCtx),
	})
	for _, m := range history {
		if m.Role == conversation.RoleSystem {
			continue
		}
		msgs = append(msgs, providers.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, providers.Message{Role: string(conversation.RoleUser), Content: message})

	return inv.provider.Complete(ctx, providers.CompletionRequest{
		Messages:    msgs,
		Model:       inv.model,
		MaxTokens:   inv.maxTokens,
		Temperature: inv.temperature,
	})
}

// systemPrompt folds the configured instructions, knowledge base, and session
// context into one system message.
func (inv *Invoker) systemPrompt(sessCtx conversation.Context) string {
	var sb strings.Builder
	if inv.cfg.Instructions != "" {
		sb.WriteString(inv.cfg.Instructions)
	} else {
		sb.WriteString("You are a helpful customer service assistant. Be concise, friendly, and accurate.")
	}

	var kb []string
	if len(inv.cfg.KnowledgeBase.StoreHours) > 0 {
		kb = append(kb, "Store hours: "+formatPairs(inv.cfg.KnowledgeBase.StoreHours))
	}
	if v, ok := inv.cfg.KnowledgeBase.ContactInfo["customer_service"]; ok {
		kb = append(kb, "Contact: "+v)
	}
	if len(kb) > 0 {
		sb.WriteString("\n\nStore Information:\n")
		sb.WriteString(strings.Join(kb, "\n"))
	}

	var ctxInfo []string
	if name, ok := sessCtx["customer_name"].(string); ok && name != "" {
		ctxInfo = append(ctxInfo, "Customer name: "+name)
	}
	if orders, ok := sessCtx["recent_orders"].([]any); ok && len(orders) > 0 {
		ctxInfo = append(ctxInfo, fmt.Sprintf("Recent orders: %d", len(orders)))
	}
	if len(ctxInfo) > 0 {
		sb.WriteString("\n\nConversation Context:\n")
		sb.WriteString(strings.Join(ctxInfo, "\n"))
	}
	return sb.String()
}

func formatPairs(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+m[k])
	}
	return strings.Join(parts, ", ")
}

func (inv *Invoker) fallback(start time.Time, cause error) *conversation.AgentResponse {
	content := inv.cfg.FallbackResponses["unknown_query"]
	if content == "" {
		content = defaultFallback
	}
	return &conversation.AgentResponse{
		Content:          content,
		Confidence:       fallbackConfidence,
		ToolsUsed:        []string{},
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Metadata: map[string]any{
			"error":         cause.Error(),
			"fallback_used": true,
		},
	}
}
