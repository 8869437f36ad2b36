// Package providers contains clients for AI completion backends. The agent
// invoker sits on top and never talks HTTP itself; transport concerns
// (timeouts, retries on 429/5xx) live here.
package providers

import "context"

// Provider is the interface a completion backend must implement.
type Provider interface {
	// Complete sends a prompt to the backend and returns the generated text.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider identifier (e.g. "openai").
	Name() string

	// DefaultModel returns the model used when the request does not name one.
	DefaultModel() string
}

// Message is one turn sent to the backend.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// CompletionRequest is the input for a Complete call.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// CompletionResponse is the backend's answer.
type CompletionResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"` // "stop", "length"
	Usage        *Usage `json:"usage,omitempty"`
}

// Usage tracks token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
