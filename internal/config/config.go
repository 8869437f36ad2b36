// Package config holds the single immutable configuration struct for the
// bot, populated once at startup from an optional JSON5 file plus environment
// overrides. Secrets (Twilio auth token, OpenAI API key, Postgres DSN) come
// from the environment only and are never written back to disk.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Twilio    TwilioConfig    `json:"twilio"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Agent     AgentConfig     `json:"agent"`
	Sessions  SessionsConfig  `json:"sessions"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Debug        bool   `json:"debug,omitempty"`
	LogLevel     string `json:"log_level,omitempty"`      // "debug", "info", "warn", "error"
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // per-conversation webhook rate limit; 0 disables
}

// TwilioConfig identifies the Conversations service and webhook secret.
// AuthToken and WebhookSecret come from env only.
type TwilioConfig struct {
	AccountSID              string `json:"account_sid"`
	AuthToken               string `json:"-"` // TWILIO_AUTH_TOKEN
	ConversationsServiceSID string `json:"conversations_service_sid"`
	WebhookSecret           string `json:"-"`                      // WEBHOOK_SECRET
	APIBase                 string `json:"api_base,omitempty"`     // override for tests/proxies
	BotIdentity             string `json:"bot_identity,omitempty"` // author identity of the bot (default "assistant")
}

// OpenAIConfig configures the completion backend. APIKey from env only.
type OpenAIConfig struct {
	APIKey      string  `json:"-"` // OPENAI_API_KEY
	APIBase     string  `json:"api_base,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// AgentConfig shapes the customer-service agent: prompt, canned fallbacks,
// knowledge base, and the pipeline's time bounds.
type AgentConfig struct {
	Name              string            `json:"name,omitempty"`
	Instructions      string            `json:"instructions,omitempty"`
	FallbackResponses map[string]string `json:"fallback_responses,omitempty"`
	KnowledgeBase     KnowledgeBase     `json:"knowledge_base,omitempty"`

	MaxConversationHistory int `json:"max_conversation_history,omitempty"` // messages sent as model context
	TypingTimeoutSeconds   int `json:"typing_timeout_seconds,omitempty"`   // auto-clear for the typing signal
	RequestTimeoutSeconds  int `json:"request_timeout_seconds,omitempty"`  // overall webhook processing deadline
}

// KnowledgeBase is static store information folded into the system prompt
// and served by the built-in tools.
type KnowledgeBase struct {
	StoreHours  map[string]string `json:"store_hours,omitempty"` // "weekdays", "saturday", "sunday"
	ContactInfo map[string]string `json:"contact_info,omitempty"`
	FAQ         map[string]string `json:"faq,omitempty"` // topic -> canned answer
}

// SessionsConfig selects and tunes the session store backend.
type SessionsConfig struct {
	Backend                string `json:"backend,omitempty"` // "sqlite" (default), "file", "postgres"
	SQLitePath             string `json:"sqlite_path,omitempty"`
	StorageDir             string `json:"storage_dir,omitempty"` // file backend
	PostgresDSN            string `json:"-"`                     // DATABASE_URL, env only
	TimeoutMinutes         int    `json:"timeout_minutes,omitempty"`
	CleanupSchedule        string `json:"cleanup_schedule,omitempty"` // cron expression for the reaper
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // e.g. "localhost:4317"
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// TypingTimeout returns the typing auto-clear duration.
func (c *Config) TypingTimeout() time.Duration {
	return time.Duration(c.Agent.TypingTimeoutSeconds) * time.Second
}

// RequestTimeout returns the overall webhook processing deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Agent.RequestTimeoutSeconds) * time.Second
}

// SessionTimeout returns the inactivity threshold for the reaper.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Sessions.TimeoutMinutes) * time.Minute
}
