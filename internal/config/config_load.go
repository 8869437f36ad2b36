package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			LogLevel:     "info",
			RateLimitRPM: 60,
		},
		Twilio: TwilioConfig{
			BotIdentity: "assistant",
		},
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   1000,
			Temperature: 0.7,
		},
		Agent: AgentConfig{
			Name: "Customer Service Assistant",
			FallbackResponses: map[string]string{
				"unknown_query": "I'm having trouble right now. Please contact customer service.",
			},
			MaxConversationHistory: 50,
			TypingTimeoutSeconds:   10,
			RequestTimeoutSeconds:  30,
		},
		Sessions: SessionsConfig{
			Backend:         "sqlite",
			SQLitePath:      "conversations.db",
			StorageDir:      "sessions",
			TimeoutMinutes:  30,
			CleanupSchedule: "*/5 * * * *",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error — env-only deployments are supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("HOST", &c.Server.Host)
	envInt("PORT", &c.Server.Port)
	envStr("LOG_LEVEL", &c.Server.LogLevel)
	if v := os.Getenv("DEBUG"); v != "" {
		c.Server.Debug = v == "1" || v == "true"
	}

	envStr("TWILIO_ACCOUNT_SID", &c.Twilio.AccountSID)
	envStr("TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken)
	envStr("TWILIO_CONVERSATIONS_SERVICE_SID", &c.Twilio.ConversationsServiceSID)
	envStr("WEBHOOK_SECRET", &c.Twilio.WebhookSecret)

	envStr("OPENAI_API_KEY", &c.OpenAI.APIKey)
	envStr("OPENAI_MODEL", &c.OpenAI.Model)
	envInt("OPENAI_MAX_TOKENS", &c.OpenAI.MaxTokens)

	envStr("SESSIONS_BACKEND", &c.Sessions.Backend)
	envStr("DATABASE_URL", &c.Sessions.PostgresDSN)
	envInt("CONVERSATION_TIMEOUT_MINUTES", &c.Sessions.TimeoutMinutes)
	envInt("TYPING_INDICATOR_TIMEOUT_SECONDS", &c.Agent.TypingTimeoutSeconds)

	// DATABASE_URL implies the postgres backend unless explicitly overridden.
	if c.Sessions.PostgresDSN != "" && os.Getenv("SESSIONS_BACKEND") == "" {
		c.Sessions.Backend = "postgres"
	}
}

// Validate checks the required credentials are present.
func (c *Config) Validate() error {
	if c.Twilio.AccountSID == "" {
		return fmt.Errorf("twilio account SID is required (TWILIO_ACCOUNT_SID)")
	}
	if c.Twilio.AuthToken == "" {
		return fmt.Errorf("twilio auth token is required (TWILIO_AUTH_TOKEN)")
	}
	if c.Twilio.ConversationsServiceSID == "" {
		return fmt.Errorf("conversations service SID is required (TWILIO_CONVERSATIONS_SERVICE_SID)")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai API key is required (OPENAI_API_KEY)")
	}
	switch c.Sessions.Backend {
	case "sqlite", "file":
	case "postgres":
		if c.Sessions.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown sessions backend %q", c.Sessions.Backend)
	}
	return nil
}
