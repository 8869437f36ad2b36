package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Sessions.Backend != "sqlite" {
		t.Errorf("backend = %q", cfg.Sessions.Backend)
	}
	if cfg.TypingTimeout() != 10*time.Second {
		t.Errorf("typing timeout = %v", cfg.TypingTimeout())
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Errorf("request timeout = %v", cfg.RequestTimeout())
	}
	if cfg.SessionTimeout() != 30*time.Minute {
		t.Errorf("session timeout = %v", cfg.SessionTimeout())
	}
	if cfg.Twilio.BotIdentity != "assistant" {
		t.Errorf("bot identity = %q", cfg.Twilio.BotIdentity)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.OpenAI.Model)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// webhook server
		server: { port: 9000 },
		agent: { typing_timeout_seconds: 5 },
		sessions: { backend: "file", storage_dir: "/tmp/sessions" },
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Agent.TypingTimeoutSeconds != 5 {
		t.Errorf("typing timeout = %d", cfg.Agent.TypingTimeoutSeconds)
	}
	if cfg.Sessions.Backend != "file" {
		t.Errorf("backend = %q", cfg.Sessions.Backend)
	}
	// Unset fields keep defaults.
	if cfg.Agent.MaxConversationHistory != 50 {
		t.Errorf("history = %d", cfg.Agent.MaxConversationHistory)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC_env")
	t.Setenv("TWILIO_AUTH_TOKEN", "token_env")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("PORT", "8080")
	t.Setenv("CONVERSATION_TIMEOUT_MINUTES", "15")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Twilio.AccountSID != "AC_env" || cfg.Twilio.AuthToken != "token_env" {
		t.Errorf("twilio = %+v", cfg.Twilio)
	}
	if cfg.OpenAI.Model != "gpt-4o" {
		t.Errorf("model = %q", cfg.OpenAI.Model)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Sessions.TimeoutMinutes != 15 {
		t.Errorf("timeout minutes = %d", cfg.Sessions.TimeoutMinutes)
	}
}

func TestDatabaseURLImpliesPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bot")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sessions.Backend != "postgres" {
		t.Errorf("backend = %q, want postgres implied by DATABASE_URL", cfg.Sessions.Backend)
	}

	t.Setenv("SESSIONS_BACKEND", "sqlite")
	cfg, err = Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sessions.Backend != "sqlite" {
		t.Errorf("backend = %q, explicit setting must win", cfg.Sessions.Backend)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Twilio.AccountSID = "AC123"
		cfg.Twilio.AuthToken = "tok"
		cfg.Twilio.ConversationsServiceSID = "IS123"
		cfg.OpenAI.APIKey = "sk-123"
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing account sid", func(c *Config) { c.Twilio.AccountSID = "" }},
		{"missing auth token", func(c *Config) { c.Twilio.AuthToken = "" }},
		{"missing service sid", func(c *Config) { c.Twilio.ConversationsServiceSID = "" }},
		{"missing api key", func(c *Config) { c.OpenAI.APIKey = "" }},
		{"postgres without dsn", func(c *Config) { c.Sessions.Backend = "postgres" }},
		{"unknown backend", func(c *Config) { c.Sessions.Backend = "redis" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
