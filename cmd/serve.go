package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/agent"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/config"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/providers"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/reaper"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/security"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/server"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/sessions"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/store"
	filestore "github.com/nmogil-tw/twilio-openai-conversations/internal/store/file"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/store/pg"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/store/sqlite"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/telemetry"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/twilio"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/webhook"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Server.Debug || cfg.Server.LogLevel == "debug" {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting conversations-bot",
		"version", Version,
		"account_sid", security.Mask(cfg.Twilio.AccountSID),
		"service_sid", security.Mask(cfg.Twilio.ConversationsServiceSID),
		"sessions_backend", cfg.Sessions.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	st, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	sessSvc := sessions.NewService(st)
	client := twilio.NewClient(
		cfg.Twilio.AccountSID,
		cfg.Twilio.AuthToken,
		cfg.Twilio.ConversationsServiceSID,
		cfg.Twilio.APIBase,
		logger,
	)
	checker := twilio.NewEligibilityChecker(client, cfg.Twilio.BotIdentity, logger)
	provider := providers.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.APIBase, cfg.OpenAI.Model)
	invoker := agent.NewInvoker(provider, cfg.Agent, cfg.OpenAI, logger)
	typing := webhook.NewTypingCoordinator(client, cfg.TypingTimeout(), logger)
	orch := webhook.NewOrchestrator(sessSvc, checker, client, invoker, typing,
		cfg.Twilio.BotIdentity, cfg.Agent.MaxConversationHistory, cfg.RequestTimeout(), logger)
	srv := server.New(cfg, orch, sessSvc, Version, logger)
	reap := reaper.New(sessSvc, cfg.Sessions.CleanupSchedule, cfg.SessionTimeout(), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return reap.Run(gctx) })

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func openStore(cfg *config.Config) (store.SessionStore, error) {
	switch cfg.Sessions.Backend {
	case "sqlite":
		return sqlite.Open(cfg.Sessions.SQLitePath)
	case "file":
		return filestore.Open(cfg.Sessions.StorageDir)
	case "postgres":
		return pg.Open(cfg.Sessions.PostgresDSN)
	}
	return nil, fmt.Errorf("unknown sessions backend %q", cfg.Sessions.Backend)
}
