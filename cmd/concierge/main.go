package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/concierge/internal/agent"
	"github.com/rahul/concierge/internal/gateway"
	"github.com/rahul/concierge/internal/governance"
	"github.com/rahul/concierge/internal/llm"
	"github.com/rahul/concierge/internal/observability"
	"github.com/rahul/concierge/internal/services"
	"github.com/rahul/concierge/internal/store"
	"github.com/rahul/concierge/internal/timeutil"
	"github.com/rahul/concierge/pkg/config"
)

const version = "0.3.0"

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("CONCIERGE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	observability.PrintBanner(version)
	logger := observability.Setup(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", configPath).Msg("loading config")
	}

	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.App.Timezone).Msg("invalid timezone")
	}

	history, err := store.NewHistoryStore(cfg.Memory.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening history store")
	}
	defer history.Close()

	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		logger.Fatal().Msg("no enabled provider in config")
	}
	var model *openai.LLM
	switch pName {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		logger.Fatal().Str("provider", pName).Msg("provider not supported")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing model")
	}

	client := llm.NewClient(model, llm.DefaultRetryPolicy(), logger)
	client.SetAudit(observability.NewCallLog("", logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	norm := timeutil.NewNormalizer(loc)
	registry := services.NewRegistry()

	if cfg.Calendar.CredentialsPath != "" {
		cal, cerr := services.NewCalendarService(ctx, cfg.Calendar.CredentialsPath, cfg.Calendar.CalendarID, loc, logger)
		if cerr != nil {
			logger.Fatal().Err(cerr).Msg("initializing calendar service")
		}
		registry.Register("calendar", cal)
	} else {
		logger.Warn().Msg("no calendar credentials configured, calendar disabled")
	}
	if cfg.Email.Enabled && cfg.Email.CredentialsPath != "" {
		mail, merr := services.NewEmailService(ctx, cfg.Email.CredentialsPath, cfg.Email.Address, logger)
		if merr != nil {
			logger.Fatal().Err(merr).Msg("initializing email service")
		}
		registry.Register("email", mail)
	}
	registry.Register("reminder", services.NewReminderService(history, loc, logger))

	policy := governance.NewDefaultPolicyEngine()

	mux := gateway.NewMux(logger)
	orch := agent.NewOrchestrator(
		agent.NewIntentParser(client, norm, logger),
		agent.NewReasoner(client, logger),
		agent.NewPlanner(client, registry, policy, logger),
		registry, policy, history, mux,
		agent.OrchestratorConfig{
			MaxInflight:  cfg.Limits.MaxInflight,
			StateTTL:     cfg.Limits.StateTTL,
			HistoryTurns: cfg.Limits.HistoryTurns,
		},
		logger)

	stats := &observability.Stats{}
	orch.SetStats(stats)

	registered := 0
	if tgCfg, ok := cfg.GetGateway("telegram"); ok {
		tg, terr := gateway.NewTelegramGateway(tgCfg.Token, mux.HandlerFor("telegram", orch), agent.WelcomeMessage, logger)
		if terr != nil {
			logger.Fatal().Err(terr).Msg("initializing telegram gateway")
		}
		mux.Register("telegram", tg)
		registered++
	}
	if dcCfg, ok := cfg.GetGateway("discord"); ok {
		dc, derr := gateway.NewDiscordGateway(dcCfg.Token, mux.HandlerFor("discord", orch), logger)
		if derr != nil {
			logger.Fatal().Err(derr).Msg("initializing discord gateway")
		}
		mux.Register("discord", dc)
		registered++
	}
	if registered == 0 {
		logger.Fatal().Msg("no gateway enabled, set a telegram or discord token")
	}

	orch.StartJanitor(ctx, 5*time.Minute)
	go agent.NewScheduler(history, mux, 30*time.Second, logger).Run(ctx)
	go stats.Heartbeat(ctx, time.Minute, orch.ActiveConversations, logger)

	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		if serr := mux.StopAll(); serr != nil {
			logger.Error().Err(serr).Msg("gateway shutdown")
		}
	}()

	logger.Info().Str("provider", pName).Int("gateways", registered).Msg("concierge up")
	if err := mux.StartAll(); err != nil {
		logger.Error().Err(err).Msg("gateway loop ended")
	}
}
