package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Chative-Booking-Agent/agent/agents/assistant"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/calendar"
	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/delivery"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/executor"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/history"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/journal"
	llmx "github.com/tanpawarit/Chative-Booking-Agent/agent/llm"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/relay"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/retry"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/scheduling"
	toolx "github.com/tanpawarit/Chative-Booking-Agent/agent/tool"
	configx "github.com/tanpawarit/Chative-Booking-Agent/pkg/config"
	_ "github.com/tanpawarit/Chative-Booking-Agent/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/Chative-Booking-Agent/pkg/openrouter"
	qstashx "github.com/tanpawarit/Chative-Booking-Agent/pkg/qstash"
	"github.com/tanpawarit/Chative-Booking-Agent/pkg/tracing"
	"github.com/tanpawarit/Chative-Booking-Agent/webhook"
)

type AppConfig struct {
	HistoryTurns int           `envconfig:"HISTORY_TURNS" split_words:"true" default:"10"`
	HistoryTTL   time.Duration `envconfig:"HISTORY_TTL" split_words:"true" default:"24h"`
	CheckModels  bool          `envconfig:"CHECK_MODELS" split_words:"true" default:"true"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("APP")
	serverCfg := configx.MustNew[webhook.Config]("APP")
	execCfg := configx.MustNew[executor.Config]("APP")
	retryCfg := configx.MustNew[retry.Config]("APP")
	schedCfg := configx.MustNew[scheduling.Config]("APP")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	relayCfg := configx.MustNew[relay.Config]("BACKEND")
	calendarCfg := configx.MustNew[calendar.Config]("BACKEND")
	redisCfg := configx.MustNew[history.UpstashRedisConfig]("UPSTASH_REDIS")
	journalCfg := configx.MustNew[journal.Config]("JOURNAL")
	qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
	tracingCfg := configx.MustNew[tracing.Config]("TRACING")

	shutdownTracing, err := tracing.Init(ctx, *tracingCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing_init_failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	if appCfg.CheckModels {
		checkModels(ctx, *llmCfg)
	}

	tracker := delivery.NewTracker()
	messenger := relay.MustNew(*relayCfg)
	scheduler, err := scheduling.New(calendar.MustNew(*calendarCfg), *schedCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler_init_failed")
	}

	catalog, err := toolx.New(toolx.Deps{Tracker: tracker, Messenger: messenger, Scheduler: scheduler})
	if err != nil {
		log.Fatal().Err(err).Msg("tool_catalog_init_failed")
	}

	models, err := assistant.NewRegistry(ctx, *llmCfg, catalog.EinoTools())
	if err != nil {
		log.Fatal().Err(err).Msg("assistant_registry_init_failed")
	}

	deps := orchestrator.Deps{
		Models:   models,
		Tracker:  tracker,
		Executor: executor.MustNew(*execCfg),
		Retry:    retry.MustNew(*retryCfg),
	}
	// A turn runs the primary attempts and, when nothing was sent, the forced delivery attempts.
	serverOpts := []webhook.Option{webhook.WithTurnBudget(2 * retryCfg.Budget(execCfg.Timeout))}

	if redisCfg.Enabled() {
		store, err := history.NewUpstashRedisStore(*redisCfg,
			history.WithMaxTurns(appCfg.HistoryTurns),
			history.WithTTL(appCfg.HistoryTTL),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("history_store_init_failed")
		}
		deps.History = store
	} else {
		log.Warn().Msg("history_store_disabled")
	}

	if journalCfg.Enabled() {
		j, err := journal.Open(*journalCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("journal_open_failed")
		}
		defer j.Close()
		if err := j.CreateSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("journal_schema_failed")
		}
		deps.Journal = j
		serverOpts = append(serverOpts, webhook.WithHealthCheck("journal", j.Ping))
	} else {
		log.Warn().Msg("delivery_journal_disabled")
	}

	if qstashCfg.Enabled() {
		client := qstashx.MustNew(*qstashCfg)
		deps.DeadLetter = webhook.NewDeadLetter(client)
		serverOpts = append(serverOpts, webhook.WithReplay(client, client.Destination()))
	} else {
		log.Warn().Msg("dead_letter_queue_disabled")
	}

	orch, err := orchestrator.New(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("orchestrator_init_failed")
	}

	server, err := webhook.New(*serverCfg, orch, serverOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("webhook_server_init_failed")
	}
	if err := server.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("webhook_server_failed")
	}
	log.Info().Msg("webhook_server_stopped")
}

// checkModels checks each channel's model once at startup. Failures only warn; the
// retry controller handles a provider that recovers later.
func checkModels(ctx context.Context, cfg llmx.Config) {
	for _, channel := range []contractx.Channel{contractx.ChannelWhatsApp, contractx.ChannelInstagram} {
		modelCfg := cfg.OpenRouterFor(channel)
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := openrouterx.CheckModel(checkCtx, openrouterx.NewClient(modelCfg), modelCfg.Model)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("channel", string(channel)).Str("model", modelCfg.Model).Msg("model_check_failed")
			continue
		}
		log.Info().Str("channel", string(channel)).Str("model", modelCfg.Model).Msg("model_check_ok")
	}
}
