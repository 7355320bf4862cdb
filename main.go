package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/channel"
	"github.com/leadgate-ai/leadgate-engine/pkg/config"
	"github.com/leadgate-ai/leadgate-engine/pkg/conversation"
	"github.com/leadgate-ai/leadgate-engine/pkg/database"
	"github.com/leadgate-ai/leadgate-engine/pkg/delivery"
	"github.com/leadgate-ai/leadgate-engine/pkg/followup"
	"github.com/leadgate-ai/leadgate-engine/pkg/handlers"
	"github.com/leadgate-ai/leadgate-engine/pkg/knowledge"
	"github.com/leadgate-ai/leadgate-engine/pkg/llm"
	"github.com/leadgate-ai/leadgate-engine/pkg/logging"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
	"github.com/leadgate-ai/leadgate-engine/pkg/prompt"
	"github.com/leadgate-ai/leadgate-engine/pkg/repositories"
	"github.com/leadgate-ai/leadgate-engine/pkg/transcribe"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting leadgate-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env))

	// Database
	logger.Info("connecting to database",
		zap.String("url", logging.SanitizeConnectionString(cfg.Database.ConnectionString())))
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, "migrations", logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	if redisClient == nil {
		logger.Warn("redis not configured, auth flow state will not survive restarts")
	}

	// AI provider
	llmClient, err := llm.NewClient(&llm.Config{
		BaseURL:        cfg.AI.BaseURL,
		APIKey:         cfg.AI.APIKey,
		Model:          cfg.AI.Model,
		EmbeddingModel: cfg.AI.EmbeddingModel,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create LLM client", zap.Error(err))
	}

	// Repositories
	tenantRepo := repositories.NewTenantRepository(db)
	prospectRepo := repositories.NewProspectRepository(db)
	messageRepo := repositories.NewMessageRepository(db)
	knowledgeRepo := repositories.NewKnowledgeRepository(db)
	promptConfigRepo := repositories.NewPromptConfigRepository(db)
	customFieldRepo := repositories.NewCustomFieldRepository(db)
	sessionRepo := repositories.NewChannelSessionRepository(db)

	// Services
	knowledgeSvc := knowledge.NewService(knowledgeRepo, llmClient, &cfg.Knowledge, cfg.AI.EmbeddingDimension, logger)
	prompts := prompt.NewAssembler(promptConfigRepo, customFieldRepo, logger)

	var bot *tgbotapi.BotAPI
	var direct delivery.DirectSender
	if cfg.Bot.Token != "" {
		bot, err = tgbotapi.NewBotAPI(cfg.Bot.Token)
		if err != nil {
			logger.Fatal("failed to create bot client", zap.Error(err))
		}
		direct = delivery.NewBotSender(bot)
	} else {
		logger.Warn("no bot token configured, direct channel disabled")
	}
	deliverySvc := delivery.NewService(messageRepo, tenantRepo, direct, cfg.Bot.OperatorChatID, logger)

	var transcriber conversation.Transcriber
	if cfg.Transcribe.APIKey != "" {
		transcriber = transcribe.NewService(cfg.Transcribe.APIKey, cfg.Transcribe.Language, logger)
	}

	// Human-like channel. The engine and the session manager reference each
	// other: inbound updates feed the engine, the engine types through the
	// manager. The engine variable is bound after both exist.
	var engine *conversation.Engine

	registry := channel.NewRegistry(logger)
	dialer := channel.NewGatewayDialer(cfg.Channel.GatewayURL, cfg.Channel.GatewayToken, logger)
	manager := channel.NewManager(sessionRepo, dialer, registry, redisClient, &cfg.Channel,
		func(tenantID uuid.UUID, update channel.InboundUpdate) {
			ev := conversation.InboundEvent{
				TenantID:      tenantID,
				ChannelUserID: update.SenderID,
				Username:      update.Username,
				DisplayName:   update.DisplayName,
				Source:        models.SourceHumanlike,
				Text:          update.Text,
				Voice:         update.VoiceData,
				PhotoURL:      update.PhotoURL,
				Caption:       update.Caption,
			}
			if update.ChannelMessageID != 0 {
				id := update.ChannelMessageID
				ev.ChannelMessageID = &id
			}
			engine.HandleInbound(ctx, ev)
		}, logger)

	engine = conversation.NewEngine(prospectRepo, messageRepo, knowledgeSvc, prompts,
		llmClient, deliverySvc, deliverySvc, transcriber, manager,
		&cfg.Conversation, cfg.Knowledge.SearchLimit, logger)

	// Background loops
	if cfg.Channel.GatewayURL != "" {
		go manager.RunReconcileLoop(ctx)
	}

	worker := delivery.NewWorker(messageRepo, prospectRepo, manager, cfg.Channel.DeliveryPollEvery, logger)
	go worker.Run(ctx)

	scheduler := followup.NewScheduler(tenantRepo, prospectRepo, messageRepo, engine, deliverySvc, &cfg.FollowUp, logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("failed to start follow-up scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	// HTTP surface
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewKnowledgeHandler(knowledgeSvc, logger).RegisterRoutes(mux)
	handlers.NewProspectsHandler(prospectRepo, logger).RegisterRoutes(mux)
	handlers.NewChannelAuthHandler(manager, logger).RegisterRoutes(mux)

	if bot != nil && cfg.Bot.TenantID != "" {
		botTenantID, err := uuid.Parse(cfg.Bot.TenantID)
		if err != nil {
			logger.Fatal("invalid bot tenant id", zap.Error(err))
		}
		handlers.NewBotWebhookHandler(bot, engine, botTenantID, cfg.Bot.WebhookPath, logger).RegisterRoutes(mux)
	}

	server := &http.Server{
		Addr:    net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler: mux,
	}

	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}

	// Let in-flight turns finish before closing the pools.
	engine.Wait()
	logger.Info("stopped")
}
