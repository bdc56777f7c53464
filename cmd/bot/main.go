package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/agency-assistant/internal/assistant"
	"github.com/xaenox/agency-assistant/internal/bot"
	"github.com/xaenox/agency-assistant/internal/classifier"
	"github.com/xaenox/agency-assistant/internal/llm"
	"github.com/xaenox/agency-assistant/internal/models"
	"github.com/xaenox/agency-assistant/internal/prompt"
	"github.com/xaenox/agency-assistant/internal/storage"
	"github.com/xaenox/agency-assistant/internal/stream"
	"github.com/xaenox/agency-assistant/pkg/config"
	"go.uber.org/zap"
)

func main() {
	configPath := "config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		// No config means no log settings yet.
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", configPath))
	}

	// Initialize logger
	logger := newLogger(cfg.Log)
	defer logger.Sync()

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}
		store, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	chat := llm.NewChatClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, logger)

	var images llm.ImageGenerator
	switch cfg.Image.Provider {
	case "external":
		images = llm.NewExternalImageClient(cfg.Image.BaseURL, cfg.Image.APIKey, logger)
	default:
		images = llm.NewOpenAIImageClient(chat.OpenAI(), logger)
	}
	logger.Info("Image provider configured", zap.String("provider", cfg.Image.Provider))

	// Initialize classifier
	clf := classifier.NewIntentClassifier(
		classifier.NewRuleClassifier(cfg.Classifier.AmbiguousMinLength, cfg.Classifier.HistoryWindow),
		classifier.NewGPTClassifier(chat.OpenAI(), cfg.Classifier.Model, logger),
		logger,
	)

	prompts := prompt.NewBuilder(cfg.Assistant.AgencyName, models.Personality{
		AssistantName: cfg.Assistant.AssistantName,
		Tone:          cfg.Assistant.Tone,
		Instructions:  cfg.Assistant.Instructions,
	})

	dispatcher := assistant.NewDispatcher(store, clf, chat, images, prompts, assistant.Options{
		ChatModel:        cfg.OpenAI.Model,
		VisionModel:      cfg.OpenAI.VisionModel,
		TitleModel:       cfg.OpenAI.TitleModel,
		MaxTokens:        cfg.OpenAI.MaxTokens,
		Temperature:      cfg.OpenAI.Temperature,
		IsReasoningModel: cfg.OpenAI.IsReasoningModel,
		ImageModel:       cfg.Image.Model,
		ImageWidth:       cfg.Image.Width,
		ImageHeight:      cfg.Image.Height,
		ImageTimeout:     cfg.Image.Timeout,
		ContextTokens:    cfg.Assistant.ContextTokens,
		HistoryWindow:    cfg.Classifier.HistoryWindow,
	}, stream.NewDiagnostics(), logger)

	// Initialize bot
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}
	api.Debug = cfg.Telegram.Debug
	b := bot.New(api, store, dispatcher, cfg.Assistant.SnapshotInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the bot
	if err := b.Start(ctx); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}

	logger.Info("Shutting down, waiting for background work")
	dispatcher.Wait()
}

func newLogger(cfg config.LogConfig) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
		zapCfg.Level = level
	}
	logger, err := zapCfg.Build()
	if err != nil {
		logger = zap.NewExample()
	}
	return logger
}
