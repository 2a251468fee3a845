package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/xboty/ticketbot/internal/ai"
	"github.com/xboty/ticketbot/internal/bot"
	"github.com/xboty/ticketbot/internal/dashboard"
	"github.com/xboty/ticketbot/internal/knowledge"
	"github.com/xboty/ticketbot/internal/storage"
	"github.com/xboty/ticketbot/internal/ticket"
	"github.com/xboty/ticketbot/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Local runs read a .env file; deployments use real env vars.
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}
	if cfg.Discord.Token == "" {
		logger.Fatal("DISCORD_BOT_TOKEN missing from environment")
	}

	var store storage.Storage
	var attachmentsDir string
	if cfg.Database.UseFiles {
		logger.Info("Using flat-file storage", zap.String("dir", cfg.Database.DataDir))
		fileStore, err := storage.NewFileStorage(cfg.Database.DataDir, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
		store = fileStore
		attachmentsDir = fileStore.AttachmentsDir()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	gatewayCfg := ai.DefaultConfig()
	if len(cfg.AI.Models) > 0 {
		gatewayCfg.Models = cfg.AI.Models
	}
	if len(cfg.AI.EscalateKeywords) > 0 {
		gatewayCfg.EscalateKeywords = cfg.AI.EscalateKeywords
	}
	if len(cfg.AI.ReassureKeywords) > 0 {
		gatewayCfg.ReassureKeywords = cfg.AI.ReassureKeywords
	}
	if cfg.AI.FallbackMessage != "" {
		gatewayCfg.FallbackMessage = cfg.AI.FallbackMessage
	}
	if cfg.AI.HistoryLimit > 0 {
		gatewayCfg.HistoryLimit = cfg.AI.HistoryLimit
	}

	var generator ai.Generator
	if cfg.OpenAI.APIKey != "" {
		generator = ai.NewOpenAIGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.MaxTokens, cfg.OpenAI.Temperature)
	}
	gateway := ai.New(generator, gatewayCfg, logger)

	sets := ticket.LoadChannelSets(store, logger)

	b, err := bot.New(cfg.Discord.Token, cfg.Discord.AdminRole, sets, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	machine := ticket.NewMachine(
		store,
		ticket.NewMemoryStateStore(),
		sets,
		gateway,
		knowledge.Default(),
		b,
		ticket.Config{
			SystemPrompt: cfg.AI.SystemPrompt,
			AdminRole:    cfg.Discord.AdminRole,
		},
		logger,
	)
	b.SetMachine(machine)

	tokens := dashboard.NewTokenService(cfg.Dashboard.JWTSecret, time.Duration(cfg.Dashboard.TokenTTLHours)*time.Hour)
	server := dashboard.NewServer(store, machine, b, tokens, dashboard.Config{
		Addr:           cfg.Dashboard.Addr,
		AdminUsername:  cfg.Dashboard.AdminUsername,
		AdminPassword:  cfg.Dashboard.AdminPassword,
		AttachmentsDir: attachmentsDir,
	}, logger)

	go func() {
		if err := server.Run(); err != nil {
			logger.Error("Dashboard server stopped", zap.Error(err))
		}
	}()

	if err := b.Start(); err != nil {
		logger.Fatal("Failed to start bot", zap.Error(err))
	}
	logger.Info("Bot running, press Ctrl+C to exit")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	if err := b.Stop(); err != nil {
		logger.Error("Failed to close gateway session", zap.Error(err))
	}
}
