package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/susu3304/warikanbot/internal/api"
	"github.com/susu3304/warikanbot/internal/bot"
	"github.com/susu3304/warikanbot/internal/config"
	"github.com/susu3304/warikanbot/internal/db"
	"github.com/susu3304/warikanbot/internal/ledger"
	"github.com/susu3304/warikanbot/internal/lock"
	"github.com/susu3304/warikanbot/internal/logging"
	"github.com/susu3304/warikanbot/internal/retention"
	"go.uber.org/zap"
)

type store interface {
	ledger.Store
	retention.Purger
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	// Connect to database
	var groups store
	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer database.Close()

		// Run migrations
		if err := database.RunMigrations(ctx); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		groups = database
	} else {
		logger.Warn("DATABASE_URL is not set, groups are kept in memory")
		groups = ledger.NewMemoryStore()
	}

	opts := []ledger.Option{ledger.WithLogger(logger)}

	if cfg.RedisURL != "" {
		locker, err := lock.New(ctx, cfg.RedisURL, lock.Options{Expiry: cfg.LockExpiry}, logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer locker.Close()
		opts = append(opts, ledger.WithLocker(locker))
	}

	// The DM notifier shares the bot's session, so the session is created
	// before the ledger service and the bot after it.
	var session *discordgo.Session
	if cfg.DiscordToken != "" {
		session, err = bot.NewSession(cfg.DiscordToken)
		if err != nil {
			logger.Fatal("failed to create discord session", zap.Error(err))
		}
		opts = append(opts, ledger.WithNotifier(bot.NewDMNotifier(session, logger)))
	} else {
		logger.Warn("DISCORD_TOKEN is not set, the bot is disabled")
		opts = append(opts, ledger.WithNotifier(ledger.NewLogNotifier(logger)))
	}

	svc := ledger.NewService(groups, opts...)

	// Start Discord bot
	if session != nil {
		discordBot := bot.New(session, svc, logger)
		if err := discordBot.Start(); err != nil {
			logger.Fatal("failed to start discord bot", zap.Error(err))
		}
		defer discordBot.Stop()
	}

	purger := retention.NewWorker(groups, cfg.RetentionTTL, cfg.RetentionInterval, logger)
	purger.Start()
	defer purger.Stop()

	// Start API server
	server := api.New(cfg, svc, logger).Server()
	go func() {
		logger.Info("API server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server error", zap.Error(err))
		}
	}()

	// Wait for signal to stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", zap.Error(err))
	}
}
