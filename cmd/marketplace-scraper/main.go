package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/taocrawl/marketplace-scraper/internal/api"
	"github.com/taocrawl/marketplace-scraper/internal/browser"
	"github.com/taocrawl/marketplace-scraper/internal/config"
	"github.com/taocrawl/marketplace-scraper/internal/database"
	"github.com/taocrawl/marketplace-scraper/internal/events"
	"github.com/taocrawl/marketplace-scraper/internal/extractor"
	"github.com/taocrawl/marketplace-scraper/internal/jobs"
	"github.com/taocrawl/marketplace-scraper/internal/scraper"
)

func main() {
	// Optional .env for local development; the environment wins in production.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.ApplySchema(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	browserOpts := browser.DefaultOptions()
	browserOpts.Headless = cfg.Browser.Headless
	browserOpts.Timeout = cfg.Browser.NavTimeout
	browserOpts.ViewportWidth = cfg.Browser.ViewportWidth
	browserOpts.ViewportHeight = cfg.Browser.ViewportHeight
	if cfg.Browser.UserAgent != "" {
		browserOpts.UserAgent = cfg.Browser.UserAgent
	}

	session, err := browser.Acquire(browserOpts)
	if err != nil {
		logger.Error("failed to launch browser", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := browser.Shutdown(); err != nil {
			logger.Error("browser shutdown failed", "error", err)
		}
	}()

	if cfg.Scraper.ScreenshotDir != "" {
		if err := os.MkdirAll(cfg.Scraper.ScreenshotDir, 0o755); err != nil {
			logger.Warn("failed to create screenshot dir", "error", err)
		}
	}

	publisher := events.NewPublisher(redisClient, cfg.Redis.Stream, logger)
	productRepo := database.NewProductRepository(db)
	jobRepo := database.NewJobRepository(db)

	scraperService := scraper.New(
		scraper.SessionPages(session),
		extractor.NewHTMLExtractor(),
		productRepo,
		jobRepo,
		publisher,
		cfg.Scraper,
		cfg.Browser.NavTimeout,
		logger,
	)
	jobManager := jobs.NewManager(jobRepo, scraperService, logger)

	handlers := api.NewHandlers(jobManager, productRepo, scraperService, logger)
	router := api.NewRouter(handlers, map[string]api.HealthCheck{
		"database": func() error {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return db.Pool().Ping(pingCtx)
		},
		"redis": func() error {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return redisClient.Ping(pingCtx).Err()
		},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		cancel()

		// Let live jobs notice their cancel flags and finalize before the
		// listener goes away.
		jobManager.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
