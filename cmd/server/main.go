package main

import (
	"buildmysite-backend/internal/api"
	"buildmysite-backend/internal/config"
	"buildmysite-backend/internal/events"
	"buildmysite-backend/internal/generator"
	"buildmysite-backend/internal/handlers"
	"buildmysite-backend/internal/logging"
	"buildmysite-backend/internal/services"
	"buildmysite-backend/internal/store"
	"buildmysite-backend/internal/store/memory"
	"buildmysite-backend/internal/store/postgres"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: Failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	logger.Info("Starting BuildMySite Backend...", zap.String("store", cfg.StoreDriver), zap.String("ai_provider", cfg.AIProvider))
	if !cfg.EnvFileLoaded {
		logger.Info("No .env file found, using environment only")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
	logger.Info("Server shutdown complete.")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// 2. Initialize the Store
	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Initialize the AI backend
	registry := generator.NewRegistry(logger)
	registry.Register("openai", generator.NewOpenAIGenerator(generator.OpenAIConfig{
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
		AppName: "BuildMySite",
	}, logger))
	registry.Register("template", generator.TemplateGenerator{})

	gen, err := registry.Get(cfg.AIProvider)
	if err != nil {
		return fmt.Errorf("selecting AI provider: %w", err)
	}

	// 4. Initialize Services
	broker := events.NewBroker()
	authService := services.NewAuthService(st, services.AuthOptions{
		JWTSecret:       cfg.JWTSecret,
		TokenExpiration: cfg.TokenExpiration,
	}, logger)
	generationService := services.NewGenerationService(st, gen, broker, services.GenerationOptions{
		Timeout:         cfg.GenerationTimeout,
		MaxPromptLength: cfg.MaxPromptLength,
	}, logger)
	projectService := services.NewProjectService(st, generationService, broker, logger)

	// 5. Initialize Handlers & Router
	router := api.NewRouter(api.RouterDependencies{
		AuthHandler:    handlers.NewAuthHandler(authService, logger),
		ProjectHandler: handlers.NewProjectHandlers(projectService, generationService, logger),
		EventsHandler:  handlers.NewEventsHandler(projectService, broker, cfg.TrustedOrigins, logger),
		JWTSecret:      cfg.JWTSecret,
		TrustedOrigins: cfg.TrustedOrigins,
		Logger:         logger,
	})

	// 6. Configure and Start HTTP Server
	// WriteTimeout is left at zero: long-poll and websocket responses outlive any fixed value,
	// ordinary routes are bounded by the router's timeout middleware.
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("could not listen on %s: %w", cfg.HTTPPort, err)
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-stopChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server graceful shutdown failed", zap.Error(err))
	}

	// Let running generations commit before the store goes away. Anything still running after
	// this is recovered by the stale-claim takeover on the next request.
	genCtx, genCancel := context.WithTimeout(context.Background(), cfg.GenerationTimeout+5*time.Second)
	defer genCancel()
	if err := generationService.Shutdown(genCtx); err != nil {
		logger.Warn("Generations still running at shutdown", zap.Error(err))
	}
	return nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("Using in-memory store, data is lost on restart")
		return memory.NewMemoryStore(), func() {}, nil
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	dbpool, err := pgxpool.New(dbCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}
	if err := dbpool.Ping(dbCtx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("unable to ping database: %w", err)
	}
	logger.Info("Database connection pool established and pinged successfully.")

	pgStore := postgres.NewPostgresStore(dbpool, logger)
	if err := pgStore.Migrate(dbCtx); err != nil {
		dbpool.Close()
		return nil, nil, err
	}
	return pgStore, dbpool.Close, nil
}
