package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/adapters/datasource/postgres"
	"github.com/sweetline/sales-assistant/pkg/audit"
	"github.com/sweetline/sales-assistant/pkg/config"
	"github.com/sweetline/sales-assistant/pkg/database"
	"github.com/sweetline/sales-assistant/pkg/handlers"
	"github.com/sweetline/sales-assistant/pkg/llm"
	"github.com/sweetline/sales-assistant/pkg/logging"
	"github.com/sweetline/sales-assistant/pkg/middleware"
	"github.com/sweetline/sales-assistant/pkg/prompts"
	"github.com/sweetline/sales-assistant/pkg/repositories"
	"github.com/sweetline/sales-assistant/pkg/services"
	"github.com/sweetline/sales-assistant/pkg/websearch"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath, Version)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("llm_configured", cfg.LLM.IsAvailable()),
		zap.Bool("web_search_configured", cfg.WebSearch.IsAvailable()),
		zap.String("session_store", cfg.Assistant.SessionStore))

	db, err := database.NewConnection(ctx, databaseConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if cfg.Migrations.AutoRun {
		sqlDB := stdlib.OpenDBFromPool(db.Pool)
		err := database.RunMigrations(sqlDB, cfg.Migrations.Path, logger)
		_ = sqlDB.Close()
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	firewall := services.NewSecureQueryService(
		postgres.NewQueryExecutor(db.Pool, logger),
		audit.NewSecurityAuditor(logger),
		cfg.Firewall,
		logger,
	)

	llmClient, err := llm.NewFromConfig(&cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	if !llmClient.IsAvailable() {
		logger.Warn("No LLM API key configured; chat and SQL generation will report unavailable")
	}

	repo, closeRepo, err := conversationRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	businessContext, err := prompts.LoadBusinessContext(cfg.Assistant.BusinessContextPath)
	if err != nil {
		return fmt.Errorf("failed to load business context: %w", err)
	}

	sqlService := services.NewSQLQueryService(llmClient, firewall, logger)
	intelligence := services.NewIntelligenceService(
		llmClient,
		sqlService,
		websearch.NewTavilyClient(cfg.WebSearch, logger),
		repo,
		businessContext,
		cfg.Assistant,
		cfg.WebSearch,
		logger,
	)

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	rateLimit := middleware.RateLimit(cfg.RateLimit, proxies, logger)

	handlers.NewHealthHandler(cfg, firewall, llmClient, logger).RegisterRoutes(mux)
	handlers.NewAssistantHandler(intelligence, logger).RegisterRoutes(mux, rateLimit)
	handlers.NewSQLHandler(firewall, sqlService, logger).RegisterRoutes(mux, rateLimit)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger, proxies)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting sales assistant",
			zap.String("addr", server.Addr),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func databaseConfig(cfg *config.Config) *database.Config {
	return &database.Config{
		URL:             cfg.Database.ConnectionString(),
		MaxConnections:  cfg.Database.MaxConnections,
		MinConnections:  cfg.Database.MinConnections,
		MaxConnLifetime: time.Duration(cfg.Database.MaxConnLifetimeMinutes) * time.Minute,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	}
}

// conversationRepository builds the configured session store. The returned
// func releases its resources.
func conversationRepository(ctx context.Context, cfg *config.Config) (repositories.ConversationRepository, func(), error) {
	limit := cfg.Assistant.HistoryLimit
	ttl := cfg.Assistant.SessionTTL()

	if cfg.Assistant.SessionStore != "redis" {
		return repositories.NewMemoryConversationRepository(limit, ttl), func() {}, nil
	}

	client, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	repo := repositories.NewRedisConversationRepository(client, cfg.Redis.KeyPrefix, limit, ttl)
	return repo, func() { _ = client.Close() }, nil
}
