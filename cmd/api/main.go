package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/harborline/crm-platform/internal/accounting"
	"github.com/harborline/crm-platform/internal/api/router"
	"github.com/harborline/crm-platform/internal/calls"
	"github.com/harborline/crm-platform/internal/clients"
	appconfig "github.com/harborline/crm-platform/internal/config"
	"github.com/harborline/crm-platform/internal/events"
	"github.com/harborline/crm-platform/internal/finance"
	"github.com/harborline/crm-platform/internal/http/handlers"
	"github.com/harborline/crm-platform/internal/livecalls"
	"github.com/harborline/crm-platform/internal/messages"
	"github.com/harborline/crm-platform/internal/observability/metrics"
	"github.com/harborline/crm-platform/internal/reconcile"
	"github.com/harborline/crm-platform/internal/syncer"
	"github.com/harborline/crm-platform/internal/telephony"
	"github.com/harborline/crm-platform/pkg/logging"
)

func main() {
	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting crm-platform API server", "env", cfg.Env, "port", cfg.Port)

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	webhookMetrics := metrics.NewWebhookMetrics(nil)
	syncMetrics := metrics.NewSyncMetrics(nil)

	// Stores and domain services.
	clientRepo := clients.NewRepository(pool)
	resolver := clients.NewResolver(clientRepo, logger)
	callStore := calls.NewStore(pool)
	liveStore := livecalls.NewStore(rdb, cfg.LiveCallTTL)
	messageStore := messages.NewStore(pool)
	financeStore := finance.NewStore(pool)
	processedStore := events.NewProcessedStore(pool)

	processor := calls.NewProcessor(callStore, resolver, clientRepo, liveStore, logger, webhookMetrics)
	ingestor := messages.NewIngestor(messageStore, resolver, clientRepo, logger)

	// Accounting provider wiring is optional; without it the service still
	// ingests telephony events and serves the live queue.
	var accountingClient *accounting.Client
	if cfg.AccountingBaseURL != "" && cfg.AccountingRealmID != "" {
		accountingClient, err = accounting.New(accounting.Config{
			BaseURL:     cfg.AccountingBaseURL,
			RealmID:     cfg.AccountingRealmID,
			Credentials: accounting.NewEnvCredentialStore(),
			Logger:      logger,
		})
		if err != nil {
			logger.Error("failed to create accounting client", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("accounting provider not configured, reconciliation disabled")
	}

	var engine *reconcile.Engine
	var accountingSync *syncer.AccountingSync
	if accountingClient != nil {
		engine = reconcile.NewEngine(accountingClient, clientRepo, financeStore, logger)
		accountingSync = syncer.NewAccountingSync(accountingClient, engine, cfg.AccountingPageSize, logger, syncMetrics)
	}

	var telephonySync *syncer.TelephonyImport
	if cfg.TelephonyBaseURL != "" && cfg.TelephonyAPIKey != "" {
		telephonyClient, err := telephony.NewClient(telephony.Config{
			BaseURL:  cfg.TelephonyBaseURL,
			APIKey:   cfg.TelephonyAPIKey,
			PageSize: cfg.TelephonyPageSize,
			Logger:   logger,
		})
		if err != nil {
			logger.Error("failed to create telephony client", "error", err)
			os.Exit(1)
		}
		telephonySync = syncer.NewTelephonyImport(telephonyClient, processor, ingestor, logger, syncMetrics)
	} else {
		logger.Warn("telephony provider not configured, bulk import disabled")
	}

	// Handlers.
	telephonyWebhooks := handlers.NewTelephonyWebhookHandler(handlers.TelephonyWebhookConfig{
		Processor:     processor,
		Ingestor:      ingestor,
		Processed:     processedStore,
		WebhookSecret: cfg.TelephonyWebhookSecret,
		SkipVerify:    cfg.TelephonySkipVerify,
		Logger:        logger,
		Metrics:       webhookMetrics,
	})

	var accountingWebhooks *handlers.AccountingWebhookHandler
	if engine != nil {
		accountingWebhooks = handlers.NewAccountingWebhookHandler(handlers.AccountingWebhookConfig{
			Engine:        engine,
			WebhookSecret: cfg.AccountingWebhookSecret,
			SkipVerify:    cfg.AccountingSkipVerify,
			RealmID:       cfg.AccountingRealmID,
			Logger:        logger,
			Metrics:       webhookMetrics,
		})
	}

	var syncRunnerA handlers.AccountingSyncRunner
	if accountingSync != nil {
		syncRunnerA = accountingSync
	}
	var syncRunnerT handlers.TelephonySyncRunner
	if telephonySync != nil {
		syncRunnerT = telephonySync
	}
	syncHandler := handlers.NewSyncHandler(syncRunnerA, syncRunnerT, logger)

	liveCallsHandler := handlers.NewLiveCallsHandler(liveStore, logger)
	healthHandler := handlers.NewHealthHandler(pool, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	r := router.New(&router.Config{
		Logger:             logger,
		TelephonyWebhooks:  telephonyWebhooks,
		AccountingWebhooks: accountingWebhooks,
		SyncHandler:        syncHandler,
		LiveCalls:          liveCallsHandler,
		HealthHandler:      healthHandler,
		MetricsHandler:     promhttp.Handler(),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   50,
		WebhookRateBurst:   100,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
