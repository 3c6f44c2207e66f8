// The worker drains the webhook queue and runs the periodic sync
// scheduler. It shares the service layer with the API server but has no
// HTTP surface of its own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fintrack/internal/aggregator"
	"fintrack/internal/config"
	"fintrack/internal/database"
	"fintrack/internal/logger"
	"fintrack/internal/models"
	"fintrack/internal/oracle"
	"fintrack/internal/queue"
	"fintrack/internal/services"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	logger.Init(os.Getenv("ENV"))
	defer logger.Sync()

	if err := run(); err != nil {
		logger.Get().Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	log := logger.Get()

	appConfig, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dbConfig, err := database.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load database configuration: %w", err)
	}
	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to create database manager: %w", err)
	}

	aggregatorClient := aggregator.NewHTTPClient(
		appConfig.AggregatorBaseURL,
		appConfig.AggregatorClientID,
		appConfig.AggregatorSecret,
		appConfig.AggregatorTimeout,
	)
	categoryOracle := oracle.NewHTTPOracle(appConfig.OracleBaseURL, appConfig.OracleTimeout)

	queueClient, err := queue.NewClient(appConfig.AMQPURL, appConfig.WebhookExchange, appConfig.WebhookQueue, log)
	if err != nil {
		return fmt.Errorf("failed to connect to message broker: %w", err)
	}
	defer queueClient.Close()

	db := dbManager.DB()
	accountService := services.NewAccountService(db)
	reconcilerService := services.NewReconcilerService(db, categoryOracle, accountService, log)
	syncService := services.NewSyncService(db, aggregatorClient, reconcilerService, log)
	webhookService := services.NewWebhookService(db, syncService, reconcilerService, aggregatorClient, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runScheduler(ctx, db, syncService, appConfig.SyncInterval, log)

	log.Infow("worker started", "sync_interval", appConfig.SyncInterval)
	if err := queueClient.ConsumeWebhooks(ctx, webhookService); err != nil && ctx.Err() == nil {
		return fmt.Errorf("webhook consumer stopped: %w", err)
	}
	return nil
}

// runScheduler periodically syncs every syncable item. Items flagged
// for re-authentication are skipped; per-item serialization inside the
// sync service keeps a scheduled run from colliding with a
// webhook-triggered one.
func runScheduler(ctx context.Context, db *gorm.DB, syncService services.SyncServicer, interval time.Duration, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncAll(ctx, db, syncService, log)
		}
	}
}

func syncAll(ctx context.Context, db *gorm.DB, syncService services.SyncServicer, log *zap.SugaredLogger) {
	var credentials []models.ItemCredential
	if err := db.Where("requires_reauth = ?", false).Find(&credentials).Error; err != nil {
		log.Errorw("scheduler failed to list items", "error", err)
		return
	}

	for _, credential := range credentials {
		if ctx.Err() != nil {
			return
		}
		if _, err := syncService.Sync(ctx, credential.ItemID); err != nil {
			log.Warnw("scheduled sync failed",
				"item_id", credential.ItemID,
				"error", err,
			)
		}
	}
}
