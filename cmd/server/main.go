package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/casaflow/utility-recon/internal/batch"
	"github.com/casaflow/utility-recon/internal/config"
	"github.com/casaflow/utility-recon/internal/portal"
	"github.com/casaflow/utility-recon/internal/report"
	"github.com/casaflow/utility-recon/internal/repository"
	"github.com/casaflow/utility-recon/internal/server"
	"github.com/casaflow/utility-recon/internal/storage"
	"github.com/casaflow/utility-recon/pkg/database"
	"github.com/casaflow/utility-recon/pkg/utils"
)

func main() {
	// Load .env if present; real deployments set the environment directly
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting utility reconciliation service",
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	propertyRepo := repository.NewPropertyRepository(db.DB, logger)
	sessionRepo := repository.NewSessionRepository(db.DB, logger)
	resultRepo := repository.NewResultRepository(db.DB, logger)
	invoiceRepo := repository.NewInvoiceRepository(db.DB, logger)

	if err := importProperties(cfg.Batch.PropertiesPath, propertyRepo, logger); err != nil {
		logger.Fatal("Failed to import property list", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		Bucket:          cfg.Storage.Bucket,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UsePathStyle:    cfg.Storage.UsePathStyle,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize object store", zap.Error(err))
	}
	fileStore := storage.NewInvoiceFileStore(store, cfg.Storage.Prefix, logger)

	factory := portal.NewHTTPFactory(portal.Config{
		BaseURL: cfg.Portal.BaseURL,
		Credentials: portal.Credentials{
			Email:    cfg.Portal.Email,
			Password: cfg.Portal.Password,
		},
		ActionTimeout: cfg.Portal.ActionTimeout,
		WaitBudget:    cfg.Portal.WaitBudget,
		RatePerSecond: cfg.Portal.RatePerSecond,
		RateBurst:     cfg.Portal.RateBurst,
	}, logger)

	fetcher := report.NewFetcher(report.RetryPolicy{
		MaxAttempts: cfg.Batch.RetryMaxAttempts,
		BaseBackoff: cfg.Batch.RetryBaseBackoff,
		MaxBackoff:  cfg.Batch.RetryMaxBackoff,
		Jitter:      true,
	}, logger)

	orchestrator := batch.NewOrchestrator(
		factory, fetcher,
		sessionRepo, resultRepo, invoiceRepo, fileStore,
		batch.Config{
			Workers:    cfg.Batch.MaxConcurrentDownloads,
			Targets:    cfg.Batch.SelectionTargets,
			RoomLimits: cfg.Batch.RoomLimitsTable(),
		},
		logger,
	)

	handler := server.NewHandler(orchestrator, propertyRepo, sessionRepo, resultRepo, invoiceRepo, logger)
	srv := server.New(cfg.Server, handler, cfg.Logger.Level == "debug", logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}

// importProperties refreshes the canonical property list from the reference
// file. Missing file is not fatal; the API can still serve prior sessions.
func importProperties(path string, repo *repository.PropertyRepository, logger *zap.Logger) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("Property list file not found, skipping import",
			zap.String("path", path))
		return nil
	}

	properties, err := config.LoadProperties(path)
	if err != nil {
		return err
	}
	for _, property := range properties {
		if err := repo.Upsert(nil, property); err != nil {
			return err
		}
	}

	logger.Info("Property list imported", zap.Int("count", len(properties)))
	return nil
}
