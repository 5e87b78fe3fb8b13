// runbatch runs one reconciliation session end to end from the command
// line and writes the Excel report. Exit code is non-zero when the session
// fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/casaflow/utility-recon/internal/batch"
	"github.com/casaflow/utility-recon/internal/config"
	"github.com/casaflow/utility-recon/internal/domain/entity"
	"github.com/casaflow/utility-recon/internal/export"
	"github.com/casaflow/utility-recon/internal/portal"
	"github.com/casaflow/utility-recon/internal/report"
	"github.com/casaflow/utility-recon/internal/repository"
	"github.com/casaflow/utility-recon/internal/storage"
	"github.com/casaflow/utility-recon/pkg/database"
	"github.com/casaflow/utility-recon/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "configuration file")
	startDate := flag.String("start", "", "billing window start (YYYY-MM-DD, required)")
	endDate := flag.String("end", "", "billing window end (YYYY-MM-DD, required)")
	sessionName := flag.String("name", "", "optional session name")
	propertyNames := flag.String("properties", "", "comma-separated property subset (default: all)")
	noDownload := flag.Bool("no-download", false, "skip invoice document downloads")
	flag.Parse()

	if *startDate == "" || *endDate == "" {
		fmt.Fprintln(os.Stderr, "both -start and -end are required")
		flag.Usage()
		os.Exit(2)
	}

	window, err := parseWindow(*startDate, *endDate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid window: %v\n", err)
		os.Exit(2)
	}

	_ = gotenv.Load()

	cfg, err := config.Load(*configPath)
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
	code := run(cfg, logger, window, *sessionName, *propertyNames, *noDownload)
	logger.Sync()
	os.Exit(code)
}

func run(cfg *config.Config, logger *zap.Logger, window entity.Window, sessionName, propertyNames string, noDownload bool) int {
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize database", zap.Error(err))
		return 1
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Error("Failed to run database migrations", zap.Error(err))
		return 1
	}

	propertyRepo := repository.NewPropertyRepository(db.DB, logger)
	sessionRepo := repository.NewSessionRepository(db.DB, logger)
	resultRepo := repository.NewResultRepository(db.DB, logger)
	invoiceRepo := repository.NewInvoiceRepository(db.DB, logger)

	properties, err := loadProperties(cfg, propertyRepo, propertyNames, logger)
	if err != nil {
		logger.Error("Failed to load properties", zap.Error(err))
		return 1
	}
	if len(properties) == 0 {
		logger.Error("No properties to process")
		return 1
	}

	var fileStore batch.FileStore
	if !noDownload {
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
			logger.Error("Failed to initialize object store", zap.Error(err))
			return 1
		}
		fileStore = storage.NewInvoiceFileStore(store, cfg.Storage.Prefix, logger)
	}

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

	session, runErr := orchestrator.Run(context.Background(), sessionName, window, properties)
	if session == nil {
		logger.Error("Session could not be started", zap.Error(runErr))
		return 1
	}

	results, err := resultRepo.ListBySession(session.ID)
	if err != nil {
		logger.Error("Failed to load session results", zap.Error(err))
		return 1
	}

	if cfg.Export.OutputDir != "" {
		if err := os.MkdirAll(cfg.Export.OutputDir, 0755); err != nil {
			logger.Error("Failed to create export directory", zap.Error(err))
		} else {
			outputPath := filepath.Join(cfg.Export.OutputDir,
				fmt.Sprintf("session_%s.xlsx", session.ID))
			exporter := export.NewExcelExporter(logger)
			if err := exporter.Export(session, results, outputPath); err != nil {
				logger.Error("Failed to export session report", zap.Error(err))
			}
		}
	}

	printSummary(session, results)

	if runErr != nil || session.Status == entity.StatusFailed {
		return 1
	}
	return 0
}

func loadProperties(cfg *config.Config, repo *repository.PropertyRepository, names string, logger *zap.Logger) ([]*entity.Property, error) {
	if cfg.Batch.PropertiesPath != "" {
		if _, err := os.Stat(cfg.Batch.PropertiesPath); err == nil {
			imported, err := config.LoadProperties(cfg.Batch.PropertiesPath)
			if err != nil {
				return nil, err
			}
			for _, property := range imported {
				if err := repo.Upsert(nil, property); err != nil {
					return nil, err
				}
			}
			logger.Info("Property list imported", zap.Int("count", len(imported)))
		}
	}

	if names == "" {
		return repo.List()
	}

	var properties []*entity.Property
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		property, err := repo.GetByName(name)
		if err != nil {
			return nil, err
		}
		if property == nil {
			return nil, fmt.Errorf("unknown property: %s", name)
		}
		properties = append(properties, property)
	}
	return properties, nil
}

func printSummary(session *entity.ProcessingSession, results []*entity.PropertyResult) {
	fmt.Printf("session %s (%s) status=%s\n", session.ID, session.Window().String(), session.Status)
	fmt.Printf("properties: %d total, %d ok, %d failed\n",
		session.TotalProperties, session.SuccessfulProperties, session.FailedProperties)
	fmt.Printf("total cost: %.2f EUR, total overuse: %.2f EUR\n",
		session.TotalCost, session.TotalOveruse)

	for _, result := range results {
		if result.Status == entity.StatusFailed {
			fmt.Printf("  FAILED %s: %s\n", result.PropertyName, result.ErrorMessage)
			continue
		}
		fmt.Printf("  %s: total=%.2f allowance=%.2f overuse=%.2f selected=%d downloaded=%d\n",
			result.PropertyName, result.TotalCost, result.Allowance, result.Overuse,
			result.SelectedInvoicesCount, result.DownloadedFilesCount)
	}
}

func parseWindow(start, end string) (entity.Window, error) {
	const layout = "2006-01-02"

	startDate, err := time.Parse(layout, start)
	if err != nil {
		return entity.Window{}, fmt.Errorf("invalid start date: %w", err)
	}
	endDate, err := time.Parse(layout, end)
	if err != nil {
		return entity.Window{}, fmt.Errorf("invalid end date: %w", err)
	}
	return entity.NewWindow(startDate, endDate)
}
