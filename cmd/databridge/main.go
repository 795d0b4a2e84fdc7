package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artemis/databridge/internal/config"
	"github.com/artemis/databridge/internal/errorreport"
	"github.com/artemis/databridge/internal/importpipeline"
	"github.com/artemis/databridge/internal/job"
	"github.com/artemis/databridge/internal/observability"
	"github.com/artemis/databridge/internal/queue"
	"github.com/artemis/databridge/internal/server"
	"github.com/artemis/databridge/internal/storage"
	"github.com/artemis/databridge/internal/store/postgres"
	"github.com/artemis/databridge/internal/worker"
)

var (
	cfgFile string
	logger  *observability.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "databridge",
	Short: "Bulk data import/export service",
	Long:  "databridge moves bulk records in and out of the relational store through streaming export/import jobs.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		cfg, err = config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		logger, err = observability.NewLogger(cfg.LogLevel, cfg.LogPretty)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			logger.Error("serve failed", zap.Error(err))
			os.Exit(1)
		}
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background job consumer",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runWorker(); err != nil {
			logger.Error("worker failed", zap.Error(err))
			os.Exit(1)
		}
	},
}

var migrateDBCmd = &cobra.Command{
	Use:   "migrate-db",
	Short: "Apply the relational schema",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runMigrateDB(); err != nil {
			logger.Error("migrate-db failed", zap.Error(err))
			os.Exit(1)
		}
	},
}

func runMigrateDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()

	if err := postgres.ApplySchema(ctx, pool, postgres.Schema); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}

func runServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepository(pool)
	exportRepo := postgres.NewExportRepo(pool)
	errRepo := postgres.NewImportErrorRepository(pool)

	importStorage, err := storage.NewLocal(cfg.ImportStoragePath)
	if err != nil {
		return fmt.Errorf("init import storage: %w", err)
	}
	exportStorage, err := storage.NewLocal(cfg.ExportStoragePath)
	if err != nil {
		return fmt.Errorf("init export storage: %w", err)
	}
	errorStorage, err := storage.NewLocal(cfg.ErrorReportPath)
	if err != nil {
		return fmt.Errorf("init error report storage: %w", err)
	}

	metrics := observability.NewMetrics()
	engine := job.NewEngine(jobRepo, logger, metrics)
	report := errorreport.NewGenerator(errRepo, errorStorage, "import-errors")
	queueClient := queue.NewClient(cfg.RedisAddr)
	defer queueClient.Close()

	health := observability.NewHealthChecker()
	health.RegisterCheck("postgres", observability.PostgresHealthCheck(pool.Ping))
	health.RegisterCheck("import-storage", observability.StorageHealthCheck(importStorage.Stat))
	health.RegisterCheck("export-storage", observability.StorageHealthCheck(exportStorage.Stat))
	go health.StartPeriodicChecks(ctx, 10*time.Second)

	httpServer := server.NewServer(server.Deps{
		Config:        cfg,
		Logger:        logger,
		Health:        health,
		Metrics:       metrics,
		Engine:        engine,
		JobRepo:       jobRepo,
		ExportRepo:    exportRepo,
		ErrRepo:       errRepo,
		Queue:         queueClient,
		ImportStorage: importStorage,
		ExportStorage: exportStorage,
		ErrorStorage:  errorStorage,
		Report:        report,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
		httpServer.Stop()
	}()

	logger.Info("starting HTTP API", zap.String("addr", cfg.HTTPAddr))
	return httpServer.Start()
}

func runWorker() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepository(pool)
	exportRepo := postgres.NewExportRepo(pool)
	errRepo := postgres.NewImportErrorRepository(pool)

	importStorage, err := storage.NewLocal(cfg.ImportStoragePath)
	if err != nil {
		return fmt.Errorf("init import storage: %w", err)
	}
	exportStorage, err := storage.NewLocal(cfg.ExportStoragePath)
	if err != nil {
		return fmt.Errorf("init export storage: %w", err)
	}
	errorStorage, err := storage.NewLocal(cfg.ErrorReportPath)
	if err != nil {
		return fmt.Errorf("init error report storage: %w", err)
	}

	metrics := observability.NewMetrics()
	engine := job.NewEngine(jobRepo, logger, metrics)
	report := errorreport.NewGenerator(errRepo, errorStorage, "import-errors")

	openers := map[job.SourceType]importpipeline.SourceOpener{
		job.SourceUpload: importpipeline.StorageOpener{Adapter: importStorage},
		job.SourceURL:    importpipeline.StorageOpener{Adapter: importStorage},
	}

	pipeline := importpipeline.NewPipeline(
		pool, engine, errRepo, openers, report, logger, metrics,
		importpipeline.Options{
			BatchSize:      cfg.ImportBatchSize,
			ErrorFlushSize: cfg.ImportBatchSize,
			CancelInterval: cfg.CancelCheckInterval,
			MaxRecords:     cfg.ImportMaxRecords,
		},
	)

	handlers := &worker.Handlers{
		Config:     cfg,
		Engine:     engine,
		ExportRepo: exportRepo,
		Pipeline:   pipeline,
		Storage:    exportStorage,
		Logger:     logger,
	}

	queueServer := worker.BuildQueueServer(cfg, handlers)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
		queueServer.Shutdown()
	}()

	logger.Info("starting job consumer", zap.Int("concurrency", cfg.WorkerConcurrency))
	return queueServer.Run()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "unused, configuration is environment-variable driven (see internal/config)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateDBCmd)
}
