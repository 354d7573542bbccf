package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomo/mnemo/internal/config"
	"github.com/tomo/mnemo/internal/dedup"
	"github.com/tomo/mnemo/internal/domain"
	"github.com/tomo/mnemo/internal/index"
	"github.com/tomo/mnemo/internal/logger"
	"github.com/tomo/mnemo/internal/repository"
	"github.com/tomo/mnemo/internal/service"
	"github.com/tomo/mnemo/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "mnemo-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	manifestPath := flag.String("manifest", "", "Path to the export manifest JSON")
	importDir := flag.String("dir", "", "Import canonical JPEG files from a local directory")
	owner := flag.String("owner", "", "Owner namespace (defaults to \"me\")")
	runCaption := flag.Bool("caption", false, "Run the caption pass instead of ingesting")
	runEmbed := flag.Bool("embed", false, "Run the embed pass instead of ingesting")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	repo := repository.NewMediaRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap the dedup registry from the metadata store
	registry := dedup.NewRegistry()
	identities, err := repo.ListIdentities(ctx)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to list identities")
	}
	registry.Load(identities)

	// Load the vector index store
	store := index.NewStore(cfg.Index.Dir, cfg.Embedding.Dimensions)
	if err := store.Load(); err != nil {
		appLogger.WithError(err).Fatal("Failed to load vector indices")
	}

	// Initialize storage (supports local, MinIO, R2, S3)
	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	// Initialize services
	captioner := service.NewHTTPCaptioner(&cfg.Caption)
	embedder := service.NewJinaEmbedder(&cfg.Embedding)
	jobs := service.NewJobManager()
	downloader := service.NewDownloader(cfg.Pipeline.DownloadWorkers, cfg.Pipeline.DownloadTimeout)

	pipeline := service.NewPipelineService(
		repo, registry, objectStorage, downloader, jobs,
		&cfg.Pipeline, cfg.Index.SnapshotPath,
	)
	embedService := service.NewEmbedService(
		repo, store, objectStorage, captioner, embedder, jobs,
		cfg.Pipeline.BatchSize, cfg.Index.SnapshotPath,
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	var job *domain.Job
	switch {
	case *runCaption:
		job = embedService.RunCaptionSync(ctx)
	case *runEmbed:
		job = embedService.RunEmbedSync(ctx)
	case *importDir != "":
		job = pipeline.RunImportSync(ctx, *importDir, *owner)
	default:
		if *manifestPath == "" {
			appLogger.Fatal("Either -manifest, -dir, -caption, or -embed is required")
		}
		data, err := os.ReadFile(*manifestPath)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to read manifest")
		}
		job = pipeline.RunIngestSync(ctx, data, *owner)
	}

	appLogger.WithFields(logger.Fields{
		"job_id":     job.ID,
		"stage":      job.Stage,
		"status":     job.Status,
		"total":      job.TotalItems,
		"processed":  job.Processed,
		"duplicates": job.Duplicates,
		"failed":     job.Failed,
	}).Info("Run finished")

	for _, e := range job.Errors {
		appLogger.Warnf("item error: %s", e)
	}

	if job.Status == domain.JobStatusFailed {
		os.Exit(1)
	}
}
