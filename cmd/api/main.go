package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomo/mnemo/internal/api"
	"github.com/tomo/mnemo/internal/config"
	"github.com/tomo/mnemo/internal/dedup"
	"github.com/tomo/mnemo/internal/index"
	"github.com/tomo/mnemo/internal/logger"
	"github.com/tomo/mnemo/internal/repository"
	"github.com/tomo/mnemo/internal/service"
	"github.com/tomo/mnemo/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewDefault()
	logger.SetDefaultLogger(log)
	defer logger.Sync()

	ctx := context.Background()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}
	repo := repository.NewMediaRepository(db)

	// Bootstrap the dedup registry from the metadata store
	registry := dedup.NewRegistry()
	identities, err := repo.ListIdentities(ctx)
	if err != nil {
		logger.Fatal("Failed to list identities: %v", err)
	}
	loaded := registry.Load(identities)
	logger.Info("Dedup registry loaded with %d identities", loaded)

	// Load the vector index store; a missing index directory means a fresh
	// start, but an inconsistent one is fatal.
	store := index.NewStore(cfg.Index.Dir, cfg.Embedding.Dimensions)
	if err := store.Load(); err != nil {
		logger.Fatal("Failed to load vector indices: %v", err)
	}
	logger.Info("Vector indices loaded: %d text, %d image", store.TextVectorCount(), store.ImageVectorCount())

	// Initialize storage (supports local, MinIO, R2, S3)
	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}

	// Initialize services
	captioner := service.NewHTTPCaptioner(&cfg.Caption)
	embedder := service.NewJinaEmbedder(&cfg.Embedding)
	if err := embedder.Load(ctx); err != nil {
		logger.Warn("Embedding model not available, search disabled until configured: %v", err)
	}

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
	searchService := service.NewSearchService(repo, store, embedder, objectStorage, &cfg.Search)

	// Setup router
	router := api.SetupRouter(pipeline, embedService, searchService, jobs, repo, store, log, &cfg.Server)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting API server on port %d (%s mode)", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown: %v", err)
	}

	// Persist index state accumulated by background embed runs
	if err := store.Save(); err != nil {
		logger.Error("Failed to save vector indices on shutdown: %v", err)
	}

	logger.Info("Server exited")
}
