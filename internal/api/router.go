package api

import (
	"github.com/gin-gonic/gin"
	"github.com/tomo/mnemo/internal/api/handler"
	"github.com/tomo/mnemo/internal/api/middleware"
	"github.com/tomo/mnemo/internal/config"
	"github.com/tomo/mnemo/internal/index"
	"github.com/tomo/mnemo/internal/logger"
	"github.com/tomo/mnemo/internal/repository"
	"github.com/tomo/mnemo/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	pipeline *service.PipelineService,
	embedService *service.EmbedService,
	searchService *service.SearchService,
	jobs *service.JobManager,
	repo *repository.MediaRepository,
	store *index.Store,
	log *logger.Logger,
	cfg *config.ServerConfig,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	ingestHandler := handler.NewIngestHandler(pipeline, jobs)
	embeddingsHandler := handler.NewEmbeddingsHandler(embedService, repo, store)
	searchHandler := handler.NewSearchHandler(searchService)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Ingest pipeline
		v1.POST("/ingest", ingestHandler.Ingest)
		v1.GET("/jobs", ingestHandler.ListJobs)
		v1.GET("/jobs/:id", ingestHandler.GetJob)

		// Caption / embed passes
		v1.POST("/embeddings/caption", embeddingsHandler.Caption)
		v1.POST("/embeddings/embed", embeddingsHandler.Embed)

		// Pipeline status
		v1.GET("/status", embeddingsHandler.Status)

		// Search
		v1.POST("/search", searchHandler.Search)
	}

	return r
}
