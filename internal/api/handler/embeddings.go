package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tomo/mnemo/internal/index"
	"github.com/tomo/mnemo/internal/repository"
	"github.com/tomo/mnemo/internal/service"
)

// EmbeddingsHandler triggers caption/embed passes and reports pipeline
// status.
type EmbeddingsHandler struct {
	embedService *service.EmbedService
	repo         *repository.MediaRepository
	store        *index.Store
}

// NewEmbeddingsHandler creates a new embeddings handler.
// Parameters:
//   - embedService: caption/embed pass runner.
//   - repo: metadata repository for stats.
//   - store: vector index store for counts.
// Returns:
//   - *EmbeddingsHandler: initialized handler.
func NewEmbeddingsHandler(embedService *service.EmbedService, repo *repository.MediaRepository, store *index.Store) *EmbeddingsHandler {
	return &EmbeddingsHandler{embedService: embedService, repo: repo, store: store}
}

// Caption handles POST /api/v1/embeddings/caption. Starts a background
// caption pass over items without a caption.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *EmbeddingsHandler) Caption(c *gin.Context) {
	job := h.embedService.StartCaptionRun(c.Request.Context())
	c.JSON(http.StatusAccepted, job)
}

// Embed handles POST /api/v1/embeddings/embed. Starts a background embed
// pass over captioned items missing vectors.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *EmbeddingsHandler) Embed(c *gin.Context) {
	job := h.embedService.StartEmbedRun(c.Request.Context())
	c.JSON(http.StatusAccepted, job)
}

// Status handles GET /api/v1/status. Reports archive size, caption and
// embedding progress, and vector counts.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *EmbeddingsHandler) Status(c *gin.Context) {
	stats, err := h.repo.EmbeddingStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get stats: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":         stats,
		"text_vectors":  h.store.TextVectorCount(),
		"image_vectors": h.store.ImageVectorCount(),
	})
}
