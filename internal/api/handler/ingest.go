package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tomo/mnemo/internal/service"
)

// maxManifestSize caps uploaded manifests at 32 MB.
const maxManifestSize = 32 << 20

// IngestHandler handles ingest and job endpoints.
type IngestHandler struct {
	pipeline *service.PipelineService
	jobs     *service.JobManager
}

// NewIngestHandler creates a new ingest handler.
// Parameters:
//   - pipeline: ingest pipeline service.
//   - jobs: job manager for status queries.
// Returns:
//   - *IngestHandler: initialized handler.
func NewIngestHandler(pipeline *service.PipelineService, jobs *service.JobManager) *IngestHandler {
	return &IngestHandler{pipeline: pipeline, jobs: jobs}
}

// Ingest handles POST /api/v1/ingest. The body is the manifest itself,
// either raw JSON or a multipart upload under the "manifest" field. The
// pipeline runs in the background; the response carries the job id to poll.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *IngestHandler) Ingest(c *gin.Context) {
	data, err := h.readManifest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid manifest upload: " + err.Error(),
		})
		return
	}

	job := h.pipeline.StartIngest(c.Request.Context(), data, c.Query("owner"))
	c.JSON(http.StatusAccepted, job)
}

func (h *IngestHandler) readManifest(c *gin.Context) ([]byte, error) {
	if file, err := c.FormFile("manifest"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxManifestSize))
	}
	return io.ReadAll(io.LimitReader(c.Request.Body, maxManifestSize))
}

// GetJob handles GET /api/v1/jobs/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *IngestHandler) GetJob(c *gin.Context) {
	job := h.jobs.Get(c.Param("id"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *IngestHandler) ListJobs(c *gin.Context) {
	jobs := h.jobs.List()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}
