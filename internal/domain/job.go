package domain

import (
	"time"
)

// JobStatus represents the status of a pipeline job.
// Values include JobStatusPending, JobStatusRunning, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobStage represents the pipeline stage a job is currently in. Ingest jobs
// walk PENDING → PARSING → DOWNLOADING → PROCESSING → INDEXING → COMPLETED;
// caption and embed jobs use their own single running stage. FAILED is
// reachable from any non-terminal stage.
type JobStage string

const (
	StagePending     JobStage = "pending"
	StageParsing     JobStage = "parsing"
	StageDownloading JobStage = "downloading"
	StageProcessing  JobStage = "processing"
	StageIndexing    JobStage = "indexing"
	StageCaptioning  JobStage = "captioning"
	StageEmbedding   JobStage = "embedding"
	StageCompleted   JobStage = "completed"
	StageFailed      JobStage = "failed"
)

// MaxJobErrors caps the per-job error list so a long run with many item
// failures cannot grow memory without bound.
const MaxJobErrors = 10

// Job tracks one pipeline run. Jobs are ephemeral: all durable facts live
// in the metadata store and vector index store, so a job lost to a restart
// is re-derivable by re-querying items missing captions or vectors.
type Job struct {
	ID          string     `json:"id"`
	Stage       JobStage   `json:"stage"`
	Status      JobStatus  `json:"status"`
	Progress    float64    `json:"progress"`
	CurrentStep string     `json:"current_step"`
	TotalItems  int        `json:"total_items"`
	Processed   int        `json:"processed_items"`
	Duplicates  int        `json:"duplicates_skipped"`
	Failed      int        `json:"failed_items"`
	Errors      []string   `json:"errors"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
