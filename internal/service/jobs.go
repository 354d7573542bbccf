package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tomo/mnemo/internal/domain"
)

// JobManager tracks pipeline jobs in memory. Jobs are ephemeral status
// records; every durable fact lives in the metadata store or the vector
// index, so losing the manager on restart loses nothing that cannot be
// re-derived.
type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewJobManager creates an empty job manager.
func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*domain.Job)}
}

// Create registers a new pending job and returns it.
func (m *JobManager) Create() *domain.Job {
	job := &domain.Job{
		ID:        uuid.New().String(),
		Stage:     domain.StagePending,
		Status:    domain.JobStatusPending,
		Errors:    []string{},
		StartedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
	return job
}

// Get returns a copy of the job, or nil if unknown. Copies keep callers from
// racing with pipeline goroutines mutating the live record.
func (m *JobManager) Get(id string) *domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	copied := *job
	copied.Errors = append([]string(nil), job.Errors...)
	return &copied
}

// List returns copies of all jobs, newest first.
func (m *JobManager) List() []*domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		copied := *job
		copied.Errors = append([]string(nil), job.Errors...)
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// SetStage moves the job into a stage with a progress floor and step text.
func (m *JobManager) SetStage(id string, stage domain.JobStage, progress float64, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Terminal() {
		return
	}
	job.Stage = stage
	job.Status = domain.JobStatusRunning
	job.CurrentStep = step
	m.advanceProgress(job, progress)
}

// SetProgress raises the job's progress. Progress is monotone: a lower value
// than the current one is ignored.
func (m *JobManager) SetProgress(id string, progress float64, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Terminal() {
		return
	}
	if step != "" {
		job.CurrentStep = step
	}
	m.advanceProgress(job, progress)
}

func (m *JobManager) advanceProgress(job *domain.Job, progress float64) {
	if progress > 100 {
		progress = 100
	}
	if progress > job.Progress {
		job.Progress = progress
	}
}

// SetCounts updates the job's item counters.
func (m *JobManager) SetCounts(id string, total, processed, duplicates, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	job.TotalItems = total
	job.Processed = processed
	job.Duplicates = duplicates
	job.Failed = failed
}

// AddError appends an item-level error to the job's bounded error list.
// Past the cap a single truncation marker replaces further errors.
func (m *JobManager) AddError(id string, itemErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	if len(job.Errors) >= domain.MaxJobErrors {
		return
	}
	job.Errors = append(job.Errors, itemErr.Error())
	if len(job.Errors) == domain.MaxJobErrors {
		job.Errors[domain.MaxJobErrors-1] = fmt.Sprintf("%s (further errors omitted)", job.Errors[domain.MaxJobErrors-1])
	}
}

// Complete marks the job COMPLETED at 100%. A completed job may still carry
// item-level errors; that is a different outcome from FAILED.
func (m *JobManager) Complete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Terminal() {
		return
	}
	job.Stage = domain.StageCompleted
	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	job.CurrentStep = "completed"
	now := time.Now().UTC()
	job.CompletedAt = &now
}

// Fail marks the job FAILED with a reason. Progress freezes where it was.
func (m *JobManager) Fail(id string, reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Terminal() {
		return
	}
	job.Stage = domain.StageFailed
	job.Status = domain.JobStatusFailed
	job.CurrentStep = reason.Error()
	if len(job.Errors) < domain.MaxJobErrors {
		job.Errors = append(job.Errors, reason.Error())
	}
	now := time.Now().UTC()
	job.CompletedAt = &now
}
