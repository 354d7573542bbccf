package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tomo/mnemo/internal/domain"
)

func TestJobManagerCreateAndGet(t *testing.T) {
	m := NewJobManager()
	job := m.Create()

	if job.ID == "" {
		t.Fatal("expected non-empty job id")
	}
	if job.Status != domain.JobStatusPending || job.Stage != domain.StagePending {
		t.Errorf("expected pending job, got stage=%s status=%s", job.Stage, job.Status)
	}

	got := m.Get(job.ID)
	if got == nil || got.ID != job.ID {
		t.Fatal("expected to get the created job back")
	}
	if m.Get("nope") != nil {
		t.Error("expected nil for unknown job id")
	}
}

func TestJobManagerProgressIsMonotone(t *testing.T) {
	m := NewJobManager()
	job := m.Create()

	m.SetStage(job.ID, domain.StageDownloading, 10, "downloading")
	m.SetProgress(job.ID, 35, "")
	m.SetProgress(job.ID, 20, "") // must not move backwards

	if got := m.Get(job.ID).Progress; got != 35 {
		t.Errorf("expected progress 35, got %v", got)
	}

	m.SetProgress(job.ID, 250, "")
	if got := m.Get(job.ID).Progress; got != 100 {
		t.Errorf("expected progress capped at 100, got %v", got)
	}
}

func TestJobManagerBoundedErrors(t *testing.T) {
	m := NewJobManager()
	job := m.Create()

	for i := 0; i < domain.MaxJobErrors*3; i++ {
		m.AddError(job.ID, fmt.Errorf("item %d failed", i))
	}

	got := m.Get(job.ID)
	if len(got.Errors) != domain.MaxJobErrors {
		t.Fatalf("expected %d errors, got %d", domain.MaxJobErrors, len(got.Errors))
	}
}

func TestJobManagerTerminalStatesAreFinal(t *testing.T) {
	m := NewJobManager()
	job := m.Create()

	m.Complete(job.ID)
	got := m.Get(job.ID)
	if got.Status != domain.JobStatusCompleted || got.Progress != 100 {
		t.Fatalf("expected completed at 100%%, got status=%s progress=%v", got.Status, got.Progress)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}

	// A terminal job ignores further transitions
	m.Fail(job.ID, errors.New("too late"))
	m.SetStage(job.ID, domain.StageParsing, 5, "x")
	got = m.Get(job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Errorf("expected completed to stick, got %s", got.Status)
	}
}

func TestJobManagerFailKeepsProgress(t *testing.T) {
	m := NewJobManager()
	job := m.Create()

	m.SetStage(job.ID, domain.StageProcessing, 55, "processing")
	m.Fail(job.ID, errors.New("storage unreachable"))

	got := m.Get(job.ID)
	if got.Status != domain.JobStatusFailed || got.Stage != domain.StageFailed {
		t.Fatalf("expected failed job, got stage=%s status=%s", got.Stage, got.Status)
	}
	if got.Progress != 55 {
		t.Errorf("expected progress frozen at 55, got %v", got.Progress)
	}
	if len(got.Errors) == 0 {
		t.Error("expected failure reason in error list")
	}
}

func TestJobManagerGetReturnsCopies(t *testing.T) {
	m := NewJobManager()
	job := m.Create()
	m.AddError(job.ID, errors.New("first"))

	got := m.Get(job.ID)
	got.Errors[0] = "mutated"
	got.Progress = 99

	fresh := m.Get(job.ID)
	if fresh.Errors[0] != "first" || fresh.Progress != 0 {
		t.Error("expected Get to return an isolated copy")
	}
}
