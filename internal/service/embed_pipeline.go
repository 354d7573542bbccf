package service

import (
	"context"
	"fmt"
	"io"

	"github.com/tomo/mnemo/internal/domain"
	"github.com/tomo/mnemo/internal/index"
	"github.com/tomo/mnemo/internal/logger"
	"github.com/tomo/mnemo/internal/repository"
	"github.com/tomo/mnemo/internal/storage"
)

// EmbedService runs the caption and embed passes. Both are resumable: their
// work queues are database queries (items missing a caption, items missing
// vector refs), so an interrupted run picks up where it stopped by simply
// running again.
type EmbedService struct {
	repo         *repository.MediaRepository
	store        *index.Store
	storage      storage.ObjectStorage
	captioner    Captioner
	embedder     Embedder
	jobs         *JobManager
	batchSize    int
	snapshotPath string
}

// NewEmbedService creates the caption/embed pass runner.
func NewEmbedService(
	repo *repository.MediaRepository,
	store *index.Store,
	objectStorage storage.ObjectStorage,
	captioner Captioner,
	embedder Embedder,
	jobs *JobManager,
	batchSize int,
	snapshotPath string,
) *EmbedService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &EmbedService{
		repo:         repo,
		store:        store,
		storage:      objectStorage,
		captioner:    captioner,
		embedder:     embedder,
		jobs:         jobs,
		batchSize:    batchSize,
		snapshotPath: snapshotPath,
	}
}

// StartCaptionRun launches a caption pass in the background.
func (s *EmbedService) StartCaptionRun(ctx context.Context) *domain.Job {
	job := s.jobs.Create()
	runCtx := logger.SetJobID(context.WithoutCancel(ctx), job.ID)
	go s.runCaption(runCtx, job.ID)
	return s.jobs.Get(job.ID)
}

// RunCaptionSync runs a caption pass on the calling goroutine.
func (s *EmbedService) RunCaptionSync(ctx context.Context) *domain.Job {
	job := s.jobs.Create()
	s.runCaption(logger.SetJobID(ctx, job.ID), job.ID)
	return s.jobs.Get(job.ID)
}

// StartEmbedRun launches an embed pass in the background.
func (s *EmbedService) StartEmbedRun(ctx context.Context) *domain.Job {
	job := s.jobs.Create()
	runCtx := logger.SetJobID(context.WithoutCancel(ctx), job.ID)
	go s.runEmbed(runCtx, job.ID)
	return s.jobs.Get(job.ID)
}

// RunEmbedSync runs an embed pass on the calling goroutine.
func (s *EmbedService) RunEmbedSync(ctx context.Context) *domain.Job {
	job := s.jobs.Create()
	s.runEmbed(logger.SetJobID(ctx, job.ID), job.ID)
	return s.jobs.Get(job.ID)
}

// runCaption captions every item that does not have one yet, up to the
// batch ceiling. A model load failure fails the whole run; a per-item
// failure skips that item and the run keeps going.
func (s *EmbedService) runCaption(ctx context.Context, jobID string) {
	s.jobs.SetStage(jobID, domain.StageCaptioning, progressParsingStart, "loading caption model")

	if err := s.captioner.Load(ctx); err != nil {
		s.jobs.Fail(jobID, fmt.Errorf("failed to load caption model: %w", err))
		return
	}
	defer s.captioner.Close()

	items, err := s.repo.ListWithoutCaption(ctx, s.batchSize)
	if err != nil {
		s.jobs.Fail(jobID, fmt.Errorf("failed to list uncaptioned items: %w", err))
		return
	}
	total := len(items)
	s.jobs.SetCounts(jobID, total, 0, 0, 0)
	if total == 0 {
		s.jobs.Complete(jobID)
		return
	}
	logger.CtxInfo(ctx, "captioning %d items", total)

	var processed, failed int
	for i, item := range items {
		if ctx.Err() != nil {
			s.jobs.Fail(jobID, ctx.Err())
			return
		}

		if err := s.captionOne(ctx, &item); err != nil {
			failed++
			s.jobs.AddError(jobID, err)
			logger.CtxWarn(ctx, "failed to caption %s: %v", item.Identity, err)
		} else {
			processed++
		}

		frac := float64(i+1) / float64(total)
		s.jobs.SetCounts(jobID, total, processed, 0, failed)
		s.jobs.SetProgress(jobID, progressParsingStart+frac*(100-progressParsingStart),
			fmt.Sprintf("captioning (%d/%d)", i+1, total))
	}

	s.jobs.Complete(jobID)
	logger.With(logger.Fields{"processed": processed, "failed": failed}).Info(ctx, "caption run completed")
}

func (s *EmbedService) captionOne(ctx context.Context, item *domain.MediaItem) error {
	data, err := s.fetchBytes(ctx, item.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", item.Identity, err)
	}
	caption, err := s.captioner.Caption(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to caption %s: %w", item.Identity, err)
	}
	if err := s.repo.UpdateCaption(ctx, item.Identity, caption); err != nil {
		return fmt.Errorf("failed to save caption for %s: %w", item.Identity, err)
	}
	return nil
}

// runEmbed embeds every captioned item that is missing a vector ref. Vector
// adds are idempotent per (kind, identity) and refs are COALESCE-set, so a
// crashed run that already wrote vectors converges on retry instead of
// duplicating them.
func (s *EmbedService) runEmbed(ctx context.Context, jobID string) {
	s.jobs.SetStage(jobID, domain.StageEmbedding, progressParsingStart, "loading embedding model")

	if err := s.embedder.Load(ctx); err != nil {
		s.jobs.Fail(jobID, fmt.Errorf("failed to load embedding model: %w", err))
		return
	}
	defer s.embedder.Close()

	items, err := s.repo.ListCaptionedWithoutVectors(ctx, s.batchSize)
	if err != nil {
		s.jobs.Fail(jobID, fmt.Errorf("failed to list unembedded items: %w", err))
		return
	}
	total := len(items)
	s.jobs.SetCounts(jobID, total, 0, 0, 0)
	if total == 0 {
		s.jobs.Complete(jobID)
		return
	}
	logger.CtxInfo(ctx, "embedding %d items", total)

	var processed, failed int
	for i, item := range items {
		if ctx.Err() != nil {
			s.jobs.Fail(jobID, ctx.Err())
			return
		}

		if err := s.embedOne(ctx, &item); err != nil {
			failed++
			s.jobs.AddError(jobID, err)
			logger.CtxWarn(ctx, "failed to embed %s: %v", item.Identity, err)
		} else {
			processed++
		}

		frac := float64(i+1) / float64(total)
		s.jobs.SetCounts(jobID, total, processed, 0, failed)
		s.jobs.SetProgress(jobID, progressParsingStart+frac*(progressIndexingStart-progressParsingStart),
			fmt.Sprintf("embedding (%d/%d)", i+1, total))
	}

	// Persist the indices and re-export the snapshot so the run's output
	// survives a restart.
	s.jobs.SetProgress(jobID, progressIndexingStart, "saving vector indices")
	if err := s.store.Save(); err != nil {
		s.jobs.Fail(jobID, fmt.Errorf("failed to save vector indices: %w", err))
		return
	}
	if s.snapshotPath != "" {
		if _, err := s.repo.ExportSnapshot(ctx, s.snapshotPath); err != nil {
			s.jobs.AddError(jobID, fmt.Errorf("snapshot export failed: %w", err))
			logger.CtxError(ctx, "snapshot export failed: %v", err)
		}
	}

	s.jobs.Complete(jobID)
	logger.With(logger.Fields{"processed": processed, "failed": failed}).Info(ctx, "embed run completed")
}

func (s *EmbedService) embedOne(ctx context.Context, item *domain.MediaItem) error {
	if item.Caption == nil || *item.Caption == "" {
		return fmt.Errorf("item %s has no caption", item.Identity)
	}

	textVec, err := s.embedder.EmbedText(ctx, *item.Caption)
	if err != nil {
		return fmt.Errorf("failed to embed caption for %s: %w", item.Identity, err)
	}

	data, err := s.fetchBytes(ctx, item.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", item.Identity, err)
	}
	imageVec, err := s.embedder.EmbedImage(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to embed image for %s: %w", item.Identity, err)
	}

	textID, err := s.store.AddVector(index.KindText, textVec, item.Identity)
	if err != nil {
		return fmt.Errorf("failed to add text vector for %s: %w", item.Identity, err)
	}
	imageID, err := s.store.AddVector(index.KindImage, imageVec, item.Identity)
	if err != nil {
		return fmt.Errorf("failed to add image vector for %s: %w", item.Identity, err)
	}

	textRef, imageRef := int64(textID), int64(imageID)
	if err := s.repo.UpdateVectorRefs(ctx, item.Identity, &textRef, &imageRef); err != nil {
		return fmt.Errorf("failed to save vector refs for %s: %w", item.Identity, err)
	}
	return nil
}

func (s *EmbedService) fetchBytes(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.storage.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
