package service

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomo/mnemo/internal/config"
	"github.com/tomo/mnemo/internal/dedup"
	"github.com/tomo/mnemo/internal/domain"
	"github.com/tomo/mnemo/internal/hashing"
	"github.com/tomo/mnemo/internal/imaging"
	"github.com/tomo/mnemo/internal/logger"
	"github.com/tomo/mnemo/internal/manifest"
	"github.com/tomo/mnemo/internal/repository"
	"github.com/tomo/mnemo/internal/storage"
)

// Progress bands per stage. Each stage owns a band and progress within a
// job never moves backwards, even when a stage finishes early.
const (
	progressParsingStart     = 5.0
	progressDownloadingStart = 10.0
	progressProcessingStart  = 40.0
	progressIndexingStart    = 90.0
)

// PipelineService runs the ingest pipeline: parse a manifest, download
// media, normalize and deduplicate it, persist metadata, and export the
// snapshot. Captioning and embedding run as separate resumable passes
// (see EmbedService).
type PipelineService struct {
	repo         *repository.MediaRepository
	registry     *dedup.Registry
	storage      storage.ObjectStorage
	downloader   *Downloader
	jobs         *JobManager
	imagingOpts  imaging.Options
	snapshotPath string
}

// NewPipelineService creates the ingest pipeline.
func NewPipelineService(
	repo *repository.MediaRepository,
	registry *dedup.Registry,
	objectStorage storage.ObjectStorage,
	downloader *Downloader,
	jobs *JobManager,
	cfg *config.PipelineConfig,
	snapshotPath string,
) *PipelineService {
	return &PipelineService{
		repo:       repo,
		registry:   registry,
		storage:    objectStorage,
		downloader: downloader,
		jobs:       jobs,
		imagingOpts: imaging.Options{
			MaxEdge:     cfg.MaxImageEdge,
			JPEGQuality: cfg.JPEGQuality,
		},
		snapshotPath: snapshotPath,
	}
}

// StartIngest creates a job and runs the pipeline in the background.
// Parameters:
//   - ctx: base context for the run; job state outlives ctx cancellation.
//   - manifestData: raw manifest bytes.
//   - owner: owner namespace; empty means the default owner.
// Returns:
//   - *domain.Job: the created job, immediately queryable by id.
func (s *PipelineService) StartIngest(ctx context.Context, manifestData []byte, owner string) *domain.Job {
	job := s.jobs.Create()
	runCtx := logger.SetJobID(context.WithoutCancel(ctx), job.ID)
	go s.runIngest(runCtx, job.ID, manifestData, owner)
	return s.jobs.Get(job.ID)
}

// RunIngestSync runs the pipeline to completion on the calling goroutine.
// Used by the CLI, which wants the final job state before exiting.
func (s *PipelineService) RunIngestSync(ctx context.Context, manifestData []byte, owner string) *domain.Job {
	job := s.jobs.Create()
	runCtx := logger.SetJobID(ctx, job.ID)
	s.runIngest(runCtx, job.ID, manifestData, owner)
	return s.jobs.Get(job.ID)
}

func (s *PipelineService) runIngest(ctx context.Context, jobID string, manifestData []byte, owner string) {
	if owner == "" {
		owner = domain.DefaultOwner
	}

	// PARSING
	s.jobs.SetStage(jobID, domain.StageParsing, progressParsingStart, "parsing manifest")
	entries, err := manifest.Parse(manifestData)
	if err != nil {
		logger.CtxError(ctx, "manifest parse failed: %v", err)
		s.jobs.Fail(jobID, fmt.Errorf("manifest parse failed: %w", err))
		return
	}
	total := len(entries)
	s.jobs.SetCounts(jobID, total, 0, 0, 0)
	logger.CtxInfo(ctx, "manifest parsed: %d entries", total)

	// DOWNLOADING
	s.jobs.SetStage(jobID, domain.StageDownloading, progressDownloadingStart, "downloading media")
	downloads := s.downloader.FetchAll(ctx, entries, func(done int) {
		frac := float64(done) / float64(total)
		progress := progressDownloadingStart + frac*(progressProcessingStart-progressDownloadingStart)
		s.jobs.SetProgress(jobID, progress, fmt.Sprintf("downloading media (%d/%d)", done, total))
	})

	// PROCESSING
	s.jobs.SetStage(jobID, domain.StageProcessing, progressProcessingStart, "processing media")
	var processed, duplicates, failed, storageFailures int
	for i, dl := range downloads {
		if dl.Err != nil {
			failed++
			s.jobs.AddError(jobID, dl.Err)
			s.jobs.SetCounts(jobID, total, processed, duplicates, failed)
			continue
		}

		outcome, err := s.processOne(ctx, dl, owner)
		switch {
		case err != nil:
			failed++
			if outcome == outcomeStorageFailure {
				storageFailures++
			}
			s.jobs.AddError(jobID, err)
			logger.CtxWarn(ctx, "failed to process %s: %v", dl.Entry.DownloadURL, err)
		case outcome == outcomeDuplicate:
			duplicates++
		default:
			processed++
		}

		frac := float64(i+1) / float64(total)
		progress := progressProcessingStart + frac*(progressIndexingStart-progressProcessingStart)
		s.jobs.SetCounts(jobID, total, processed, duplicates, failed)
		s.jobs.SetProgress(jobID, progress, fmt.Sprintf("processing media (%d/%d)", i+1, total))
	}

	// Storage down for every single attempt means nothing was committed;
	// that is a pipeline failure, not a batch of item failures.
	attempted := processed + storageFailures
	if attempted > 0 && processed == 0 && storageFailures == attempted {
		s.jobs.Fail(jobID, fmt.Errorf("storage unreachable: all %d uploads failed", storageFailures))
		return
	}

	// INDEXING: export the snapshot even when some items failed, so partial
	// progress is durable.
	s.jobs.SetStage(jobID, domain.StageIndexing, progressIndexingStart, "exporting snapshot")
	if s.snapshotPath != "" {
		if count, err := s.repo.ExportSnapshot(ctx, s.snapshotPath); err != nil {
			s.jobs.AddError(jobID, fmt.Errorf("snapshot export failed: %w", err))
			logger.CtxError(ctx, "snapshot export failed: %v", err)
		} else {
			logger.CtxInfo(ctx, "snapshot exported: %d entries", count)
		}
	}

	s.jobs.Complete(jobID)
	logger.With(logger.Fields{
		"total":      total,
		"processed":  processed,
		"duplicates": duplicates,
		"failed":     failed,
	}).Info(ctx, "ingest completed")
}

type processOutcome int

const (
	outcomeStored processOutcome = iota
	outcomeDuplicate
	outcomeStorageFailure
)

// processOne normalizes one download, registers its identity, uploads the
// canonical bytes, and upserts metadata. The identity is computed over the
// normalized bytes, never the raw download, so re-encoded copies of the
// same content converge.
func (s *PipelineService) processOne(ctx context.Context, dl Download, owner string) (processOutcome, error) {
	normalized, err := imaging.Normalize(dl.Data, s.imagingOpts)
	if err != nil {
		return outcomeStored, fmt.Errorf("failed to normalize %s: %w", dl.Entry.DownloadURL, err)
	}

	identity, duplicate, err := s.registry.CheckAndRegister(normalized.Data)
	if err != nil {
		return outcomeStored, fmt.Errorf("failed to register %s: %w", dl.Entry.DownloadURL, err)
	}
	if duplicate {
		logger.CtxDebug(ctx, "duplicate content %s from %s", identity, dl.Entry.DownloadURL)
		return outcomeDuplicate, nil
	}

	key := storage.ObjectKey(identity)
	if err := s.storage.Upload(ctx, key, bytes.NewReader(normalized.Data), int64(len(normalized.Data)), "image/jpeg"); err != nil {
		return outcomeStorageFailure, fmt.Errorf("failed to upload %s: %w", identity, err)
	}

	item := &domain.MediaItem{
		Identity:   identity,
		Location:   dl.Entry.DownloadURL,
		StorageKey: key,
		CapturedAt: dl.Entry.Date,
		Owner:      owner,
		Width:      normalized.Width,
		Height:     normalized.Height,
		Format:     normalized.Format,
		FileSize:   int64(len(normalized.Data)),
	}
	if err := s.repo.Upsert(ctx, item); err != nil {
		return outcomeStored, fmt.Errorf("failed to persist %s: %w", identity, err)
	}
	return outcomeStored, nil
}

// RunImportSync re-ingests canonical JPEG files from a local directory on
// the calling goroutine, e.g. a storage backup restored to disk. Imported
// files are already in canonical form, so the content hash of each file is
// its identity and no normalization takes place.
func (s *PipelineService) RunImportSync(ctx context.Context, dir, owner string) *domain.Job {
	job := s.jobs.Create()
	runCtx := logger.SetJobID(ctx, job.ID)
	s.runImport(runCtx, job.ID, dir, owner)
	return s.jobs.Get(job.ID)
}

func (s *PipelineService) runImport(ctx context.Context, jobID, dir, owner string) {
	if owner == "" {
		owner = domain.DefaultOwner
	}

	s.jobs.SetStage(jobID, domain.StageParsing, progressParsingStart, "scanning directory")
	paths, err := listJPEGFiles(dir)
	if err != nil {
		s.jobs.Fail(jobID, fmt.Errorf("failed to scan %s: %w", dir, err))
		return
	}
	if len(paths) == 0 {
		s.jobs.Fail(jobID, fmt.Errorf("no jpeg files found in %s", dir))
		return
	}
	total := len(paths)
	s.jobs.SetCounts(jobID, total, 0, 0, 0)
	logger.CtxInfo(ctx, "directory scanned: %d files", total)

	s.jobs.SetStage(jobID, domain.StageProcessing, progressProcessingStart, "importing files")
	var processed, duplicates, failed, storageFailures int
	for i, path := range paths {
		outcome, err := s.importOne(ctx, path, owner)
		switch {
		case err != nil:
			failed++
			if outcome == outcomeStorageFailure {
				storageFailures++
			}
			s.jobs.AddError(jobID, err)
			logger.CtxWarn(ctx, "failed to import %s: %v", path, err)
		case outcome == outcomeDuplicate:
			duplicates++
		default:
			processed++
		}

		frac := float64(i+1) / float64(total)
		progress := progressProcessingStart + frac*(progressIndexingStart-progressProcessingStart)
		s.jobs.SetCounts(jobID, total, processed, duplicates, failed)
		s.jobs.SetProgress(jobID, progress, fmt.Sprintf("importing files (%d/%d)", i+1, total))
	}

	attempted := processed + storageFailures
	if attempted > 0 && processed == 0 && storageFailures == attempted {
		s.jobs.Fail(jobID, fmt.Errorf("storage unreachable: all %d uploads failed", storageFailures))
		return
	}

	s.jobs.SetStage(jobID, domain.StageIndexing, progressIndexingStart, "exporting snapshot")
	if s.snapshotPath != "" {
		if count, err := s.repo.ExportSnapshot(ctx, s.snapshotPath); err != nil {
			s.jobs.AddError(jobID, fmt.Errorf("snapshot export failed: %w", err))
			logger.CtxError(ctx, "snapshot export failed: %v", err)
		} else {
			logger.CtxInfo(ctx, "snapshot exported: %d entries", count)
		}
	}

	s.jobs.Complete(jobID)
	logger.With(logger.Fields{
		"total":      total,
		"processed":  processed,
		"duplicates": duplicates,
		"failed":     failed,
	}).Info(ctx, "import completed")
}

// importOne hashes one file, skips it when the identity is already known,
// and otherwise uploads the bytes and persists metadata. The registry is
// updated only after the item is durable, so a failed upload stays
// retryable by a later run.
func (s *PipelineService) importOne(ctx context.Context, path, owner string) (processOutcome, error) {
	identity, err := hashing.HashFile(path)
	if err != nil {
		return outcomeStored, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	if s.registry.Contains(identity) {
		logger.CtxDebug(ctx, "duplicate content %s from %s", identity, path)
		return outcomeDuplicate, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return outcomeStored, fmt.Errorf("failed to read %s: %w", path, err)
	}
	dims, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return outcomeStored, fmt.Errorf("%s is not a canonical jpeg: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return outcomeStored, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	key := storage.ObjectKey(identity)
	if err := s.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "image/jpeg"); err != nil {
		return outcomeStorageFailure, fmt.Errorf("failed to upload %s: %w", identity, err)
	}

	item := &domain.MediaItem{
		Identity:   identity,
		Location:   "file://" + path,
		StorageKey: key,
		CapturedAt: info.ModTime(),
		Owner:      owner,
		Width:      dims.Width,
		Height:     dims.Height,
		Format:     "jpeg",
		FileSize:   int64(len(data)),
	}
	if err := s.repo.Upsert(ctx, item); err != nil {
		return outcomeStored, fmt.Errorf("failed to persist %s: %w", identity, err)
	}
	if err := s.registry.Register(identity); err != nil {
		return outcomeStored, fmt.Errorf("failed to register %s: %w", identity, err)
	}
	return outcomeStored, nil
}

// listJPEGFiles returns the jpeg files directly under dir. os.ReadDir
// sorts by filename, which keeps job output deterministic.
func listJPEGFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}
