package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tomo/mnemo/internal/config"
	"github.com/tomo/mnemo/internal/dedup"
	"github.com/tomo/mnemo/internal/domain"
	"github.com/tomo/mnemo/internal/hashing"
	"github.com/tomo/mnemo/internal/imaging"
	"github.com/tomo/mnemo/internal/repository"
	"github.com/tomo/mnemo/internal/storage"
)

func newTestRepo(t *testing.T) *repository.MediaRepository {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		AutoMigrate:  true,
	})
	require.NoError(t, err)
	return repository.NewMediaRepository(db)
}

func newTestStorage(t *testing.T) storage.ObjectStorage {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return s
}

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, repo *repository.MediaRepository, store storage.ObjectStorage, snapshotPath string) (*PipelineService, *JobManager) {
	t.Helper()
	jobs := NewJobManager()
	pipeline := NewPipelineService(
		repo,
		dedup.NewRegistry(),
		store,
		NewDownloader(2, 5*time.Second),
		jobs,
		&config.PipelineConfig{MaxImageEdge: 1280, JPEGQuality: 95},
		snapshotPath,
	)
	return pipeline, jobs
}

func manifestFor(urls ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("[")
	for i, u := range urls {
		if i > 0 {
			buf.WriteString(",")
		}
		fmt.Fprintf(&buf, `{"Date": "2023-05-%02d 10:00:00 UTC", "Media Type": "Image", "Download Link": %q}`, i+1, u)
	}
	buf.WriteString("]")
	return buf.Bytes()
}

func TestIngestDeduplicatesIdenticalContent(t *testing.T) {
	red := pngBytes(t, color.RGBA{R: 255, A: 255})
	green := pngBytes(t, color.RGBA{G: 255, A: 255})

	mux := http.NewServeMux()
	serve := func(path string, data []byte) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) { w.Write(data) })
	}
	serve("/a.png", red)
	serve("/b.png", red) // same bytes as /a.png
	serve("/c.png", green)
	server := httptest.NewServer(mux)
	defer server.Close()

	repo := newTestRepo(t)
	snapshotPath := filepath.Join(t.TempDir(), "snapshot.json")
	pipeline, _ := newTestPipeline(t, repo, newTestStorage(t), snapshotPath)

	job := pipeline.RunIngestSync(context.Background(),
		manifestFor(server.URL+"/a.png", server.URL+"/b.png", server.URL+"/c.png"), "")

	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.TotalItems)
	require.Equal(t, 2, job.Processed)
	require.Equal(t, 1, job.Duplicates)
	require.Equal(t, 0, job.Failed)
	require.Empty(t, job.Errors)

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	// Snapshot is exported with one entry per stored item
	data, err := os.ReadFile(snapshotPath)
	require.NoError(t, err)
	require.Contains(t, string(data), `"identity"`)
}

func TestIngestIsolatesItemFailures(t *testing.T) {
	red := pngBytes(t, color.RGBA{R: 255, A: 255})

	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, r *http.Request) { w.Write(red) })
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/garbage.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not an image at all"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	repo := newTestRepo(t)
	pipeline, _ := newTestPipeline(t, repo, newTestStorage(t), "")

	job := pipeline.RunIngestSync(context.Background(),
		manifestFor(server.URL+"/ok.png", server.URL+"/missing.png", server.URL+"/garbage.bin"), "")

	// Item failures do not fail the job
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.Processed)
	require.Equal(t, 2, job.Failed)
	require.Len(t, job.Errors, 2)

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestIngestFailsOnMalformedManifest(t *testing.T) {
	repo := newTestRepo(t)
	pipeline, _ := newTestPipeline(t, repo, newTestStorage(t), "")

	job := pipeline.RunIngestSync(context.Background(), []byte("{broken"), "")
	require.Equal(t, domain.JobStatusFailed, job.Status)
	require.Equal(t, domain.StageFailed, job.Stage)

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, count, "nothing may be committed when parsing fails")
}

func TestIngestReRunConverges(t *testing.T) {
	red := pngBytes(t, color.RGBA{R: 255, A: 255})
	mux := http.NewServeMux()
	mux.HandleFunc("/a.png", func(w http.ResponseWriter, r *http.Request) { w.Write(red) })
	server := httptest.NewServer(mux)
	defer server.Close()

	repo := newTestRepo(t)
	objectStorage := newTestStorage(t)
	manifest := manifestFor(server.URL + "/a.png")

	first, _ := newTestPipeline(t, repo, objectStorage, "")
	job := first.RunIngestSync(context.Background(), manifest, "")
	require.Equal(t, 1, job.Processed)

	// A fresh pipeline bootstraps its registry from the store, like a
	// restarted process would
	registry := dedup.NewRegistry()
	identities, err := repo.ListIdentities(context.Background())
	require.NoError(t, err)
	registry.Load(identities)

	jobs := NewJobManager()
	second := NewPipelineService(repo, registry, objectStorage,
		NewDownloader(2, 5*time.Second), jobs,
		&config.PipelineConfig{MaxImageEdge: 1280, JPEGQuality: 95}, "")

	job = second.RunIngestSync(context.Background(), manifest, "")
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Equal(t, 0, job.Processed)
	require.Equal(t, 1, job.Duplicates)

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestImportLocalArchive(t *testing.T) {
	dir := t.TempDir()
	red, err := imaging.Normalize(pngBytes(t, color.RGBA{R: 255, A: 255}), imaging.DefaultOptions())
	require.NoError(t, err)
	green, err := imaging.Normalize(pngBytes(t, color.RGBA{G: 255, A: 255}), imaging.DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), red.Data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), red.Data, 0o644)) // same bytes as a.jpg
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.jpeg"), green.Data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	repo := newTestRepo(t)
	pipeline, _ := newTestPipeline(t, repo, newTestStorage(t), "")

	job := pipeline.RunImportSync(context.Background(), dir, "")
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.TotalItems)
	require.Equal(t, 2, job.Processed)
	require.Equal(t, 1, job.Duplicates)
	require.Equal(t, 0, job.Failed)

	// The file hash is the identity, since imported files are canonical
	identity, err := hashing.Identify(red.Data)
	require.NoError(t, err)
	item, err := repo.GetByIdentity(context.Background(), identity)
	require.NoError(t, err)
	require.Equal(t, "jpeg", item.Format)
	require.NotZero(t, item.Width)

	// A second import finds everything already registered
	job = pipeline.RunImportSync(context.Background(), dir, "")
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Equal(t, 0, job.Processed)
	require.Equal(t, 3, job.Duplicates)
}

func TestImportFailsOnEmptyDirectory(t *testing.T) {
	repo := newTestRepo(t)
	pipeline, _ := newTestPipeline(t, repo, newTestStorage(t), "")

	job := pipeline.RunImportSync(context.Background(), t.TempDir(), "")
	require.Equal(t, domain.JobStatusFailed, job.Status)
}

// fakeCaptioner captions deterministically from the image bytes.
type fakeCaptioner struct {
	loadErr  error
	loaded   bool
	closed   bool
	captions int
}

func (f *fakeCaptioner) Load(ctx context.Context) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = true
	return nil
}

func (f *fakeCaptioner) Caption(ctx context.Context, imageData []byte) (string, error) {
	if !f.loaded {
		return "", fmt.Errorf("not loaded")
	}
	f.captions++
	sum := sha256.Sum256(imageData)
	return fmt.Sprintf("photo %x", sum[:4]), nil
}

func (f *fakeCaptioner) Close() error {
	f.loaded = false
	f.closed = true
	return nil
}

// fakeEmbedder produces deterministic unit vectors from input bytes.
type fakeEmbedder struct {
	dim    int
	loaded bool
}

func (f *fakeEmbedder) Load(ctx context.Context) error { f.loaded = true; return nil }
func (f *fakeEmbedder) Close() error                   { f.loaded = false; return nil }
func (f *fakeEmbedder) Dimensions() int                { return f.dim }

func (f *fakeEmbedder) vector(seed []byte) []float32 {
	sum := sha256.Sum256(seed)
	vec := make([]float32, f.dim)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(sum[(i*4)%28 : (i*4)%28+4])
		vec[i] = float32(bits%1000)/1000.0 + 0.001
	}
	normalize(vec)
	return vec
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if !f.loaded {
		return nil, fmt.Errorf("not loaded")
	}
	return f.vector([]byte("text:" + text)), nil
}

func (f *fakeEmbedder) EmbedImage(ctx context.Context, imageData []byte) ([]float32, error) {
	if !f.loaded {
		return nil, fmt.Errorf("not loaded")
	}
	return f.vector(append([]byte("image:"), imageData...)), nil
}
