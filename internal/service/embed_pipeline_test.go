package service

import (
	"context"
	"fmt"
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tomo/mnemo/internal/domain"
	"github.com/tomo/mnemo/internal/index"
	"github.com/tomo/mnemo/internal/repository"
	"github.com/tomo/mnemo/internal/storage"
)

const testDim = 8

// seedArchive ingests n distinct images and returns the repo and storage
// they landed in.
func seedArchive(t *testing.T, n int) (*repository.MediaRepository, storage.ObjectStorage) {
	t.Helper()
	mux := http.NewServeMux()
	urls := make([]string, 0, n)
	for i := 0; i < n; i++ {
		data := pngBytes(t, color.RGBA{R: uint8(50 + i*40), G: uint8(i * 30), B: 200, A: 255})
		path := fmt.Sprintf("/img%d.png", i)
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) { w.Write(data) })
		urls = append(urls, path)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	repo := newTestRepo(t)
	objectStorage := newTestStorage(t)
	pipeline, _ := newTestPipeline(t, repo, objectStorage, "")

	full := make([]string, n)
	for i, u := range urls {
		full[i] = server.URL + u
	}
	job := pipeline.RunIngestSync(context.Background(), manifestFor(full...), "")
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Equal(t, n, job.Processed)
	return repo, objectStorage
}

func newEmbedService(t *testing.T, repo *repository.MediaRepository, objectStorage storage.ObjectStorage, captioner Captioner, embedder Embedder) (*EmbedService, *index.Store) {
	t.Helper()
	store := index.NewStore(filepath.Join(t.TempDir(), "index"), testDim)
	require.NoError(t, store.Load())
	jobs := NewJobManager()
	return NewEmbedService(repo, store, objectStorage, captioner, embedder, jobs, 100, ""), store
}

func TestCaptionRunCaptionsUncaptionedItems(t *testing.T) {
	repo, objectStorage := seedArchive(t, 3)
	captioner := &fakeCaptioner{}
	svc, _ := newEmbedService(t, repo, objectStorage, captioner, &fakeEmbedder{dim: testDim})

	job := svc.RunCaptionSync(context.Background())
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.Processed)
	require.Equal(t, 0, job.Failed)
	require.True(t, captioner.closed, "model handle must be released")

	items, err := repo.ListWithoutCaption(context.Background(), 100)
	require.NoError(t, err)
	require.Empty(t, items)

	// A second run finds nothing to do
	job = svc.RunCaptionSync(context.Background())
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Equal(t, 0, job.TotalItems)
}

func TestCaptionRunFailsWhenModelUnavailable(t *testing.T) {
	repo, objectStorage := seedArchive(t, 1)
	captioner := &fakeCaptioner{loadErr: fmt.Errorf("weights missing")}
	svc, _ := newEmbedService(t, repo, objectStorage, captioner, &fakeEmbedder{dim: testDim})

	job := svc.RunCaptionSync(context.Background())
	require.Equal(t, domain.JobStatusFailed, job.Status)

	items, err := repo.ListWithoutCaption(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, items, 1, "no captions may be written on a failed run")
}

func TestEmbedRunAssignsVectorsAndRefs(t *testing.T) {
	repo, objectStorage := seedArchive(t, 3)
	svc, store := newEmbedService(t, repo, objectStorage, &fakeCaptioner{}, &fakeEmbedder{dim: testDim})

	require.Equal(t, domain.JobStatusCompleted, svc.RunCaptionSync(context.Background()).Status)

	job := svc.RunEmbedSync(context.Background())
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.Processed)

	require.Equal(t, 3, store.TextVectorCount())
	require.Equal(t, 3, store.ImageVectorCount())

	items, err := repo.ListAll(context.Background(), "")
	require.NoError(t, err)
	refs := map[int64]bool{}
	for _, item := range items {
		require.NotNil(t, item.TextVectorRef, "item %s missing text ref", item.Identity)
		require.NotNil(t, item.ImageVectorRef, "item %s missing image ref", item.Identity)
		refs[*item.TextVectorRef] = true
	}
	// Dense 0-based ids, one per item
	for i := int64(0); i < 3; i++ {
		require.True(t, refs[i], "expected text ref %d to be assigned", i)
	}
}

func TestEmbedRunIsIdempotent(t *testing.T) {
	repo, objectStorage := seedArchive(t, 2)
	svc, store := newEmbedService(t, repo, objectStorage, &fakeCaptioner{}, &fakeEmbedder{dim: testDim})

	require.Equal(t, domain.JobStatusCompleted, svc.RunCaptionSync(context.Background()).Status)
	require.Equal(t, domain.JobStatusCompleted, svc.RunEmbedSync(context.Background()).Status)

	before := store.TextVectorCount()

	// Second embed run has an empty work queue and changes nothing
	job := svc.RunEmbedSync(context.Background())
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Equal(t, 0, job.TotalItems)
	require.Equal(t, before, store.TextVectorCount())
	require.Equal(t, before, store.ImageVectorCount())
}

func TestSearchJoinsIndexWithMetadata(t *testing.T) {
	repo, objectStorage := seedArchive(t, 3)
	embedder := &fakeEmbedder{dim: testDim}
	svc, store := newEmbedService(t, repo, objectStorage, &fakeCaptioner{}, embedder)

	require.Equal(t, domain.JobStatusCompleted, svc.RunCaptionSync(context.Background()).Status)
	require.Equal(t, domain.JobStatusCompleted, svc.RunEmbedSync(context.Background()).Status)

	require.NoError(t, embedder.Load(context.Background()))
	search := NewSearchService(repo, store, embedder, objectStorage, nil)

	results, err := search.Search(context.Background(), "sunset at the beach", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		require.NotEmpty(t, r.Identity)
		require.NotEmpty(t, r.URL)
		require.NotNil(t, r.Caption)
	}
	// Ranked best first
	require.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	repo, objectStorage := seedArchive(t, 1)
	embedder := &fakeEmbedder{dim: testDim}
	_, store := newEmbedService(t, repo, objectStorage, &fakeCaptioner{}, embedder)
	require.NoError(t, embedder.Load(context.Background()))

	search := NewSearchService(repo, store, embedder, objectStorage, nil)
	_, err := search.Search(context.Background(), "", 5)
	require.Error(t, err)
}
