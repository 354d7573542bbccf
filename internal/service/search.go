package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tomo/mnemo/internal/config"
	"github.com/tomo/mnemo/internal/domain"
	"github.com/tomo/mnemo/internal/index"
	"github.com/tomo/mnemo/internal/logger"
	"github.com/tomo/mnemo/internal/repository"
	"github.com/tomo/mnemo/internal/storage"
)

// SearchService answers natural-language queries over the archive. The
// query is embedded once and scored against both the caption index and the
// image index; the fused ranking is joined with metadata from the
// repository.
type SearchService struct {
	repo        *repository.MediaRepository
	store       *index.Store
	embedder    Embedder
	storage     storage.ObjectStorage
	textWeight  float32
	imageWeight float32
	defaultTopK int
}

// NewSearchService creates a search service.
// Parameters:
//   - repo: metadata repository for result hydration.
//   - store: vector index store.
//   - embedder: query embedder; must share the index's embedding space.
//   - objectStorage: used to resolve result URLs.
//   - cfg: fusion weights and default result count.
// Returns:
//   - *SearchService: initialized search service.
func NewSearchService(
	repo *repository.MediaRepository,
	store *index.Store,
	embedder Embedder,
	objectStorage storage.ObjectStorage,
	cfg *config.SearchConfig,
) *SearchService {
	textWeight, imageWeight := float32(0.7), float32(0.3)
	topK := 10
	if cfg != nil {
		if cfg.TextWeight > 0 || cfg.ImageWeight > 0 {
			textWeight, imageWeight = cfg.TextWeight, cfg.ImageWeight
		}
		if cfg.DefaultTopK > 0 {
			topK = cfg.DefaultTopK
		}
	}
	return &SearchService{
		repo:        repo,
		store:       store,
		embedder:    embedder,
		storage:     objectStorage,
		textWeight:  textWeight,
		imageWeight: imageWeight,
		defaultTopK: topK,
	}
}

// Search runs a hybrid query and returns ranked results with metadata.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: natural-language query text.
//   - limit: maximum results; 0 uses the configured default.
// Returns:
//   - []domain.MediaSearchResult: ranked results, best first.
//   - error: non-nil if embedding or the index search fails.
func (s *SearchService) Search(ctx context.Context, query string, limit int) ([]domain.MediaSearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = s.defaultTopK
	}

	start := time.Now()

	queryVec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.store.HybridSearch(queryVec, limit, s.textWeight, s.imageWeight)
	if err != nil {
		return nil, fmt.Errorf("hybrid search failed: %w", err)
	}
	if len(hits) == 0 {
		return []domain.MediaSearchResult{}, nil
	}

	identities := make([]string, len(hits))
	for i, hit := range hits {
		identities[i] = hit.Identity
	}
	items, err := s.repo.GetByIdentities(ctx, identities)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate results: %w", err)
	}
	byIdentity := make(map[string]domain.MediaItem, len(items))
	for _, item := range items {
		byIdentity[item.Identity] = item
	}

	// Index hits without a metadata row indicate drift between the index
	// and the store; they are dropped from results, not fatal.
	results := make([]domain.MediaSearchResult, 0, len(hits))
	for _, hit := range hits {
		item, ok := byIdentity[hit.Identity]
		if !ok {
			logger.CtxWarn(ctx, "search hit %s has no metadata row", hit.Identity)
			continue
		}
		results = append(results, domain.MediaSearchResult{
			MediaItem: item,
			Score:     hit.Score,
			URL:       s.storage.GetURL(item.StorageKey),
		})
	}

	logger.With(logger.Fields{logger.FieldDurationMs: time.Since(start).Milliseconds()}).
		WithCount(len(results)).
		Debug(ctx, "search completed for %q", query)

	return results, nil
}
