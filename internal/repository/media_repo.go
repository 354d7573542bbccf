package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomo/mnemo/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a lookup matches no media item.
var ErrNotFound = errors.New("media item not found")

// MediaRepository handles media item data operations. The metadata store is
// the single source of truth; the dedup registry and the vector indices are
// rebuilt from it, never the reverse.
type MediaRepository struct {
	db *gorm.DB
}

// NewMediaRepository creates a new MediaRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *MediaRepository: repository instance bound to db.
func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// Upsert creates or updates a media item keyed by identity. Re-ingesting
// byte-identical content converges to a single row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: media item to create or update.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *MediaRepository) Upsert(ctx context.Context, item *domain.MediaItem) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "identity"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"location", "storage_key", "captured_at", "place", "owner",
			"width", "height", "format", "file_size", "updated_at",
		}),
	}).Create(item).Error
}

// GetByIdentity retrieves a media item by its content identity.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - identity: 64-char hex content hash.
// Returns:
//   - *domain.MediaItem: item if found.
//   - error: ErrNotFound when no row matches.
func (r *MediaRepository) GetByIdentity(ctx context.Context, identity string) (*domain.MediaItem, error) {
	var item domain.MediaItem
	if err := r.db.WithContext(ctx).First(&item, "identity = ?", identity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// GetByIdentities retrieves media items for a list of identities.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - identities: content identities to look up.
// Returns:
//   - []domain.MediaItem: matching items, in no guaranteed order.
//   - error: non-nil if the query fails.
func (r *MediaRepository) GetByIdentities(ctx context.Context, identities []string) ([]domain.MediaItem, error) {
	if len(identities) == 0 {
		return []domain.MediaItem{}, nil
	}
	var items []domain.MediaItem
	if err := r.db.WithContext(ctx).Where("identity IN ?", identities).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to get media items by identities: %w", err)
	}
	return items, nil
}

// ListIdentities returns every identity in the store. Used to bootstrap the
// dedup registry at startup.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - []string: all identity values.
//   - error: non-nil if the query fails.
func (r *MediaRepository) ListIdentities(ctx context.Context) ([]string, error) {
	var identities []string
	if err := r.db.WithContext(ctx).
		Model(&domain.MediaItem{}).
		Pluck("identity", &identities).Error; err != nil {
		return nil, err
	}
	return identities, nil
}

// ListAll retrieves all media items ordered by capture time descending.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - owner: owner namespace; empty means the default owner.
// Returns:
//   - []domain.MediaItem: matching items.
//   - error: non-nil if the query fails.
func (r *MediaRepository) ListAll(ctx context.Context, owner string) ([]domain.MediaItem, error) {
	if owner == "" {
		owner = domain.DefaultOwner
	}
	var items []domain.MediaItem
	if err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("captured_at DESC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListWithoutCaption retrieves items the caption stage has not reached yet,
// oldest first so resumed runs pick up where the last one stopped.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: batch ceiling.
// Returns:
//   - []domain.MediaItem: items with a NULL caption.
//   - error: non-nil if the query fails.
func (r *MediaRepository) ListWithoutCaption(ctx context.Context, limit int) ([]domain.MediaItem, error) {
	var items []domain.MediaItem
	if err := r.db.WithContext(ctx).
		Where("caption IS NULL").
		Order("created_at").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListCaptionedWithoutVectors retrieves items that have a caption but are
// missing either vector ref. This is the embed stage's work queue.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: batch ceiling.
// Returns:
//   - []domain.MediaItem: items ready for embedding.
//   - error: non-nil if the query fails.
func (r *MediaRepository) ListCaptionedWithoutVectors(ctx context.Context, limit int) ([]domain.MediaItem, error) {
	var items []domain.MediaItem
	if err := r.db.WithContext(ctx).
		Where("caption IS NOT NULL AND (text_vector_ref IS NULL OR image_vector_ref IS NULL)").
		Order("created_at").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateCaption sets the caption for an item and bumps updated_at. A later
// caption run may overwrite an existing caption; vectors are unaffected.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - identity: item identity.
//   - caption: generated caption text.
// Returns:
//   - error: ErrNotFound when no row matches.
func (r *MediaRepository) UpdateCaption(ctx context.Context, identity, caption string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.MediaItem{}).
		Where("identity = ?", identity).
		Updates(map[string]interface{}{
			"caption":    caption,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateVectorRefs fills in vector refs for an item. Refs are set at most
// once: a ref that is already non-NULL keeps its value (COALESCE), so a
// re-run of the embed stage never reassigns an id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - identity: item identity.
//   - textRef: text vector id, or nil to leave unchanged.
//   - imageRef: image vector id, or nil to leave unchanged.
// Returns:
//   - error: ErrNotFound when no row matches.
func (r *MediaRepository) UpdateVectorRefs(ctx context.Context, identity string, textRef, imageRef *int64) error {
	result := r.db.WithContext(ctx).
		Model(&domain.MediaItem{}).
		Where("identity = ?", identity).
		Updates(map[string]interface{}{
			"text_vector_ref":  gorm.Expr("COALESCE(text_vector_ref, ?)", textRef),
			"image_vector_ref": gorm.Expr("COALESCE(image_vector_ref, ?)", imageRef),
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the total number of media items.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: number of rows.
//   - error: non-nil if the query fails.
func (r *MediaRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.MediaItem{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// EmbeddingStats aggregates caption and embedding progress counts.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - *domain.EmbeddingStats: aggregate counters.
//   - error: non-nil if any count query fails.
func (r *MediaRepository) EmbeddingStats(ctx context.Context) (*domain.EmbeddingStats, error) {
	db := r.db.WithContext(ctx).Model(&domain.MediaItem{})

	var stats domain.EmbeddingStats
	if err := db.Session(&gorm.Session{}).Count(&stats.TotalItems).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).Where("caption IS NOT NULL").Count(&stats.WithCaptions).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).
		Where("text_vector_ref IS NOT NULL AND image_vector_ref IS NOT NULL").
		Count(&stats.FullyEmbedded).Error; err != nil {
		return nil, err
	}

	stats.PendingCaptions = stats.TotalItems - stats.WithCaptions
	stats.PendingEmbeddings = stats.WithCaptions - stats.FullyEmbedded
	return &stats, nil
}
