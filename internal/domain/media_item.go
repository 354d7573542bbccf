package domain

import "time"

// DefaultOwner is the single logical owner namespace for a deployment.
const DefaultOwner = "me"

// MediaItem represents one deduplicated media item in the system.
// Identity is the SHA-256 hash of the final normalized bytes and is the
// primary key; two items with equal identity are the same logical item,
// so writes are upserts, never duplicate inserts.
type MediaItem struct {
	Identity   string    `gorm:"type:text;primaryKey" json:"identity"`
	Location   string    `gorm:"type:text" json:"location"`
	StorageKey string    `gorm:"type:text" json:"storage_key"`
	CapturedAt time.Time `gorm:"not null;index:idx_media_items_captured" json:"captured_at"`
	Place      string    `gorm:"type:text" json:"place,omitempty"`
	Owner      string    `gorm:"type:text;not null;index:idx_media_items_owner;default:me" json:"owner"`

	// Caption is set by the caption stage and may be overwritten by a later
	// caption run. Vector refs are assigned at most once per kind and never
	// reassigned; a nil ref means the embed stage has not reached this item.
	Caption        *string `gorm:"type:text" json:"caption,omitempty"`
	TextVectorRef  *int64  `gorm:"column:text_vector_ref" json:"text_vector_ref,omitempty"`
	ImageVectorRef *int64  `gorm:"column:image_vector_ref" json:"image_vector_ref,omitempty"`

	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `gorm:"type:text" json:"format"`
	FileSize int64  `json:"file_size"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for MediaItem.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (MediaItem) TableName() string {
	return "media_items"
}

// HasCaption reports whether a caption has been generated for the item.
func (m *MediaItem) HasCaption() bool {
	return m.Caption != nil && *m.Caption != ""
}

// FullyEmbedded reports whether both vector refs have been assigned.
func (m *MediaItem) FullyEmbedded() bool {
	return m.TextVectorRef != nil && m.ImageVectorRef != nil
}

// MediaSearchResult pairs a media item with its similarity score and a
// resolved access URL.
type MediaSearchResult struct {
	MediaItem
	Score float32 `json:"score"`
	URL   string  `json:"url"`
}

// EmbeddingStats summarizes pipeline progress over the metadata store.
type EmbeddingStats struct {
	TotalItems        int64 `json:"total_items"`
	WithCaptions      int64 `json:"with_captions"`
	PendingCaptions   int64 `json:"pending_captions"`
	FullyEmbedded     int64 `json:"fully_embedded"`
	PendingEmbeddings int64 `json:"pending_embeddings"`
}
