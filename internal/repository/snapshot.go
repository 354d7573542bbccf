package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomo/mnemo/internal/domain"
)

// ExportSnapshot writes a denormalized JSON export of the metadata table,
// keyed by identity. The snapshot is a portable backup and is always
// regenerable from the relational store; it is never read back as a source
// of truth.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - path: destination file for the snapshot.
// Returns:
//   - int: number of exported entries.
//   - error: non-nil if the query or write fails.
func (r *MediaRepository) ExportSnapshot(ctx context.Context, path string) (int, error) {
	var items []domain.MediaItem
	if err := r.db.WithContext(ctx).Order("created_at").Find(&items).Error; err != nil {
		return 0, fmt.Errorf("failed to read media items for snapshot: %w", err)
	}

	snapshot := make(map[string]domain.MediaItem, len(items))
	for _, item := range items {
		snapshot[item.Identity] = item
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return len(snapshot), nil
}
