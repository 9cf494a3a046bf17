package repository

import (
	"context"

	"signserver/internal/model"
)

// SnapshotRepository stores snapshot metadata and the detections found in them.
type SnapshotRepository interface {
	// Create operations
	Insert(ctx context.Context, snap *model.Snapshot) (int64, error)
	InsertDetections(ctx context.Context, detections []model.Detection) error

	// Read operations
	Recent(ctx context.Context, limit int) ([]model.SnapshotWithDetections, error)
	Count(ctx context.Context) (int, error)
	ExistsByFilename(ctx context.Context, filename string) (bool, error)

	// Delete operations
	DeleteAll(ctx context.Context) error

	Close() error
}
