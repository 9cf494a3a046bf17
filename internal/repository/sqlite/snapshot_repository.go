package sqlite

import (
	"context"
	"fmt"
	"strings"

	"signserver/internal/model"
)

// SnapshotRepository implements repository.SnapshotRepository for SQLite.
type SnapshotRepository struct {
	db *DB
}

func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert adds a new snapshot record and returns its id.
func (r *SnapshotRepository) Insert(ctx context.Context, snap *model.Snapshot) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO snapshots (filename, source, timestamp, filepath, filesize)
		VALUES (?, ?, ?, ?, ?)
	`, snap.Filename, snap.Source, snap.Timestamp.UTC(), snap.FilePath, snap.FileSize)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return result.LastInsertId()
}

// InsertDetections adds multiple detections in a single transaction.
func (r *SnapshotRepository) InsertDetections(ctx context.Context, detections []model.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (snapshot_id, class_id, class_name, confidence, x1, y1, x2, y2, has_box)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range detections {
		if _, err := stmt.ExecContext(ctx, d.SnapshotID, d.ClassID, d.ClassName, d.Confidence,
			d.X1, d.Y1, d.X2, d.Y2, d.HasBox); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// Recent returns the newest snapshots first, each with its detections.
func (r *SnapshotRepository) Recent(ctx context.Context, limit int) ([]model.SnapshotWithDetections, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT id, filename, source, timestamp, filepath, filesize FROM snapshots ORDER BY timestamp DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}

	var snaps []model.SnapshotWithDetections
	index := make(map[int64]int)
	for rows.Next() {
		var s model.SnapshotWithDetections
		if err := rows.Scan(&s.ID, &s.Filename, &s.Source, &s.Timestamp, &s.FilePath, &s.FileSize); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		index[s.ID] = len(snaps)
		snaps = append(snaps, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return snaps, nil
	}

	placeholders := make([]string, len(snaps))
	ids := make([]interface{}, len(snaps))
	for i, s := range snaps {
		placeholders[i] = "?"
		ids[i] = s.ID
	}

	detRows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, snapshot_id, class_id, class_name, confidence, x1, y1, x2, y2, has_box
		FROM detections WHERE snapshot_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY confidence DESC, id
	`, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer detRows.Close()

	for detRows.Next() {
		var d model.Detection
		if err := detRows.Scan(&d.ID, &d.SnapshotID, &d.ClassID, &d.ClassName, &d.Confidence,
			&d.X1, &d.Y1, &d.X2, &d.Y2, &d.HasBox); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		if i, ok := index[d.SnapshotID]; ok {
			snaps[i].Detections = append(snaps[i].Detections, d)
		}
	}

	return snaps, detRows.Err()
}

func (r *SnapshotRepository) Count(ctx context.Context) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

// ExistsByFilename checks if a snapshot with the given filename exists.
func (r *SnapshotRepository) ExistsByFilename(ctx context.Context, filename string) (bool, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE filename = ?`, filename).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot existence: %w", err)
	}
	return count > 0, nil
}

// DeleteAll removes all snapshots and their detections.
func (r *SnapshotRepository) DeleteAll(ctx context.Context) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().ExecContext(ctx, `DELETE FROM detections`); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	if _, err := r.db.Conn().ExecContext(ctx, `DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Close() error {
	return r.db.Close()
}
