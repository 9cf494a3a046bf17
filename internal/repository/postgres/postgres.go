// Package postgres stores snapshot metadata in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"signserver/internal/model"
)

// SnapshotRepository implements repository.SnapshotRepository on a pgx pool.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*SnapshotRepository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &SnapshotRepository{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS snapshots (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			filepath TEXT NOT NULL,
			filesize BIGINT DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS detections (
			id BIGSERIAL PRIMARY KEY,
			snapshot_id BIGINT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
			class_id INT NOT NULL,
			class_name TEXT NOT NULL,
			confidence DOUBLE PRECISION DEFAULT 0,
			x1 REAL DEFAULT 0,
			y1 REAL DEFAULT 0,
			x2 REAL DEFAULT 0,
			y2 REAL DEFAULT 0,
			has_box BOOLEAN DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS snapshots_timestamp_idx ON snapshots (timestamp);
		CREATE INDEX IF NOT EXISTS detections_snapshot_id_idx ON detections (snapshot_id);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

func (r *SnapshotRepository) Insert(ctx context.Context, snap *model.Snapshot) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO snapshots (filename, source, timestamp, filepath, filesize)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, snap.Filename, snap.Source, snap.Timestamp, snap.FilePath, snap.FileSize).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return id, nil
}

// InsertDetections writes all detections in one batch.
func (r *SnapshotRepository) InsertDetections(ctx context.Context, detections []model.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range detections {
		batch.Queue(`
			INSERT INTO detections (snapshot_id, class_id, class_name, confidence, x1, y1, x2, y2, has_box)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, d.SnapshotID, d.ClassID, d.ClassName, d.Confidence, d.X1, d.Y1, d.X2, d.Y2, d.HasBox)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert detections: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Recent(ctx context.Context, limit int) ([]model.SnapshotWithDetections, error) {
	query := `SELECT id, filename, source, timestamp, filepath, filesize FROM snapshots ORDER BY timestamp DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	snaps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SnapshotWithDetections, error) {
		var s model.SnapshotWithDetections
		err := row.Scan(&s.ID, &s.Filename, &s.Source, &s.Timestamp, &s.FilePath, &s.FileSize)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return snaps, nil
	}

	ids := make([]int64, len(snaps))
	index := make(map[int64]int, len(snaps))
	for i, s := range snaps {
		ids[i] = s.ID
		index[s.ID] = i
	}

	detRows, err := r.pool.Query(ctx, `
		SELECT id, snapshot_id, class_id, class_name, confidence, x1, y1, x2, y2, has_box
		FROM detections WHERE snapshot_id = ANY($1)
		ORDER BY confidence DESC, id
	`, ids)
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
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

func (r *SnapshotRepository) ExistsByFilename(ctx context.Context, filename string) (bool, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM snapshots WHERE filename = $1`, filename).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot existence: %w", err)
	}
	return true, nil
}

// DeleteAll clears both tables; detections go with their snapshots.
func (r *SnapshotRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE snapshots, detections RESTART IDENTITY`); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Close() error {
	r.pool.Close()
	return nil
}
