// Package storage buffers processed frames in memory and periodically
// writes them to the snapshot directory with metadata rows.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"signserver/internal/config"
	"signserver/internal/dto"
	"signserver/internal/inference"
	"signserver/internal/logger"
	"signserver/internal/model"
	"signserver/internal/repository"
)

const (
	// TimestampLayout is the time prefix of every snapshot filename.
	TimestampLayout = "2006-01-02_15-04_05.000"

	DefaultBufferLimit   = 10
	DefaultFlushInterval = 30 * time.Second
)

// BufferService buffers snapshots in memory and periodically flushes them to disk.
type BufferService struct {
	dir         string
	limit       int
	snapshots   []dto.BufferedSnapshot
	bufferCount map[string]int
	mu          sync.Mutex
	logger      *logger.Logger
	repo        repository.SnapshotRepository
	now         func() time.Time
}

// NewBufferService creates a BufferService. repo may be nil, in which case
// only the JPEG files are written.
func NewBufferService(cfg *config.Config, logger *logger.Logger, repo repository.SnapshotRepository) *BufferService {
	limit := cfg.BufferLimit
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	return &BufferService{
		dir:         cfg.SnapshotDirectory,
		limit:       limit,
		bufferCount: make(map[string]int),
		logger:      logger,
		repo:        repo,
		now:         time.Now,
	}
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (s *BufferService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Add queues a JPEG for the next flush. Frames without detections and
// frames beyond the per-source limit are dropped; the return value
// reports whether the frame was queued.
func (s *BufferService) Add(data []byte, source string, detections []inference.DetectionRecord) bool {
	if len(detections) == 0 || len(data) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bufferCount[source] >= s.limit {
		return false
	}

	s.snapshots = append(s.snapshots, dto.BufferedSnapshot{
		Timestamp:  s.now(),
		Source:     source,
		Detections: detections,
		Data:       data,
	})
	s.bufferCount[source]++
	s.logger.Debug("Buffer size for source %s: %d/%d", source, s.bufferCount[source], s.limit)
	return true
}

// Pending returns the number of buffered snapshots.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// Flush writes buffered snapshots to disk, records them in the repository
// and resets the buffer and per-source counters. It returns how many
// files were saved.
func (s *BufferService) Flush(ctx context.Context) int {
	s.mu.Lock()
	pending := s.snapshots
	s.snapshots = nil
	s.bufferCount = make(map[string]int)
	s.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	saved := 0
	for _, snap := range pending {
		filename := BuildFilename(snap.Timestamp, snap.Source, snap.Detections)
		fullpath := filepath.Join(s.dir, filename)

		if err := os.WriteFile(fullpath, snap.Data, 0644); err != nil {
			s.logger.Error("Error saving snapshot %s: %v", filename, err)
			continue
		}
		saved++

		if s.repo == nil {
			continue
		}
		if err := s.record(ctx, &model.Snapshot{
			Filename:  filename,
			Source:    snap.Source,
			Timestamp: snap.Timestamp,
			FilePath:  fullpath,
			FileSize:  int64(len(snap.Data)),
		}, snap.Detections); err != nil {
			s.logger.Error("Error saving snapshot %s to database: %v", filename, err)
		}
	}

	s.logger.Info("Flushed %d snapshots to disk", saved)
	return saved
}

func (s *BufferService) record(ctx context.Context, snap *model.Snapshot, detections []inference.DetectionRecord) error {
	id, err := s.repo.Insert(ctx, snap)
	if err != nil {
		return err
	}
	return s.repo.InsertDetections(ctx, ToModel(id, detections))
}

// ToModel converts records into detection rows for snapshot id.
func ToModel(snapshotID int64, records []inference.DetectionRecord) []model.Detection {
	rows := make([]model.Detection, 0, len(records))
	for _, rec := range records {
		row := model.Detection{
			SnapshotID: snapshotID,
			ClassID:    rec.ClassID,
			ClassName:  rec.ClassName,
			Confidence: rec.Confidence,
		}
		if rec.BBox != nil {
			row.X1, row.Y1, row.X2, row.Y2 = rec.BBox[0], rec.BBox[1], rec.BBox[2], rec.BBox[3]
			row.HasBox = true
		}
		rows = append(rows, row)
	}
	return rows
}

// FromModel is the inverse of ToModel.
func FromModel(rows []model.Detection) []inference.DetectionRecord {
	records := make([]inference.DetectionRecord, 0, len(rows))
	for _, row := range rows {
		rec := inference.DetectionRecord{
			ClassID:    row.ClassID,
			ClassName:  row.ClassName,
			Confidence: row.Confidence,
		}
		if row.HasBox {
			rec.BBox = &[4]float32{row.X1, row.Y1, row.X2, row.Y2}
		}
		records = append(records, rec)
	}
	return records
}

// BuildFilename returns <timestamp>_<source>_<label>_..._.jpg. Underscores
// inside source and labels are written as dashes.
func BuildFilename(ts time.Time, source string, detections []inference.DetectionRecord) string {
	var b strings.Builder
	b.WriteString(ts.Format(TimestampLayout))
	b.WriteByte('_')
	b.WriteString(strings.ReplaceAll(source, "_", "-"))
	b.WriteByte('_')
	for _, det := range detections {
		b.WriteString(strings.ReplaceAll(det.ClassName, "_", "-"))
		b.WriteByte('_')
	}
	b.WriteString(".jpg")
	return b.String()
}

// ParseFilename recovers the fields written by BuildFilename.
func ParseFilename(name string) (ts time.Time, source string, classNames []string, err error) {
	base := strings.TrimSuffix(filepath.Base(name), ".jpg")
	parts := strings.Split(base, "_")
	if len(parts) < 4 {
		return time.Time{}, "", nil, fmt.Errorf("not a snapshot filename: %s", name)
	}

	ts, err = time.ParseInLocation(TimestampLayout, strings.Join(parts[:3], "_"), time.Local)
	if err != nil {
		return time.Time{}, "", nil, fmt.Errorf("bad timestamp in %s: %w", name, err)
	}
	source = parts[3]
	for _, p := range parts[4:] {
		if p == "" {
			continue
		}
		classNames = append(classNames, strings.ReplaceAll(p, "-", "_"))
	}
	return ts, source, classNames, nil
}
