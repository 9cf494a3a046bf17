package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"signserver/internal/config"
	"signserver/internal/inference"
	"signserver/internal/labels"
	"signserver/internal/logger"
	"signserver/internal/repository/sqlite"
)

func newTestService(t *testing.T, limit int) (*BufferService, *sqlite.SnapshotRepository, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		LogDirectory:      filepath.Join(dir, "logs"),
		SnapshotDirectory: filepath.Join(dir, "snapshots"),
		BufferLimit:       limit,
	}
	l := logger.NewLogger(cfg)
	t.Cleanup(func() { l.Close() })

	db, err := sqlite.New(filepath.Join(dir, "snapshots.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	repo := sqlite.NewSnapshotRepository(db)
	t.Cleanup(func() { repo.Close() })

	return NewBufferService(cfg, l, repo), repo, cfg.SnapshotDirectory
}

func hello() []inference.DetectionRecord {
	return []inference.DetectionRecord{{ClassID: 5, ClassName: "Hello", Confidence: 0.9}}
}

func TestAddRespectsPerSourceLimit(t *testing.T) {
	s, _, _ := newTestService(t, 2)

	for i := 0; i < 3; i++ {
		s.Add([]byte{1}, "camera", hello())
	}
	if !s.Add([]byte{1}, "upload", hello()) {
		t.Error("upload rejected although its own limit is not reached")
	}
	if s.Add([]byte{1}, "upload", nil) {
		t.Error("frame without detections was queued")
	}
	if got := s.Pending(); got != 3 {
		t.Errorf("Pending = %d, want 3", got)
	}
}

func TestFlushWritesFilesAndRows(t *testing.T) {
	s, repo, dir := newTestService(t, 10)
	base := time.Date(2024, 5, 1, 10, 30, 15, 0, time.Local)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}

	box := &[4]float32{1, 2, 30, 40}
	s.Add([]byte("jpeg-1"), "upload", hello())
	s.Add([]byte("jpeg-2"), "camera", []inference.DetectionRecord{
		{ClassID: 12, ClassName: "Please", Confidence: 0.8, BBox: box},
	})

	if n := s.Flush(context.Background()); n != 2 {
		t.Fatalf("Flush = %d, want 2", n)
	}
	if s.Pending() != 0 {
		t.Errorf("buffer not cleared")
	}

	files, err := ListSnapshots(dir)
	if err != nil || len(files) != 2 {
		t.Fatalf("ListSnapshots = %v, %v", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil || string(data) != "jpeg-1" {
		t.Errorf("file content = %q, %v", data, err)
	}

	snaps, err := repo.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d rows", len(snaps))
	}
	recs := FromModel(snaps[0].Detections)
	if snaps[0].Source != "camera" || len(recs) != 1 || recs[0].BBox == nil || recs[0].BBox[2] != 30 {
		t.Errorf("newest snapshot = %+v, records %+v", snaps[0].Snapshot, recs)
	}

	if s.Flush(context.Background()) != 0 {
		t.Error("second flush wrote files")
	}
}

func TestRunFlushesOnShutdown(t *testing.T) {
	s, _, dir := newTestService(t, 10)
	s.Add([]byte("x"), "upload", hello())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	files, _ := ListSnapshots(dir)
	if len(files) != 1 {
		t.Errorf("got %d files after shutdown flush", len(files))
	}
}

func TestFilenameRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.Local)
	recs := []inference.DetectionRecord{{ClassName: "Hello"}, {ClassName: "unknown_99"}}

	name := BuildFilename(ts, "camera", recs)
	if name != "2024-01-02_03-04_05.006_camera_Hello_unknown-99_.jpg" {
		t.Errorf("BuildFilename = %s", name)
	}

	gotTS, source, classNames, err := ParseFilename(name)
	if err != nil {
		t.Fatalf("ParseFilename: %v", err)
	}
	if !gotTS.Equal(ts) || source != "camera" {
		t.Errorf("got %v %s", gotTS, source)
	}
	if len(classNames) != 2 || classNames[1] != "unknown_99" {
		t.Errorf("classNames = %v", classNames)
	}

	if _, _, _, err := ParseFilename("debug_image.jpg"); err == nil {
		t.Error("expected error for foreign filename")
	}
}

func TestReindex(t *testing.T) {
	s, repo, dir := newTestService(t, 10)
	s.Add([]byte("a"), "upload", hello())
	s.Flush(context.Background())

	if err := repo.DeleteAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stray.jpg"), []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}

	files, _ := ListSnapshots(dir)
	calls := 0
	res, err := Reindex(context.Background(), files, repo, labels.Actions(), func() { calls++ })
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if res.Scanned != 2 || res.Inserted != 1 || len(res.Skipped) != 1 || calls != 2 {
		t.Errorf("result = %+v, progress calls %d", res, calls)
	}

	snaps, _ := repo.Recent(context.Background(), 0)
	if len(snaps) != 1 || len(snaps[0].Detections) != 1 || snaps[0].Detections[0].ClassID != 5 {
		t.Errorf("reindexed rows = %+v", snaps)
	}

	again, err := Reindex(context.Background(), files, repo, labels.Actions(), nil)
	if err != nil || again.Existing != 1 || again.Inserted != 0 {
		t.Errorf("second Reindex = %+v, %v", again, err)
	}
}
