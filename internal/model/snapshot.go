package model

import "time"

// Snapshot is one persisted frame that produced detections.
type Snapshot struct {
	ID        int64
	Filename  string
	Source    string
	Timestamp time.Time
	FilePath  string
	FileSize  int64
}

// Detection is one normalized record attached to a snapshot.
type Detection struct {
	ID         int64
	SnapshotID int64
	ClassID    int
	ClassName  string
	Confidence float64
	X1         float32
	Y1         float32
	X2         float32
	Y2         float32
	HasBox     bool
}

// SnapshotWithDetections is a snapshot joined with its detections.
type SnapshotWithDetections struct {
	Snapshot
	Detections []Detection
}
