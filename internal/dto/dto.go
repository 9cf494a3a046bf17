package dto

import (
	"time"

	"signserver/internal/inference"
	"signserver/internal/landmark"
)

// BufferedSnapshot is a frame waiting in memory to be flushed to disk.
type BufferedSnapshot struct {
	Timestamp  time.Time
	Source     string
	Detections []inference.DetectionRecord
	Data       []byte
}

type ErrorResponse struct {
	Error      string `json:"error"`
	Success    *bool  `json:"success,omitempty"`
	Traceback  string `json:"traceback,omitempty"`
	ModelPath  string `json:"model_path,omitempty"`
	ModelError string `json:"model_error,omitempty"`
	Status     string `json:"status,omitempty"`
}

type DetectResponse struct {
	Success    bool                        `json:"success"`
	Detections []inference.DetectionRecord `json:"detections"`
	Landmarks  *landmark.Set               `json:"landmarks,omitempty"`
	Timestamp  float64                     `json:"timestamp"`
}

type TestDetectResponse struct {
	Success    bool                        `json:"success"`
	Detections []inference.DetectionRecord `json:"detections"`
	Message    string                      `json:"message"`
}

type RootResponse struct {
	Status       string   `json:"status"`
	ModelLoaded  bool     `json:"model_loaded"`
	ModelPath    string   `json:"model_path"`
	ModelExists  bool     `json:"model_exists"`
	ModelClasses []string `json:"model_classes"`
	ModelError   string   `json:"model_error,omitempty"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelPath   string `json:"model_path"`
}

type ReloadRequest struct {
	ModelPath string `json:"model_path"`
}

type ReloadResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ModelPath string `json:"model_path"`
}

type ModelInfoResponse struct {
	Loaded       bool           `json:"loaded"`
	Loading      bool           `json:"loading"`
	State        string         `json:"state"`
	ModelPath    string         `json:"model_path"`
	ModelType    string         `json:"model_type"`
	ModelClasses map[int]string `json:"model_classes"`
	NumClasses   int            `json:"num_classes"`
	ClassNames   []string       `json:"class_names"`
	LoadedAt     *time.Time     `json:"loaded_at,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type ModelVersionResponse struct {
	GoVersion          string  `json:"go_version"`
	OpenCVVersion      string  `json:"opencv_version"`
	OnnxRuntimeVersion string  `json:"onnxruntime_version"`
	ServerTime         float64 `json:"server_time"`
}

type ClassifyActionResponse struct {
	Action     string  `json:"action"`
	Confidence string  `json:"confidence"`
	Score      float64 `json:"score"`
}

type SnapshotInfo struct {
	ID         int64                       `json:"id"`
	Filename   string                      `json:"filename"`
	Source     string                      `json:"source"`
	Timestamp  time.Time                   `json:"timestamp"`
	FileSize   int64                       `json:"file_size"`
	Detections []inference.DetectionRecord `json:"detections"`
}

type SnapshotsData struct {
	Snapshots []SnapshotInfo `json:"snapshots"`
	Total     int            `json:"total"`
	Limit     int            `json:"limit"`
	Directory string         `json:"directory"`
}
