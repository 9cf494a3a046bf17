package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               int
	ModelPath          string
	ModelMetadataPath  string
	ModelBackend       string // onnx | dnn, empty picks from metadata
	OnnxRuntimeLib     string
	InputWidth         int
	InputHeight        int
	LiveWidth          int
	LiveHeight         int
	DetectionConf      float64
	DetectionIOU       float64
	CameraDevice       int // -1 disables the live loop
	ProcessingInterval int // process every Nth camera frame
	LandmarkWorker     string
	LandmarkPython     string
	LogDirectory       string
	LogLevel           string
	SnapshotDirectory  string
	SnapshotEnabled    bool
	BufferLimit        int
	FlushInterval      time.Duration
	DatabaseURL        string
	MaxUploadMB        int64
	JPEGQuality        int
	UploadDirectory    string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:               getEnvAsInt("PORT", 8000),
		ModelPath:          getEnv("MODEL_PATH", "best.onnx"),
		ModelMetadataPath:  getEnv("MODEL_METADATA_PATH", ""),
		ModelBackend:       strings.ToLower(getEnv("MODEL_BACKEND", "")),
		OnnxRuntimeLib:     getEnv("ONNXRUNTIME_LIB", ""),
		InputWidth:         getEnvAsInt("INPUT_WIDTH", 640),
		InputHeight:        getEnvAsInt("INPUT_HEIGHT", 640),
		LiveWidth:          getEnvAsInt("LIVE_WIDTH", 640),
		LiveHeight:         getEnvAsInt("LIVE_HEIGHT", 480),
		DetectionConf:      getEnvAsFloat("DETECTION_CONFIDENCE", 0.5),
		DetectionIOU:       getEnvAsFloat("DETECTION_IOU", 0.5),
		CameraDevice:       getEnvAsInt("CAMERA_DEVICE", 0),
		ProcessingInterval: getEnvAsInt("PROCESSING_INTERVAL", 3), // co trzecia klatka
		LandmarkWorker:     getEnv("LANDMARK_WORKER", ""),
		LandmarkPython:     getEnv("LANDMARK_PYTHON", "python3"),
		LogDirectory:       getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		SnapshotDirectory:  getEnv("SNAPSHOT_DIR", filepath.Join(".", "snapshots")),
		SnapshotEnabled:    getEnvAsBool("SNAPSHOT_ENABLED", true),
		BufferLimit:        getEnvAsInt("BUFFER_LIMIT", 10),
		FlushInterval:      getEnvAsDuration("FLUSH_INTERVAL", 30*time.Second),
		DatabaseURL:        getEnv("DATABASE_URL", filepath.Join(".", "data", "snapshots.db")),
		MaxUploadMB:        getEnvAsInt64("MAX_UPLOAD_MB", 10),
		JPEGQuality:        getEnvAsInt("JPEG_QUALITY", 80),
		UploadDirectory:    getEnv("UPLOAD_DIR", filepath.Join(".", "uploads")),
	}
}

// MaxUploadBytes is the multipart size limit for /detect and /classify_action.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// LiveEnabled reports whether a camera device is configured.
func (c *Config) LiveEnabled() bool {
	return c.CameraDevice >= 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("45s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
