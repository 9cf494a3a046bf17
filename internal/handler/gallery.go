package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"signserver/internal/config"
	"signserver/internal/dto"
	"signserver/internal/logger"
	"signserver/internal/repository"
	"signserver/internal/storage"
	"signserver/internal/transport"
)

const (
	defaultSnapshotLimit = 24
	maxSnapshotLimit     = 500
)

// SnapshotsHandler lists recently persisted snapshots with their detections.
func SnapshotsHandler(repo repository.SnapshotRepository, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if repo == nil {
			writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Snapshot storage disabled"})
			return
		}

		limit := atoiDefault(r.URL.Query().Get("limit"), defaultSnapshotLimit)
		if limit > maxSnapshotLimit {
			limit = maxSnapshotLimit
		}

		snaps, err := repo.Recent(r.Context(), limit)
		if err != nil {
			logger.Error("Error querying snapshots from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		total, err := repo.Count(r.Context())
		if err != nil {
			logger.Error("Error counting snapshots: %v", err)
			total = len(snaps)
		}

		infos := make([]dto.SnapshotInfo, 0, len(snaps))
		for _, s := range snaps {
			infos = append(infos, dto.SnapshotInfo{
				ID:         s.ID,
				Filename:   s.Filename,
				Source:     s.Source,
				Timestamp:  s.Timestamp,
				FileSize:   s.FileSize,
				Detections: storage.FromModel(s.Detections),
			})
		}

		writeJSON(w, http.StatusOK, dto.SnapshotsData{
			Snapshots: infos,
			Total:     total,
			Limit:     limit,
			Directory: cfg.SnapshotDirectory,
		})
	}
}

// ViewSnapshotHandler serves a single snapshot named by the "filename" query parameter.
func ViewSnapshotHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("filename")
		if name == "" {
			http.Error(w, "Filename required", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(cfg.SnapshotDirectory, transport.SanitizeFilename(name)))
	}
}

// ClearSnapshotsHandler deletes all snapshot files and their metadata rows.
func ClearSnapshotsHandler(repo repository.SnapshotRepository, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}

		files, err := storage.ListSnapshots(cfg.SnapshotDirectory)
		if err != nil {
			logger.Error("Error reading snapshot directory: %v", err)
			http.Error(w, "Unable to read snapshot directory", http.StatusInternalServerError)
			return
		}
		for _, path := range files {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Error("Error deleting file %s: %v", path, err)
			}
		}

		if repo != nil {
			if err := repo.DeleteAll(r.Context()); err != nil {
				logger.Error("Error clearing database: %v", err)
			}
		}

		logger.Info("All snapshots cleared from directory: %s", cfg.SnapshotDirectory)
		w.WriteHeader(http.StatusNoContent)
	}
}

// atoiDefault converts s to int or returns def when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}
