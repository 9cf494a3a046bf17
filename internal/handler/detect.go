package handler

import (
	"net/http"
	"time"

	"signserver/internal/config"
	"signserver/internal/dto"
	"signserver/internal/frame"
	"signserver/internal/inference"
	"signserver/internal/logger"
	"signserver/internal/pipeline"
	"signserver/internal/preprocess"
	"signserver/internal/session"
	"signserver/internal/storage"
	"signserver/internal/transport"
)

// DetectHandler accepts a multipart "image" file or JSON {"image": base64}
// and returns the normalized detections. Frames with detections are queued
// as snapshots when buffer is non-nil.
func DetectHandler(p *pipeline.Pipeline, sess *session.Session, buffer *storage.BufferService, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		src, err := transport.FromRequest(w, r, "image", cfg.MaxUploadBytes())
		if err != nil {
			logger.Warning("Detect request rejected: %v", err)
			writeError(w, err, sess, logger)
			return
		}

		out, err := p.Process(r.Context(), src, preprocess.Upload)
		if err != nil {
			writeError(w, err, sess, logger)
			return
		}

		if buffer != nil && len(out.Detections) > 0 {
			queueSnapshot(buffer, src, out.Detections, cfg.JPEGQuality, logger)
		}

		resp := dto.DetectResponse{
			Success:    true,
			Detections: nonNil(out.Detections),
			Timestamp:  unixSeconds(out.Timestamp),
		}
		if p.HasExtractor() {
			resp.Landmarks = &out.Landmarks
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// TestDetectHandler runs the pipeline on a synthetic frame: a white square
// on black.
func TestDetectHandler(p *pipeline.Pipeline, sess *session.Session, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}

		out, err := p.Process(r.Context(), frame.TestPattern(640, 640), preprocess.Upload)
		if err != nil {
			writeError(w, err, sess, logger)
			return
		}

		logger.Info("Test detection returned %d detections", len(out.Detections))
		writeJSON(w, http.StatusOK, dto.TestDetectResponse{
			Success:    true,
			Detections: nonNil(out.Detections),
			Message:    "Test detection completed",
		})
	}
}

func queueSnapshot(buffer *storage.BufferService, src frame.Frame, detections []inference.DetectionRecord, quality int, logger *logger.Logger) {
	data, err := transport.EncodeJPEG(src, quality)
	if err != nil {
		logger.Warning("Failed to encode snapshot: %v", err)
		return
	}
	buffer.Add(data, preprocess.Upload.String(), detections)
}

func nonNil(records []inference.DetectionRecord) []inference.DetectionRecord {
	if records == nil {
		return []inference.DetectionRecord{}
	}
	return records
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
