package handler

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"signserver/internal/config"
	"signserver/internal/dto"
	"signserver/internal/frame"
	"signserver/internal/inference"
	"signserver/internal/logger"
	"signserver/internal/pipeline"
	"signserver/internal/preprocess"
	"signserver/internal/session"
	"signserver/internal/transport"
)

const (
	actionModelNotLoaded = "Model not loaded"
	actionNoResults      = "No classification results available"
	actionFailed         = "Classification failed"
)

// ConfidenceLabel buckets a score into high, medium or low.
func ConfidenceLabel(score float64) string {
	switch {
	case score >= 0.7:
		return "high"
	case score >= 0.4:
		return "medium"
	default:
		return "low"
	}
}

// ClassifyActionHandler stores the uploaded "file" under the upload
// directory and answers with the top action. Model problems are reported
// in the action field with status 200.
func ClassifyActionHandler(p *pipeline.Pipeline, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes())
		if err := r.ParseMultipartForm(cfg.MaxUploadBytes()); err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "No file uploaded"})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "No file uploaded"})
			return
		}
		defer file.Close()
		if header.Filename == "" {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "No selected file"})
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "No file uploaded"})
			return
		}

		if err := saveUpload(cfg.UploadDirectory, header.Filename, data); err != nil {
			logger.Warning("Failed to save upload %s: %v", header.Filename, err)
		}

		src, err := transport.DecodeBytes(data)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, classify(r, p, src, logger))
	}
}

func classify(r *http.Request, p *pipeline.Pipeline, src frame.Frame, logger *logger.Logger) dto.ClassifyActionResponse {
	out, err := p.Process(r.Context(), src, preprocess.Upload)
	switch {
	case errors.Is(err, session.ErrModelUnavailable):
		return dto.ClassifyActionResponse{Action: actionModelNotLoaded, Confidence: "low"}
	case err != nil:
		logger.Error("Classification error: %v", err)
		return dto.ClassifyActionResponse{Action: actionFailed, Confidence: "low"}
	}

	top, ok := inference.Top(out.Detections)
	if !ok {
		return dto.ClassifyActionResponse{Action: actionNoResults, Confidence: "low"}
	}
	return dto.ClassifyActionResponse{
		Action:     top.ClassName,
		Confidence: ConfidenceLabel(top.Confidence),
		Score:      top.Confidence,
	}
}

func saveUpload(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, transport.SanitizeFilename(name)), data, 0644)
}
