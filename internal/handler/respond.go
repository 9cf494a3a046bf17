package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"signserver/internal/dto"
	"signserver/internal/logger"
	"signserver/internal/pipeline"
	"signserver/internal/session"
	"signserver/internal/transport"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps pipeline and session errors onto HTTP responses.
func writeError(w http.ResponseWriter, err error, sess *session.Session, logger *logger.Logger) {
	var (
		de          *transport.DecodeError
		ie          *pipeline.InferenceError
		unavailable *session.UnavailableError
	)

	switch {
	case errors.As(err, &de):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: de.Error()})

	case errors.As(err, &unavailable):
		status := http.StatusInternalServerError
		if unavailable.State == session.ModelLoading {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, dto.ErrorResponse{
			Error:      "Model not loaded",
			ModelPath:  sess.ModelPath(),
			ModelError: unavailable.Reason,
			Status:     unavailable.State.String(),
		})

	case errors.As(err, &ie):
		logger.Error("%v\n%s", ie, ie.Stack)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{
			Error:     ie.Error(),
			Traceback: ie.Stack,
		})

	default:
		logger.Error("Request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
