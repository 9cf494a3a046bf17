package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"signserver/internal/dto"
	"signserver/internal/logger"
	"signserver/internal/session"
)

// RootHandler reports service and model status.
func RootHandler(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}

		st := sess.Status()
		_, statErr := os.Stat(st.ModelPath)
		writeJSON(w, http.StatusOK, dto.RootResponse{
			Status:       "running",
			ModelLoaded:  st.Loaded,
			ModelPath:    st.ModelPath,
			ModelExists:  statErr == nil,
			ModelClasses: st.Classes.Sorted(),
			ModelError:   st.Error,
		})
	}
}

// HealthHandler is healthy with a loaded model, loading during the first
// load, and unhealthy (503) otherwise.
func HealthHandler(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}

		st := sess.Status()
		status, code := "unhealthy", http.StatusServiceUnavailable
		switch {
		case st.Loaded:
			status, code = "healthy", http.StatusOK
		case st.State == session.ModelLoading:
			status, code = "loading", http.StatusOK
		}
		writeJSON(w, code, dto.HealthResponse{
			Status:      status,
			ModelLoaded: st.Loaded,
			ModelPath:   st.ModelPath,
		})
	}
}

// ReloadModelHandler starts a background reload, optionally from a new path.
func ReloadModelHandler(sess *session.Session, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		var req dto.ReloadRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid JSON body", Success: boolPtr(false)})
			return
		}

		path := req.ModelPath
		if path == "" {
			path = sess.ModelPath()
		}

		if err := sess.Reload(path); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, session.ErrModelNotFound):
				status = http.StatusBadRequest
			case errors.Is(err, session.ErrAlreadyLoading):
				status = http.StatusConflict
			}
			logger.Warning("Reload of %s rejected: %v", path, err)
			writeJSON(w, status, dto.ErrorResponse{Error: err.Error(), Success: boolPtr(false), ModelPath: path})
			return
		}

		logger.Info("Model reload started: %s", path)
		writeJSON(w, http.StatusAccepted, dto.ReloadResponse{
			Success:   true,
			Message:   "Model reload started",
			ModelPath: path,
		})
	}
}

func ModelInfoHandler(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}

		st := sess.Status()
		resp := dto.ModelInfoResponse{
			Loaded:       st.Loaded,
			Loading:      st.Loading,
			State:        st.State.String(),
			ModelPath:    st.ModelPath,
			ModelType:    st.ModelType,
			ModelClasses: st.Classes.Index(),
			NumClasses:   st.Classes.Len(),
			ClassNames:   st.Classes.Sorted(),
			Error:        st.Error,
		}
		if !st.LoadedAt.IsZero() {
			loadedAt := st.LoadedAt
			resp.LoadedAt = &loadedAt
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ModelVersionHandler reports runtime library versions. versions may be nil.
func ModelVersionHandler(versions func() (opencv, onnxruntime string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}

		resp := dto.ModelVersionResponse{
			GoVersion:  runtime.Version(),
			ServerTime: unixSeconds(time.Now()),
		}
		if versions != nil {
			resp.OpenCVVersion, resp.OnnxRuntimeVersion = versions()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func boolPtr(b bool) *bool {
	return &b
}
