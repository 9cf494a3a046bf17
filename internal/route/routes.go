package route

import (
	"net/http"

	"signserver/internal/config"
	"signserver/internal/handler"
	"signserver/internal/logger"
	"signserver/internal/middleware"
	"signserver/internal/pipeline"
	"signserver/internal/repository"
	"signserver/internal/session"
	"signserver/internal/storage"
	"signserver/internal/stream"
)

// Deps are the services the routes are built on. Buffer, Repo, Hub and
// Broadcaster may be nil when the matching feature is disabled.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	Session     *session.Session
	Pipeline    *pipeline.Pipeline
	Buffer      *storage.BufferService
	Repo        repository.SnapshotRepository
	Hub         *stream.HubService
	Broadcaster *stream.Broadcaster
	Versions    func() (opencv, onnxruntime string)
}

// SetupRoutes registers the API endpoints and wraps the mux with CORS and
// request logging.
func SetupRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	cfg, l := d.Config, d.Logger

	mux.HandleFunc("/", handler.RootHandler(d.Session))
	mux.HandleFunc("/health", handler.HealthHandler(d.Session))

	// Recognition
	mux.HandleFunc("/detect", handler.DetectHandler(d.Pipeline, d.Session, d.Buffer, cfg, l))
	mux.HandleFunc("/test_detect", handler.TestDetectHandler(d.Pipeline, d.Session, l))
	mux.HandleFunc("/classify_action", handler.ClassifyActionHandler(d.Pipeline, cfg, l))

	// Model management
	mux.HandleFunc("/reload_model", handler.ReloadModelHandler(d.Session, l))
	mux.HandleFunc("/model_info", handler.ModelInfoHandler(d.Session))
	mux.HandleFunc("/model_version", handler.ModelVersionHandler(d.Versions))

	// Live view
	mux.HandleFunc("/video_feed", handler.VideoFeedHandler(d.Broadcaster, l))
	mux.HandleFunc("/ws/live", handler.ViewWebsocketHandler(d.Hub, l))

	// Snapshots
	mux.HandleFunc("/snapshots", handler.SnapshotsHandler(d.Repo, cfg, l))
	mux.HandleFunc("/snapshots/view", handler.ViewSnapshotHandler(cfg))
	mux.HandleFunc("/snapshots/clear", handler.ClearSnapshotsHandler(d.Repo, cfg, l))

	// Log endpoints
	for _, name := range logger.LogFiles {
		level := name[:len(name)-len(".log")]
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(l, name))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(l, name))
	}

	return middleware.CORSMiddleware(middleware.LoggingMiddleware(l, mux))
}
