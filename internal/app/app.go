package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"signserver/internal/camera"
	"signserver/internal/config"
	"signserver/internal/inference/backend"
	"signserver/internal/landmark"
	"signserver/internal/logger"
	"signserver/internal/overlay"
	"signserver/internal/pipeline"
	"signserver/internal/preprocess"
	"signserver/internal/repository"
	"signserver/internal/route"
	"signserver/internal/session"
	"signserver/internal/storage"
	"signserver/internal/stream"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config        *config.Config
	logger        *logger.Logger
	session       *session.Session
	extractor     landmark.Extractor
	pipeline      *pipeline.Pipeline
	repo          repository.SnapshotRepository
	bufferService *storage.BufferService
	camera        *camera.Camera
	hubService    *stream.HubService
	broadcaster   *stream.Broadcaster
	live          *pipeline.Live
}

// NewApp wires every service from the environment. Optional parts (landmark
// worker, snapshot store, camera) are disabled with a warning when they
// cannot be started.
func NewApp(ctx context.Context) (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	a := &App{config: cfg, logger: log}

	a.session = session.New(backend.NewLoader(cfg, log), cfg.ModelPath, log)

	a.extractor = landmark.Noop{}
	if cfg.LandmarkWorker != "" {
		worker, err := landmark.NewWorker(cfg.LandmarkPython, cfg.LandmarkWorker)
		if err != nil {
			log.Warning("Landmark worker disabled: %v", err)
		} else {
			a.extractor = worker
		}
	}

	a.pipeline = pipeline.New(a.session, a.extractor, preprocess.New(cfg.InputWidth, cfg.InputHeight), log)

	if cfg.SnapshotEnabled {
		repo, err := repository.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warning("Snapshot metadata disabled: %v", err)
		} else {
			a.repo = repo
		}
		a.bufferService = storage.NewBufferService(cfg, log, a.repo)
	}

	if cfg.LiveEnabled() {
		cam, err := camera.Open(cfg.CameraDevice, cfg.LiveWidth, cfg.LiveHeight)
		if err != nil {
			log.Warning("Live view disabled: %v", err)
		} else {
			a.camera = cam
			a.hubService = stream.NewHubService(log)
			a.broadcaster = stream.NewBroadcaster()
			a.live = pipeline.NewLive(a.pipeline, cam, overlay.NewRenderer(), pipeline.LiveOptions{
				Width:       cfg.LiveWidth,
				Height:      cfg.LiveHeight,
				Interval:    cfg.ProcessingInterval,
				JPEGQuality: cfg.JPEGQuality,
			}, log, a.broadcaster, a.hubService)
		}
	}

	return a, nil
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	// the first model load runs in the background; /health reports progress
	a.session.Start()

	deps := route.Deps{
		Config:   a.config,
		Logger:   a.logger,
		Session:  a.session,
		Pipeline: a.pipeline,
		Buffer:   a.bufferService,
		Versions: backend.Versions,
	}
	if a.repo != nil {
		deps.Repo = a.repo
	}
	if a.live != nil {
		deps.Hub = a.hubService
		deps.Broadcaster = a.broadcaster
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           route.SetupRoutes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.bufferService != nil {
		g.Go(func() error {
			a.bufferService.Run(gctx, a.config.FlushInterval)
			return nil
		})
	}

	if a.live != nil {
		g.Go(func() error {
			a.hubService.Run(gctx)
			return nil
		})
		g.Go(func() error {
			a.runLive(gctx)
			return nil
		})
	}

	g.Go(func() error {
		a.logger.Info("Sign recognition server listening on %s", server.Addr)
		a.logger.Info("Model: %s, snapshots: %s, camera: %v", a.config.ModelPath, a.config.SnapshotDirectory, a.live != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("Shutting down server")
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// runLive keeps the camera loop from taking the server down with it. The
// camera is released as soon as the loop ends, whatever the reason.
func (a *App) runLive(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Live loop panic: %v", r)
		}
		if err := a.camera.Close(); err != nil {
			a.logger.Warning("Failed to release camera: %v", err)
		}
	}()

	if err := a.live.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Live loop ended: %v", err)
	}
}

func (a *App) close() {
	if a.camera != nil {
		a.camera.Close()
	}
	if err := a.extractor.Close(); err != nil {
		a.logger.Warning("Failed to stop landmark worker: %v", err)
	}
	if err := a.session.Close(); err != nil {
		a.logger.Warning("Failed to release model: %v", err)
	}
	if err := backend.Shutdown(); err != nil {
		a.logger.Warning("Failed to shut down onnxruntime: %v", err)
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.logger.Warning("Failed to close snapshot store: %v", err)
		}
	}
	a.logger.Info("Server stopped")
	a.logger.Close()
}
