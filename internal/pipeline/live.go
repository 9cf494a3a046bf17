package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signserver/internal/frame"
	"signserver/internal/inference"
	"signserver/internal/landmark"
	"signserver/internal/logger"
	"signserver/internal/preprocess"
	"signserver/internal/session"
	"signserver/internal/transport"
)

// maxReadFailures consecutive camera errors end the live loop.
const maxReadFailures = 50

// Capturer yields BGR frames from a camera.
type Capturer interface {
	Read() (frame.Frame, error)
	Close() error
}

// Renderer draws keypoints and boxes onto a black canvas of the given size.
type Renderer interface {
	Render(width, height int, set landmark.Set, detections []inference.DetectionRecord) (frame.Frame, error)
}

// LiveFrame is one rendered overlay ready for viewers.
type LiveFrame struct {
	JPEG       []byte
	Detections []inference.DetectionRecord
	Landmarks  landmark.Set
	Timestamp  time.Time
}

type Publisher interface {
	Publish(f LiveFrame)
}

type LiveOptions struct {
	Width       int
	Height      int
	Interval    int // run the pipeline on every Nth frame
	JPEGQuality int
}

// Live drives the camera loop: every frame is resized and rendered, every
// Interval-th frame also goes through the pipeline.
type Live struct {
	pipeline   *Pipeline
	camera     Capturer
	renderer   Renderer
	opts       LiveOptions
	publishers []Publisher
	logger     *logger.Logger
}

func NewLive(p *Pipeline, camera Capturer, renderer Renderer, opts LiveOptions, logger *logger.Logger, publishers ...Publisher) *Live {
	if opts.Interval <= 0 {
		opts.Interval = 1
	}
	return &Live{
		pipeline:   p,
		camera:     camera,
		renderer:   renderer,
		opts:       opts,
		publishers: publishers,
		logger:     logger,
	}
}

// Run loops until ctx is cancelled or the camera keeps failing.
func (l *Live) Run(ctx context.Context) error {
	l.logger.Info("Live loop started (%dx%d, every %d. frame)", l.opts.Width, l.opts.Height, l.opts.Interval)

	var (
		count    int
		failures int
		last     = &Output{Detections: []inference.DetectionRecord{}}
	)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Live loop stopped")
			return ctx.Err()
		default:
		}

		raw, err := l.camera.Read()
		if err != nil || raw.Empty() {
			failures++
			if failures >= maxReadFailures {
				return fmt.Errorf("camera read failed %d times: %v", failures, err)
			}
			l.logger.Warning("Camera read failed: %v", err)
			time.Sleep(20 * time.Millisecond)
			continue
		}
		failures = 0
		count++

		if l.opts.Width > 0 && l.opts.Height > 0 && (raw.Width != l.opts.Width || raw.Height != l.opts.Height) {
			raw = raw.Resize(l.opts.Width, l.opts.Height)
		}

		if count%l.opts.Interval == 0 {
			out, err := l.pipeline.Process(ctx, raw, preprocess.Camera)
			switch {
			case err == nil:
				last = out
			case errors.Is(err, session.ErrModelUnavailable):
				l.logger.Debug("Live frame skipped: %v", err)
			case errors.Is(err, context.Canceled):
				continue
			default:
				l.logger.Warning("Live frame failed: %v", err)
			}
		}

		if err := l.publish(raw.Width, raw.Height, last); err != nil {
			l.logger.Warning("Failed to render live frame: %v", err)
		}
	}
}

func (l *Live) publish(width, height int, out *Output) error {
	canvas, err := l.renderer.Render(width, height, out.Landmarks, out.Detections)
	if err != nil {
		return err
	}
	data, err := transport.EncodeJPEG(canvas, l.opts.JPEGQuality)
	if err != nil {
		return err
	}
	lf := LiveFrame{
		JPEG:       data,
		Detections: out.Detections,
		Landmarks:  out.Landmarks,
		Timestamp:  time.Now(),
	}
	for _, p := range l.publishers {
		p.Publish(lf)
	}
	return nil
}
