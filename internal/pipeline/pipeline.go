// Package pipeline runs one frame through preprocessing, landmark extraction
// and model inference, and aggregates the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"signserver/internal/frame"
	"signserver/internal/inference"
	"signserver/internal/labels"
	"signserver/internal/landmark"
	"signserver/internal/logger"
	"signserver/internal/preprocess"
	"signserver/internal/session"
	"signserver/internal/transport"
)

// Model is the part of session.Session the pipeline needs.
type Model interface {
	Infer(f frame.Frame) (*inference.Result, error)
	Classes() labels.Map
}

// InferenceError wraps an engine failure with the stack where it surfaced.
type InferenceError struct {
	Err   error
	Stack string
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("Model inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Output is the aggregated result for one frame. Boxes are in the
// coordinates of the frame passed to Process.
type Output struct {
	Detections []inference.DetectionRecord `json:"detections"`
	Landmarks  landmark.Set                `json:"landmarks"`
	Kind       inference.Kind              `json:"-"`
	Skipped    int                         `json:"-"`
	Width      int                         `json:"-"`
	Height     int                         `json:"-"`
	Timestamp  time.Time                   `json:"-"`
}

type Pipeline struct {
	model     Model
	extractor landmark.Extractor
	pre       preprocess.Preprocessor
	logger    *logger.Logger
}

func New(model Model, extractor landmark.Extractor, pre preprocess.Preprocessor, logger *logger.Logger) *Pipeline {
	if extractor == nil {
		extractor = landmark.Noop{}
	}
	return &Pipeline{
		model:     model,
		extractor: extractor,
		pre:       pre,
		logger:    logger,
	}
}

// HasExtractor reports whether a real landmark extractor is configured.
func (p *Pipeline) HasExtractor() bool {
	_, noop := p.extractor.(landmark.Noop)
	return !noop
}

// Process runs landmarks and inference in parallel on the prepared frame.
// A landmark failure is logged and yields no landmarks; an inference failure
// fails the frame.
func (p *Pipeline) Process(ctx context.Context, src frame.Frame, source preprocess.Source) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prepared, err := p.pre.Prepare(src, source)
	if err != nil {
		return nil, &transport.DecodeError{Err: transport.ErrDecodeFailure, Cause: err}
	}

	var (
		set landmark.Set
		res *inference.Result
	)
	var g errgroup.Group

	g.Go(func() error {
		s, err := p.extractor.Extract(prepared)
		if err != nil {
			p.logger.Warning("Landmark extraction failed: %v", err)
			return nil
		}
		set = s
		return nil
	})

	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &InferenceError{Err: fmt.Errorf("panic: %v", r), Stack: string(debug.Stack())}
			}
		}()
		r, err := p.model.Infer(prepared)
		if err != nil {
			return err
		}
		res = r
		return nil
	})

	if err := g.Wait(); err != nil {
		var ie *InferenceError
		switch {
		case errors.Is(err, session.ErrModelUnavailable), errors.As(err, &ie):
			return nil, err
		}
		return nil, &InferenceError{Err: err, Stack: string(debug.Stack())}
	}

	out := &Output{
		Landmarks: set,
		Width:     src.Width,
		Height:    src.Height,
		Timestamp: time.Now(),
	}
	if res != nil {
		out.Kind = res.Kind
		if res.Kind == inference.KindDetection {
			res = &inference.Result{
				Kind:  res.Kind,
				Boxes: inference.ScaleBoxes(res.Boxes, prepared.Width, prepared.Height, src.Width, src.Height),
			}
		}
	}

	records, skipped := inference.NewNormalizer(p.model.Classes()).Normalize(res)
	for _, s := range skipped {
		p.logger.Warning("Detection %v", s)
	}
	out.Detections = records
	out.Skipped = len(skipped)

	p.logger.Debug("Processed %s frame %dx%d: %d detections, %d hands, %d faces",
		source, src.Width, src.Height, len(records), len(set.Hands), len(set.Faces))
	return out, nil
}
