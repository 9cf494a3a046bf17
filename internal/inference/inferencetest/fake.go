// Package inferencetest provides an in-memory Engine for tests.
package inferencetest

import (
	"errors"
	"sync"
	"sync/atomic"

	"signserver/internal/frame"
	"signserver/internal/inference"
	"signserver/internal/labels"
)

// Engine returns a fixed Result. Block, when set, is waited on inside Infer.
type Engine struct {
	Result   *inference.Result
	Err      error
	Labels   labels.Map
	Name     string
	Block    chan struct{}
	Entered  chan struct{}
	calls    atomic.Int32
	closed   atomic.Bool
	mu       sync.Mutex
	LastSize [2]int
}

func (e *Engine) Infer(f frame.Frame) (*inference.Result, error) {
	if e.closed.Load() {
		return nil, errors.New("engine closed")
	}
	e.calls.Add(1)
	e.mu.Lock()
	e.LastSize = [2]int{f.Width, f.Height}
	e.mu.Unlock()
	if e.Entered != nil {
		select {
		case e.Entered <- struct{}{}:
		default:
		}
	}
	if e.Block != nil {
		<-e.Block
	}
	return e.Result, e.Err
}

func (e *Engine) Classes() labels.Map {
	if e.Labels.Len() == 0 && e.Name != "empty" {
		return labels.Actions()
	}
	return e.Labels
}

func (e *Engine) Type() string {
	if e.Name == "" {
		return "fake"
	}
	return e.Name
}

func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *Engine) Calls() int   { return int(e.calls.Load()) }
func (e *Engine) Closed() bool { return e.closed.Load() }

// Size returns the dimensions of the last frame passed to Infer.
func (e *Engine) Size() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.LastSize[0], e.LastSize[1]
}

// Loader always returns engine.
func Loader(engine *Engine) inference.Loader {
	return func(string) (inference.Engine, error) { return engine, nil }
}

// Classification builds a classification result from probabilities.
func Classification(probs ...float32) *inference.Result {
	return &inference.Result{Kind: inference.KindClassification, Probs: probs}
}
