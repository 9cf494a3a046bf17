// Package session owns the loaded recognition model and swaps it on reload
// without blocking requests that are already running.
package session

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"signserver/internal/frame"
	"signserver/internal/inference"
	"signserver/internal/labels"
	"signserver/internal/logger"
)

// State of the session's model lifecycle.
type State int

const (
	Uninitialized State = iota
	ModelLoading
	Ready
	LoadFailed
)

func (s State) String() string {
	switch s {
	case ModelLoading:
		return "loading"
	case Ready:
		return "ready"
	case LoadFailed:
		return "load_failed"
	default:
		return "uninitialized"
	}
}

// SmokeSize is the side of the blank frame used to verify a freshly loaded model.
const SmokeSize = 640

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrAlreadyLoading   = errors.New("model is already loading")
	ErrModelNotFound    = errors.New("model file not found")
)

// UnavailableError is returned by Infer when no usable model is loaded.
type UnavailableError struct {
	State  State
	Reason string
}

func (e *UnavailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("model unavailable (%s): %s", e.State, e.Reason)
	}
	return fmt.Sprintf("model unavailable (%s)", e.State)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrModelUnavailable
}

// Status is a point-in-time view of the session.
type Status struct {
	State     State
	Loading   bool
	ModelPath string
	Loaded    bool
	Error     string
	ModelType string
	Classes   labels.Map
	LoadedAt  time.Time
}

// handle is one loaded engine. The mutex serializes inference on the engine
// and lets retire wait for the in-flight call before closing it.
type handle struct {
	engine   inference.Engine
	path     string
	loadedAt time.Time
	mu       sync.Mutex
	closed   bool
}

func (h *handle) infer(f frame.Frame) (*inference.Result, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false, nil
	}
	res, err := h.engine.Infer(f)
	return res, true, err
}

func (h *handle) retire() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.engine.Close()
}

type Session struct {
	loader inference.Loader
	logger *logger.Logger

	active  atomic.Pointer[handle]
	loading atomic.Bool
	wg      sync.WaitGroup

	mu      sync.Mutex
	state   State
	path    string
	lastErr error
}

// New creates an Uninitialized session for the model at path.
func New(loader inference.Loader, path string, logger *logger.Logger) *Session {
	return &Session{
		loader: loader,
		logger: logger,
		path:   path,
	}
}

// Load performs the initial load synchronously.
func (s *Session) Load() error {
	if !s.loading.CompareAndSwap(false, true) {
		return ErrAlreadyLoading
	}
	defer s.loading.Store(false)
	return s.load(s.ModelPath())
}

// Start performs the initial load in the background.
func (s *Session) Start() {
	if !s.loading.CompareAndSwap(false, true) {
		return
	}
	path := s.ModelPath()
	s.setState(ModelLoading, nil)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.loading.Store(false)
		s.load(path)
	}()
}

// Reload loads path (or the current path when empty) in the background and
// swaps it in once ready. A missing file is rejected before anything changes.
func (s *Session) Reload(path string) error {
	if path == "" {
		path = s.ModelPath()
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w at %s", ErrModelNotFound, path)
	}
	if !s.loading.CompareAndSwap(false, true) {
		return ErrAlreadyLoading
	}

	if s.active.Load() == nil {
		s.setState(ModelLoading, nil)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.loading.Store(false)
		s.load(path)
	}()
	return nil
}

func (s *Session) load(path string) error {
	s.logger.Info("Loading model from %s", path)
	started := time.Now()

	h, err := s.open(path)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		if s.active.Load() == nil {
			s.state = LoadFailed
			s.path = path
		}
		s.mu.Unlock()
		s.logger.Error("Failed to load model %s: %v", path, err)
		return err
	}

	old := s.active.Swap(h)
	s.mu.Lock()
	s.state = Ready
	s.path = path
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("Model %s ready (%s, %d classes) in %v", path, h.engine.Type(), h.engine.Classes().Len(), time.Since(started).Round(time.Millisecond))

	if old != nil {
		if err := old.retire(); err != nil {
			s.logger.Warning("Failed to release previous model %s: %v", old.path, err)
		}
	}
	return nil
}

// open loads the engine and runs the mandatory smoke inference.
func (s *Session) open(path string) (*handle, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w at %s", ErrModelNotFound, path)
	}
	engine, err := s.loader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	if engine.Classes().Len() == 0 {
		engine.Close()
		return nil, inference.ErrEmptyClasses
	}
	if _, err := engine.Infer(frame.New(SmokeSize, SmokeSize, frame.RGB)); err != nil {
		engine.Close()
		return nil, fmt.Errorf("smoke inference failed: %w", err)
	}
	return &handle{engine: engine, path: path, loadedAt: time.Now()}, nil
}

// Infer runs the active model. It never waits for a reload in progress.
func (s *Session) Infer(f frame.Frame) (*inference.Result, error) {
	for {
		h := s.active.Load()
		if h == nil {
			return nil, s.unavailable()
		}
		res, ok, err := h.infer(f)
		if !ok {
			// retired between Load and infer; pick up the replacement
			continue
		}
		return res, err
	}
}

func (s *Session) unavailable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason := ""
	if s.lastErr != nil {
		reason = s.lastErr.Error()
	}
	return &UnavailableError{State: s.state, Reason: reason}
}

// Classes returns the active model's labels, or the action vocabulary when no
// model is loaded.
func (s *Session) Classes() labels.Map {
	if h := s.active.Load(); h != nil {
		return h.engine.Classes()
	}
	return labels.Actions()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		State:     s.state,
		Loading:   s.loading.Load(),
		ModelPath: s.path,
		Classes:   labels.Actions(),
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	s.mu.Unlock()

	if h := s.active.Load(); h != nil {
		st.Loaded = true
		st.ModelType = h.engine.Type()
		st.Classes = h.engine.Classes()
		st.LoadedAt = h.loadedAt
	}
	return st
}

func (s *Session) ModelPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Session) setState(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.lastErr = err
	s.mu.Unlock()
}

// Wait blocks until background loads finish.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close waits for pending loads and releases the active model.
func (s *Session) Close() error {
	s.wg.Wait()
	h := s.active.Swap(nil)
	s.setState(Uninitialized, nil)
	if h != nil {
		return h.retire()
	}
	return nil
}
