package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"signserver/internal/config"
	"signserver/internal/frame"
	"signserver/internal/inference"
	"signserver/internal/inference/inferencetest"
	"signserver/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l := logger.NewLogger(&config.Config{LogDirectory: t.TempDir(), LogLevel: "info"})
	t.Cleanup(func() { l.Close() })
	return l
}

func modelFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("model"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadReady(t *testing.T) {
	engine := &inferencetest.Engine{Result: inferencetest.Classification(0.9, 0.1)}
	s := New(inferencetest.Loader(engine), modelFile(t, "best.onnx"), testLogger(t))

	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	st := s.Status()
	if st.State != Ready || !st.Loaded {
		t.Fatalf("status = %+v", st)
	}
	if w, h := engine.Size(); w != SmokeSize || h != SmokeSize {
		t.Errorf("smoke frame = %dx%d, want %dx%d", w, h, SmokeSize, SmokeSize)
	}
	res, err := s.Infer(frame.New(4, 4, frame.RGB))
	if err != nil || res.Kind != inference.KindClassification {
		t.Errorf("Infer = %+v, %v", res, err)
	}
}

func TestLoadFailedCases(t *testing.T) {
	tests := []struct {
		name   string
		path   func(t *testing.T) string
		loader inference.Loader
	}{
		{
			name:   "missing file",
			path:   func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.onnx") },
			loader: inferencetest.Loader(&inferencetest.Engine{}),
		},
		{
			name: "loader error",
			path: func(t *testing.T) string { return modelFile(t, "m.onnx") },
			loader: func(string) (inference.Engine, error) {
				return nil, errors.New("corrupt model")
			},
		},
		{
			name:   "no classes",
			path:   func(t *testing.T) string { return modelFile(t, "m.onnx") },
			loader: inferencetest.Loader(&inferencetest.Engine{Name: "empty"}),
		},
		{
			name:   "smoke inference fails",
			path:   func(t *testing.T) string { return modelFile(t, "m.onnx") },
			loader: inferencetest.Loader(&inferencetest.Engine{Err: errors.New("bad shape")}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.loader, tt.path(t), testLogger(t))

			if err := s.Load(); err == nil {
				t.Fatal("expected load error")
			}
			st := s.Status()
			if st.State != LoadFailed || st.Loaded || st.Error == "" {
				t.Errorf("status = %+v", st)
			}

			_, err := s.Infer(frame.New(2, 2, frame.RGB))
			if !errors.Is(err, ErrModelUnavailable) {
				t.Errorf("Infer err = %v, want ErrModelUnavailable", err)
			}
			var ue *UnavailableError
			if !errors.As(err, &ue) || ue.State != LoadFailed {
				t.Errorf("unavailable error = %#v", err)
			}
		})
	}
}

func TestUninitializedIsUnavailable(t *testing.T) {
	s := New(inferencetest.Loader(&inferencetest.Engine{}), "best.onnx", testLogger(t))

	_, err := s.Infer(frame.New(2, 2, frame.RGB))
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if s.Status().State != Uninitialized {
		t.Errorf("state = %v", s.Status().State)
	}
}

func TestStartLoadsInBackground(t *testing.T) {
	engine := &inferencetest.Engine{Result: inferencetest.Classification(1)}
	s := New(inferencetest.Loader(engine), modelFile(t, "best.onnx"), testLogger(t))

	s.Start()
	s.Wait()

	if st := s.Status(); st.State != Ready || st.Loading {
		t.Errorf("status = %+v", st)
	}
}

func TestReloadMissingPathLeavesModelServing(t *testing.T) {
	engine := &inferencetest.Engine{Result: inferencetest.Classification(1)}
	path := modelFile(t, "best.onnx")
	s := New(inferencetest.Loader(engine), path, testLogger(t))
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	err := s.Reload(filepath.Join(t.TempDir(), "gone.onnx"))
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("err = %v, want ErrModelNotFound", err)
	}
	if st := s.Status(); st.State != Ready || st.ModelPath != path {
		t.Errorf("status changed: %+v", st)
	}
}

func TestReloadSwapsAndRetiresOldHandle(t *testing.T) {
	first := &inferencetest.Engine{Result: inferencetest.Classification(1)}
	second := &inferencetest.Engine{Result: inferencetest.Classification(0, 1), Name: "second"}
	engines := map[string]*inferencetest.Engine{}

	firstPath := modelFile(t, "a.onnx")
	secondPath := modelFile(t, "b.onnx")
	engines[firstPath] = first
	engines[secondPath] = second
	loader := func(path string) (inference.Engine, error) { return engines[path], nil }

	s := New(loader, firstPath, testLogger(t))
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	if err := s.Reload(secondPath); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	s.Wait()

	st := s.Status()
	if st.ModelPath != secondPath || st.ModelType != "second" {
		t.Errorf("status = %+v", st)
	}
	if !first.Closed() {
		t.Error("previous engine was not released")
	}
	if second.Closed() {
		t.Error("new engine closed")
	}
}

func TestFailedReloadKeepsPreviousHandle(t *testing.T) {
	good := &inferencetest.Engine{Result: inferencetest.Classification(1)}
	goodPath := modelFile(t, "good.onnx")
	badPath := modelFile(t, "bad.onnx")
	loader := func(path string) (inference.Engine, error) {
		if path == badPath {
			return nil, errors.New("truncated file")
		}
		return good, nil
	}

	s := New(loader, goodPath, testLogger(t))
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(badPath); err != nil {
		t.Fatal(err)
	}
	s.Wait()

	st := s.Status()
	if st.State != Ready || st.ModelPath != goodPath || st.Error == "" {
		t.Errorf("status = %+v", st)
	}
	if good.Closed() {
		t.Error("serving engine was closed by a failed reload")
	}
	if _, err := s.Infer(frame.New(2, 2, frame.RGB)); err != nil {
		t.Errorf("Infer after failed reload: %v", err)
	}
}

func TestConcurrentReloadRejected(t *testing.T) {
	release := make(chan struct{})
	slow := &inferencetest.Engine{Result: inferencetest.Classification(1), Block: release, Entered: make(chan struct{}, 1)}
	path := modelFile(t, "slow.onnx")
	s := New(inferencetest.Loader(slow), path, testLogger(t))

	if err := s.Reload(path); err != nil {
		t.Fatal(err)
	}
	select {
	case <-slow.Entered:
	case <-time.After(2 * time.Second):
		t.Fatal("smoke inference never started")
	}

	if err := s.Reload(path); !errors.Is(err, ErrAlreadyLoading) {
		t.Errorf("second reload err = %v, want ErrAlreadyLoading", err)
	}
	if st := s.Status(); st.State != ModelLoading || !st.Loading {
		t.Errorf("status while loading = %+v", st)
	}
	_, err := s.Infer(frame.New(2, 2, frame.RGB))
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.State != ModelLoading {
		t.Errorf("Infer while loading = %v", err)
	}

	close(release)
	s.Wait()
	if s.Status().State != Ready {
		t.Errorf("state = %v after load", s.Status().State)
	}
}

func TestInFlightInferenceFinishesBeforeRetire(t *testing.T) {
	release := make(chan struct{})
	old := &inferencetest.Engine{Result: inferencetest.Classification(1)}
	next := &inferencetest.Engine{Result: inferencetest.Classification(1)}
	oldPath := modelFile(t, "old.onnx")
	nextPath := modelFile(t, "next.onnx")
	loader := func(path string) (inference.Engine, error) {
		if path == oldPath {
			return old, nil
		}
		return next, nil
	}
	s := New(loader, oldPath, testLogger(t))
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	old.Block = release
	old.Entered = make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		_, err := s.Infer(frame.New(2, 2, frame.RGB))
		done <- err
	}()
	<-old.Entered

	if err := s.Reload(nextPath); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	if old.Closed() {
		t.Fatal("old engine closed while an inference was in flight")
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("in-flight inference failed: %v", err)
	}
	s.Wait()
	if !old.Closed() {
		t.Error("old engine not released after in-flight call returned")
	}
}

func TestCloseReleasesEngine(t *testing.T) {
	engine := &inferencetest.Engine{Result: inferencetest.Classification(1)}
	s := New(inferencetest.Loader(engine), modelFile(t, "best.onnx"), testLogger(t))
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !engine.Closed() {
		t.Error("engine not closed")
	}
	if _, err := s.Infer(frame.New(2, 2, frame.RGB)); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("Infer after Close = %v", err)
	}
}
