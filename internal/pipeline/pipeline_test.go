package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signserver/internal/config"
	"signserver/internal/frame"
	"signserver/internal/inference"
	"signserver/internal/inference/inferencetest"
	"signserver/internal/labels"
	"signserver/internal/landmark"
	"signserver/internal/logger"
	"signserver/internal/preprocess"
	"signserver/internal/session"
	"signserver/internal/transport"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l := logger.NewLogger(&config.Config{LogDirectory: t.TempDir(), LogLevel: "debug"})
	t.Cleanup(func() { l.Close() })
	return l
}

type stubExtractor struct {
	set landmark.Set
	err error
}

func (s stubExtractor) Extract(frame.Frame) (landmark.Set, error) { return s.set, s.err }
func (s stubExtractor) Close() error                               { return nil }

type unavailableModel struct{}

func (unavailableModel) Infer(frame.Frame) (*inference.Result, error) {
	return nil, &session.UnavailableError{State: session.LoadFailed, Reason: "corrupt"}
}
func (unavailableModel) Classes() labels.Map { return labels.Actions() }

type panickingModel struct{}

func (panickingModel) Infer(frame.Frame) (*inference.Result, error) { panic("tensor shape mismatch") }
func (panickingModel) Classes() labels.Map                           { return labels.Actions() }

func TestProcessClassification(t *testing.T) {
	engine := &inferencetest.Engine{Result: inferencetest.Classification(0.1, 0.7, 0.2)}
	hand := landmark.Set{Hands: []landmark.Hand{{Points: []landmark.Point{{X: 0.5, Y: 0.5}}}}}
	p := New(engine, stubExtractor{set: hand}, preprocess.New(64, 64), testLogger(t))

	out, err := p.Process(context.Background(), frame.New(320, 240, frame.RGB), preprocess.Upload)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if w, h := engine.Size(); w != 64 || h != 64 {
		t.Errorf("model saw %dx%d, want 64x64", w, h)
	}
	if len(out.Detections) != 3 || out.Detections[0].ClassName != "Can" {
		t.Errorf("detections = %+v", out.Detections)
	}
	if len(out.Landmarks.Hands) != 1 {
		t.Errorf("landmarks = %+v", out.Landmarks)
	}
	if out.Width != 320 || out.Height != 240 || out.Kind != inference.KindClassification {
		t.Errorf("output = %+v", out)
	}
}

func TestProcessScalesBoxesToSource(t *testing.T) {
	engine := &inferencetest.Engine{Result: &inference.Result{Kind: inference.KindDetection, Boxes: []inference.Box{
		{XYXY: []float32{32, 32, 64, 64}, Conf: []float32{0.9}, Class: []float32{5}},
		{XYXY: []float32{0, 0, 1, 1}, Conf: []float32{2}, Class: []float32{1}},
	}}}
	p := New(engine, nil, preprocess.New(64, 64), testLogger(t))

	out, err := p.Process(context.Background(), frame.New(128, 256, frame.RGB), preprocess.Upload)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(out.Detections) != 1 || out.Skipped != 1 {
		t.Fatalf("detections=%d skipped=%d", len(out.Detections), out.Skipped)
	}
	got := *out.Detections[0].BBox
	want := [4]float32{64, 128, 128, 256}
	if got != want {
		t.Errorf("bbox = %v, want %v", got, want)
	}
	if engine.Result.Boxes[0].XYXY[0] != 32 {
		t.Error("engine result was mutated")
	}
}

func TestLandmarkFailureDoesNotFailFrame(t *testing.T) {
	engine := &inferencetest.Engine{Result: inferencetest.Classification(1)}
	p := New(engine, stubExtractor{err: errors.New("worker died")}, preprocess.New(0, 0), testLogger(t))

	out, err := p.Process(context.Background(), frame.New(8, 8, frame.BGR), preprocess.Camera)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !out.Landmarks.Empty() || len(out.Detections) != 1 {
		t.Errorf("output = %+v", out)
	}
}

func TestInferenceErrors(t *testing.T) {
	tests := []struct {
		name  string
		model Model
		check func(error) bool
	}{
		{"engine error", &inferencetest.Engine{Err: errors.New("onnx: bad input")}, func(err error) bool {
			var ie *InferenceError
			return errors.As(err, &ie) && ie.Stack != ""
		}},
		{"panic", panickingModel{}, func(err error) bool {
			var ie *InferenceError
			return errors.As(err, &ie) && ie.Stack != ""
		}},
		{"unavailable", unavailableModel{}, func(err error) bool {
			var ie *InferenceError
			return errors.Is(err, session.ErrModelUnavailable) && !errors.As(err, &ie)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.model, nil, preprocess.New(0, 0), testLogger(t))
			_, err := p.Process(context.Background(), frame.New(4, 4, frame.RGB), preprocess.Upload)
			if err == nil || !tt.check(err) {
				t.Errorf("err = %#v", err)
			}
		})
	}
}

func TestEmptyFrameIsDecodeError(t *testing.T) {
	engine := &inferencetest.Engine{Result: inferencetest.Classification(1)}
	p := New(engine, nil, preprocess.New(0, 0), testLogger(t))

	_, err := p.Process(context.Background(), frame.Frame{}, preprocess.Upload)
	if !transport.IsDecodeError(err) {
		t.Errorf("err = %v, want DecodeError", err)
	}
	if engine.Calls() != 0 {
		t.Error("model ran on an empty frame")
	}
}

type fakeCamera struct {
	mu     sync.Mutex
	frames int
	fail   bool
}

func (c *fakeCamera) Read() (frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return frame.Frame{}, errors.New("device gone")
	}
	c.frames++
	return frame.New(1280, 720, frame.BGR), nil
}

func (c *fakeCamera) Close() error { return nil }

type blankRenderer struct{}

func (blankRenderer) Render(w, h int, _ landmark.Set, _ []inference.DetectionRecord) (frame.Frame, error) {
	return frame.New(w, h, frame.BGR), nil
}

type collector struct {
	mu     sync.Mutex
	frames []LiveFrame
	enough chan struct{}
	want   int
}

func (c *collector) Publish(f LiveFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	if len(c.frames) == c.want {
		close(c.enough)
	}
}

func TestLiveProcessesEveryNthFrame(t *testing.T) {
	engine := &inferencetest.Engine{Result: inferencetest.Classification(0, 0, 0, 0, 0, 0.9)}
	p := New(engine, nil, preprocess.New(32, 32), testLogger(t))
	sink := &collector{enough: make(chan struct{}), want: 9}
	live := NewLive(p, &fakeCamera{}, blankRenderer{}, LiveOptions{Width: 64, Height: 48, Interval: 3, JPEGQuality: 80}, testLogger(t), sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- live.Run(ctx) }()

	select {
	case <-sink.enough:
	case <-time.After(5 * time.Second):
		t.Fatal("live loop produced too few frames")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}

	sink.mu.Lock()
	first := sink.frames[0]
	ninth := sink.frames[8]
	sink.mu.Unlock()

	if len(first.Detections) != 0 {
		t.Errorf("frame 1 should not be processed, got %+v", first.Detections)
	}
	if len(ninth.Detections) != 1 || ninth.Detections[0].ClassName != "Hello" {
		t.Errorf("frame 9 detections = %+v", ninth.Detections)
	}
	decoded, err := transport.DecodeBytes(ninth.JPEG)
	if err != nil || decoded.Width != 64 || decoded.Height != 48 {
		t.Errorf("live jpeg = %dx%d, %v", decoded.Width, decoded.Height, err)
	}
	if calls := engine.Calls(); calls < 3 {
		t.Errorf("engine calls = %d, want at least 3", calls)
	}
}

func TestLiveStopsOnDeadCamera(t *testing.T) {
	engine := &inferencetest.Engine{Result: inferencetest.Classification(1)}
	p := New(engine, nil, preprocess.New(0, 0), testLogger(t))
	live := NewLive(p, &fakeCamera{fail: true}, blankRenderer{}, LiveOptions{Interval: 1}, testLogger(t))

	err := live.Run(context.Background())
	if err == nil || errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want camera failure", err)
	}
}
