// Package onnx runs exported models with ONNX Runtime.
package onnx

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"signserver/internal/frame"
	"signserver/internal/inference"
	"signserver/internal/labels"
)

var (
	envMu   sync.Mutex
	envInit bool
)

// Init loads the shared library (when libPath is set) and initializes the
// runtime environment once per process.
func Init(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envInit {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	envInit = true
	return nil
}

// Shutdown releases the runtime environment. Engines must be closed first.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !envInit {
		return nil
	}
	envInit = false
	return ort.DestroyEnvironment()
}

// Version reports the runtime version, or "" before Init.
func Version() string {
	envMu.Lock()
	defer envMu.Unlock()
	if !envInit {
		return ""
	}
	return ort.GetVersion()
}

// Engine owns one AdvancedSession with preallocated tensors.
type Engine struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	md           inference.Metadata
	classes      labels.Map
	conf         float32
	iou          float32
}

// Open creates a session for modelPath. conf and iou apply to detection models.
func Open(libPath, modelPath string, md inference.Metadata, conf, iou float32) (*Engine, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	if err := Init(libPath); err != nil {
		return nil, err
	}

	outShape := md.OutputShape
	if len(outShape) == 0 {
		if md.Task == inference.TaskDetect {
			return nil, fmt.Errorf("detection model metadata needs output_shape")
		}
		outShape = []int64{1, int64(len(md.Classes))}
	}
	if md.Task == inference.TaskDetect && (len(outShape) != 3 || outShape[1] <= 4) {
		return nil, fmt.Errorf("detection output_shape must be [1, 4+classes, anchors], got %v", outShape)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(md.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{md.InputName}, []string{md.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	md.OutputShape = outShape
	return &Engine{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		md:           md,
		classes:      md.Labels(),
		conf:         conf,
		iou:          iou,
	}, nil
}

func (e *Engine) Infer(f frame.Frame) (*inference.Result, error) {
	if f.Empty() {
		return nil, frame.ErrEmptyFrame
	}
	w, h := e.md.InputSize()
	input := f
	if f.Width != w || f.Height != h {
		input = f.Resize(w, h)
	}
	copy(e.inputTensor.GetData(), input.CHW())

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := e.outputTensor.GetData()
	if e.md.Task == inference.TaskDetect {
		rows, anchors := e.md.OutputShape[1], e.md.OutputShape[2]
		boxes := inference.DecodeYOLO(out, int(rows)-4, int(anchors), e.conf)
		boxes = inference.NMS(boxes, e.iou)
		return &inference.Result{
			Kind:  inference.KindDetection,
			Boxes: inference.ScaleBoxes(boxes, w, h, f.Width, f.Height),
		}, nil
	}

	probs := make([]float32, len(out))
	copy(probs, out)
	if e.md.ApplySoftmax {
		probs = inference.Softmax(probs)
	}
	return &inference.Result{Kind: inference.KindClassification, Probs: probs}, nil
}

func (e *Engine) Classes() labels.Map {
	return e.classes
}

func (e *Engine) Type() string {
	return "onnxruntime/" + e.md.Task
}

func (e *Engine) Close() error {
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
