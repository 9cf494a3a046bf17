// Package dnn runs ONNX models through OpenCV's DNN module.
package dnn

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"signserver/internal/cvmat"
	"signserver/internal/frame"
	"signserver/internal/inference"
	"signserver/internal/labels"
)

type Engine struct {
	net     gocv.Net
	md      inference.Metadata
	classes labels.Map
	conf    float32
	iou     float32
}

// Open loads the network and sets backend/target preferences.
func Open(modelPath string, md inference.Metadata, conf, iou float32) (*Engine, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", modelPath)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}

	return &Engine{
		net:     net,
		md:      md,
		classes: md.Labels(),
		conf:    conf,
		iou:     iou,
	}, nil
}

func (e *Engine) Infer(f frame.Frame) (*inference.Result, error) {
	mat, err := cvmat.ToMat(f)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	w, h := e.md.InputSize()
	// ToMat yields BGR; swapRB feeds the network RGB
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(w, h), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}
	values := make([]float32, len(data))
	copy(values, data)

	if e.md.Task != inference.TaskDetect {
		if e.md.ApplySoftmax {
			values = inference.Softmax(values)
		}
		return &inference.Result{Kind: inference.KindClassification, Probs: values}, nil
	}

	rows, anchors, err := detectionLayout(output.Size(), e.classes.Len())
	if err != nil {
		return nil, err
	}
	if rows != 4+e.classes.Len() {
		values = transpose(values, rows, anchors)
		rows, anchors = anchors, rows
	}

	boxes := inference.DecodeYOLO(values, rows-4, anchors, e.conf)
	boxes = inference.NMS(boxes, e.iou)
	return &inference.Result{
		Kind:  inference.KindDetection,
		Boxes: inference.ScaleBoxes(boxes, w, h, f.Width, f.Height),
	}, nil
}

// detectionLayout accepts [1, 4+classes, anchors] and the transposed
// [1, anchors, 4+classes] export.
func detectionLayout(size []int, numClasses int) (int, int, error) {
	if len(size) != 3 {
		return 0, 0, fmt.Errorf("unexpected detection output shape %v", size)
	}
	switch {
	case size[1] == 4+numClasses:
		return size[1], size[2], nil
	case size[2] == 4+numClasses:
		return size[1], size[2], nil
	}
	return 0, 0, fmt.Errorf("detection output shape %v does not match %d classes", size, numClasses)
}

// transpose swaps a rows x cols matrix stored row-major.
func transpose(v []float32, rows, cols int) []float32 {
	out := make([]float32, len(v))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = v[r*cols+c]
		}
	}
	return out
}

func (e *Engine) Classes() labels.Map {
	return e.classes
}

func (e *Engine) Type() string {
	return "opencv-dnn/" + e.md.Task
}

func (e *Engine) Close() error {
	return e.net.Close()
}

// Version returns the linked OpenCV version.
func Version() string {
	return gocv.OpenCVVersion()
}
