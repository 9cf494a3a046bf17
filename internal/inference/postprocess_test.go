package inference

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestSoftmax(t *testing.T) {
	out := Softmax([]float32{1, 2, 3})

	var sum float32
	for _, v := range out {
		sum += v
	}
	if math.Abs(float64(sum-1)) > 1e-5 {
		t.Errorf("sum = %v, want 1", sum)
	}
	if !(out[2] > out[1] && out[1] > out[0]) {
		t.Errorf("order not preserved: %v", out)
	}
}

func TestDecodeYOLO(t *testing.T) {
	// 2 classes, 3 anchors; rows: cx, cy, w, h, score0, score1
	output := []float32{
		100, 50, 10, // cx
		100, 50, 10, // cy
		20, 10, 4, // w
		40, 10, 4, // h
		0.9, 0.1, 0.2, // class 0
		0.05, 0.7, 0.1, // class 1
	}

	boxes := DecodeYOLO(output, 2, 3, 0.5)

	if len(boxes) != 2 {
		t.Fatalf("got %d boxes, want 2", len(boxes))
	}
	if boxes[0].Class[0] != 0 || boxes[0].XYXY[0] != 90 || boxes[0].XYXY[3] != 120 {
		t.Errorf("box 0 = %+v", boxes[0])
	}
	if boxes[1].Class[0] != 1 || boxes[1].Conf[0] != 0.7 {
		t.Errorf("box 1 = %+v", boxes[1])
	}
	if DecodeYOLO(output[:5], 2, 3, 0.5) != nil {
		t.Error("short output should decode to nil")
	}
}

func TestNMS(t *testing.T) {
	boxes := []Box{
		{XYXY: []float32{0, 0, 10, 10}, Conf: []float32{0.8}, Class: []float32{1}},
		{XYXY: []float32{1, 1, 10, 10}, Conf: []float32{0.9}, Class: []float32{1}},
		{XYXY: []float32{1, 1, 10, 10}, Conf: []float32{0.6}, Class: []float32{2}},
		{XYXY: []float32{50, 50, 60, 60}, Conf: []float32{0.5}, Class: []float32{1}},
	}

	kept := NMS(boxes, 0.5)

	if len(kept) != 3 {
		t.Fatalf("kept %d boxes, want 3", len(kept))
	}
	if kept[0].Conf[0] != 0.9 {
		t.Errorf("highest score should survive first, got %v", kept[0].Conf[0])
	}
}

func TestScaleBoxes(t *testing.T) {
	boxes := []Box{
		{XYXY: []float32{320, 320, 700, 640}, Conf: []float32{1}, Class: []float32{0}},
		{XYXY: []float32{1, 2}},
	}

	out := ScaleBoxes(boxes, 640, 640, 1280, 320)

	want := []float32{640, 160, 1280, 320}
	for i, v := range want {
		if out[0].XYXY[i] != v {
			t.Fatalf("scaled = %v, want %v", out[0].XYXY, want)
		}
	}
	if len(out[1].XYXY) != 2 {
		t.Error("malformed box should pass through untouched")
	}
	if boxes[0].XYXY[0] != 320 {
		t.Error("input boxes were mutated")
	}
}

func TestLoadMetadata(t *testing.T) {
	dir := t.TempDir()

	md, err := LoadMetadata(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if md.Task != TaskClassify || len(md.Classes) != 21 {
		t.Errorf("default metadata = %+v", md)
	}

	path := filepath.Join(dir, "model.json")
	os.WriteFile(path, []byte(`{"task":"detect","input_shape":[1,3,320,416],"classes":["A","B"]}`), 0644)
	md, err = LoadMetadata(path)
	if err != nil {
		t.Fatalf("LoadMetadata: %v", err)
	}
	if w, h := md.InputSize(); w != 416 || h != 320 {
		t.Errorf("InputSize = %dx%d", w, h)
	}
	if md.Labels().Name(1) != "B" {
		t.Errorf("labels = %v", md.Labels().Sorted())
	}

	if md.OutputShape != nil {
		t.Errorf("detect sidecar without output_shape kept %v", md.OutputShape)
	}

	os.WriteFile(path, []byte(`{"task":"classify","classes":["A","B","C"]}`), 0644)
	md, err = LoadMetadata(path)
	if err != nil {
		t.Fatalf("LoadMetadata: %v", err)
	}
	if len(md.OutputShape) != 0 || len(md.Classes) != 3 {
		t.Errorf("classify sidecar: classes=%d output_shape=%v, want shape left for the engine to derive", len(md.Classes), md.OutputShape)
	}

	os.WriteFile(path, []byte(`{"classes":[]}`), 0644)
	if _, err := LoadMetadata(path); err != ErrEmptyClasses {
		t.Errorf("err = %v, want ErrEmptyClasses", err)
	}
}

func TestMetadataPathFor(t *testing.T) {
	if got := MetadataPathFor("models/best.onnx", ""); got != "models/best.json" {
		t.Errorf("got %q", got)
	}
	if got := MetadataPathFor("best.onnx", "meta.json"); got != "meta.json" {
		t.Errorf("got %q", got)
	}
}
