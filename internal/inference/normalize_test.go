package inference

import (
	"math"
	"testing"

	"signserver/internal/labels"
)

func TestClassificationTopFirst(t *testing.T) {
	n := NewNormalizer(labels.Actions())

	records, skipped := n.Normalize(&Result{Kind: KindClassification, Probs: []float32{0.7, 0.2, 0.05, 0.05}})

	if len(skipped) != 0 {
		t.Fatalf("unexpected skips: %v", skipped)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want 4", len(records))
	}
	if records[0].ClassID != 0 || math.Abs(records[0].Confidence-0.7) > 1e-6 {
		t.Errorf("top record = %+v", records[0])
	}
	if records[0].ClassName != "Are" {
		t.Errorf("class name = %q, want Are", records[0].ClassName)
	}
	// ties keep the lower index first
	if records[2].ClassID != 2 || records[3].ClassID != 3 {
		t.Errorf("tie order = %d,%d, want 2,3", records[2].ClassID, records[3].ClassID)
	}
	for _, r := range records {
		if r.BBox != nil {
			t.Errorf("classification record has bbox: %+v", r)
		}
	}
}

func TestClassificationTopKAndThreshold(t *testing.T) {
	n := NewNormalizer(labels.Actions())
	probs := []float32{0.001, 0.3, 0.25, 0.2, 0.1, 0.08, 0.05, 0.009, float32(math.NaN())}

	records, _ := n.Normalize(&Result{Kind: KindClassification, Probs: probs})

	if len(records) != 5 {
		t.Fatalf("got %d records, want 5", len(records))
	}
	want := []int{1, 2, 3, 4, 5}
	for i, id := range want {
		if records[i].ClassID != id {
			t.Errorf("records[%d].ClassID = %d, want %d", i, records[i].ClassID, id)
		}
	}

	low, _ := n.Normalize(&Result{Kind: KindClassification, Probs: []float32{0.01, 0.005}})
	if len(low) != 0 {
		t.Errorf("records at or below 0.01 should be dropped, got %v", low)
	}
}

func TestDetectionSkipsMalformedBox(t *testing.T) {
	n := NewNormalizer(labels.Actions())
	res := &Result{Kind: KindDetection, Boxes: []Box{
		{XYXY: []float32{1, 2, 30, 40}, Conf: []float32{0.9}, Class: []float32{5}},
		{XYXY: []float32{1, 2, 30, 40}, Conf: []float32{float32(math.NaN())}, Class: []float32{6}},
		{XYXY: []float32{5, 5, 10, 10}, Conf: []float32{0.6}, Class: []float32{99}},
	}}

	records, skipped := n.Normalize(res)

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if len(skipped) != 1 || skipped[0].Index != 1 {
		t.Fatalf("skipped = %v, want box 1", skipped)
	}
	if records[0].ClassName != "Hello" || records[0].BBox == nil || records[0].BBox[2] != 30 {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].ClassName != "unknown_99" {
		t.Errorf("class name = %q, want unknown_99", records[1].ClassName)
	}
}

func TestDetectionMalformedVariants(t *testing.T) {
	n := NewNormalizer(labels.Actions())
	good := Box{XYXY: []float32{0, 0, 1, 1}, Conf: []float32{0.5}, Class: []float32{1}}

	tests := []struct {
		name string
		box  Box
	}{
		{"three coords", Box{XYXY: []float32{0, 0, 1}, Conf: good.Conf, Class: good.Class}},
		{"no conf", Box{XYXY: good.XYXY, Class: good.Class}},
		{"conf above one", Box{XYXY: good.XYXY, Conf: []float32{1.5}, Class: good.Class}},
		{"negative conf", Box{XYXY: good.XYXY, Conf: []float32{-0.1}, Class: good.Class}},
		{"no class", Box{XYXY: good.XYXY, Conf: good.Conf}},
		{"negative class", Box{XYXY: good.XYXY, Conf: good.Conf, Class: []float32{-1}}},
		{"fractional class", Box{XYXY: good.XYXY, Conf: good.Conf, Class: []float32{2.5}}},
		{"infinite class", Box{XYXY: good.XYXY, Conf: good.Conf, Class: []float32{float32(math.Inf(1))}}},
		{"huge class", Box{XYXY: good.XYXY, Conf: good.Conf, Class: []float32{1e20}}},
		{"inf coordinate", Box{XYXY: []float32{0, 0, float32(math.Inf(1)), 1}, Conf: good.Conf, Class: good.Class}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, skipped := n.Normalize(&Result{Kind: KindDetection, Boxes: []Box{good, tt.box}})
			if len(records) != 1 || len(skipped) != 1 {
				t.Errorf("records=%d skipped=%d, want 1/1", len(records), len(skipped))
			}
		})
	}
}

func TestNeitherShapeIsEmpty(t *testing.T) {
	n := NewNormalizer(labels.Actions())

	for _, res := range []*Result{nil, {}, {Kind: KindDetection}} {
		records, skipped := n.Normalize(res)
		if records == nil || len(records) != 0 || len(skipped) != 0 {
			t.Errorf("Normalize(%+v) = %v, %v", res, records, skipped)
		}
	}
}

func TestTop(t *testing.T) {
	if _, ok := Top(nil); ok {
		t.Error("Top(nil) should report false")
	}
	best, ok := Top([]DetectionRecord{{ClassID: 1, Confidence: 0.2}, {ClassID: 7, Confidence: 0.8}})
	if !ok || best.ClassID != 7 {
		t.Errorf("Top = %+v, %v", best, ok)
	}
}
