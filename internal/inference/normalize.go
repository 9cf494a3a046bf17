package inference

import (
	"fmt"
	"math"
	"sort"

	"signserver/internal/labels"
)

const (
	DefaultTopK          = 5
	DefaultMinConfidence = 0.01
)

// PartialRecordError describes one detection box that was skipped.
type PartialRecordError struct {
	Index  int
	Reason string
}

func (e *PartialRecordError) Error() string {
	return fmt.Sprintf("box %d skipped: %s", e.Index, e.Reason)
}

// Normalizer converts either result shape into DetectionRecords.
type Normalizer struct {
	Labels        labels.Map
	TopK          int
	MinConfidence float64
}

func NewNormalizer(m labels.Map) Normalizer {
	return Normalizer{Labels: m, TopK: DefaultTopK, MinConfidence: DefaultMinConfidence}
}

// Normalize never fails: a nil or untagged result yields no records, and
// malformed boxes are returned as skips next to the records that survived.
func (n Normalizer) Normalize(res *Result) ([]DetectionRecord, []*PartialRecordError) {
	if res == nil {
		return []DetectionRecord{}, nil
	}
	switch res.Kind {
	case KindClassification:
		return n.classification(res.Probs), nil
	case KindDetection:
		return n.detection(res.Boxes)
	default:
		return []DetectionRecord{}, nil
	}
}

func (n Normalizer) classification(probs []float32) []DetectionRecord {
	idx := make([]int, 0, len(probs))
	for i, p := range probs {
		if !math.IsNaN(float64(p)) {
			idx = append(idx, i)
		}
	}
	// stable: equal scores keep the lower class index first
	sort.SliceStable(idx, func(a, b int) bool {
		return probs[idx[a]] > probs[idx[b]]
	})

	k := n.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	if len(idx) > k {
		idx = idx[:k]
	}

	records := make([]DetectionRecord, 0, len(idx))
	for _, i := range idx {
		conf := float64(probs[i])
		if conf <= n.MinConfidence {
			continue
		}
		records = append(records, DetectionRecord{
			ClassID:    i,
			ClassName:  n.Labels.Name(i),
			Confidence: conf,
		})
	}
	return records
}

func (n Normalizer) detection(boxes []Box) ([]DetectionRecord, []*PartialRecordError) {
	records := make([]DetectionRecord, 0, len(boxes))
	var skipped []*PartialRecordError

	for i, box := range boxes {
		rec, reason := n.box(box)
		if reason != "" {
			skipped = append(skipped, &PartialRecordError{Index: i, Reason: reason})
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

func (n Normalizer) box(b Box) (DetectionRecord, string) {
	if len(b.XYXY) != 4 {
		return DetectionRecord{}, fmt.Sprintf("expected 4 coordinates, got %d", len(b.XYXY))
	}
	for _, v := range b.XYXY {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return DetectionRecord{}, "non-finite coordinate"
		}
	}
	if len(b.Conf) != 1 {
		return DetectionRecord{}, "missing confidence"
	}
	conf := float64(b.Conf[0])
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return DetectionRecord{}, fmt.Sprintf("confidence %v out of range", conf)
	}
	if len(b.Class) != 1 {
		return DetectionRecord{}, "missing class"
	}
	cls := float64(b.Class[0])
	if math.IsNaN(cls) || math.IsInf(cls, 0) || cls < 0 || cls > math.MaxInt32 || cls != math.Trunc(cls) {
		return DetectionRecord{}, fmt.Sprintf("invalid class %v", cls)
	}

	id := int(cls)
	bbox := [4]float32{b.XYXY[0], b.XYXY[1], b.XYXY[2], b.XYXY[3]}
	return DetectionRecord{
		ClassID:    id,
		ClassName:  n.Labels.Name(id),
		Confidence: conf,
		BBox:       &bbox,
	}, ""
}

// Top returns the highest-confidence record, if any.
func Top(records []DetectionRecord) (DetectionRecord, bool) {
	if len(records) == 0 {
		return DetectionRecord{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.Confidence > best.Confidence {
			best = r
		}
	}
	return best, true
}
