// Package inference defines the engine contract and turns raw model output
// into DetectionRecords.
package inference

import (
	"errors"

	"signserver/internal/frame"
	"signserver/internal/labels"
)

// Kind tags which half of Result is populated.
type Kind int

const (
	KindNone Kind = iota
	KindClassification
	KindDetection
)

func (k Kind) String() string {
	switch k {
	case KindClassification:
		return "classification"
	case KindDetection:
		return "detection"
	default:
		return "none"
	}
}

// Box is one raw detection as reported by an engine. Fields are slices so a
// malformed engine output (missing or extra values) can be represented and
// rejected by the normalizer instead of panicking.
type Box struct {
	XYXY  []float32
	Conf  []float32
	Class []float32
}

// Result is the tagged union of the two model output shapes.
type Result struct {
	Kind  Kind
	Probs []float32
	Boxes []Box
}

// Engine runs one model. Implementations need not be safe for concurrent
// Infer calls; the session serializes access per handle.
type Engine interface {
	Infer(f frame.Frame) (*Result, error)
	Classes() labels.Map
	Type() string
	Close() error
}

// Loader opens an engine for the model at path.
type Loader func(path string) (Engine, error)

// DetectionRecord is the normalized output shared by both result shapes.
// BBox is nil for classification results.
type DetectionRecord struct {
	ClassID    int         `json:"class_id"`
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       *[4]float32 `json:"bbox,omitempty"`
}

var ErrEmptyClasses = errors.New("model has no class names")
