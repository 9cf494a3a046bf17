package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"signserver/internal/labels"
)

const (
	TaskClassify = "classify"
	TaskDetect   = "detect"
)

// Metadata is the JSON sidecar describing an exported model.
type Metadata struct {
	Task         string   `json:"task"`
	InputShape   []int64  `json:"input_shape"`
	OutputShape  []int64  `json:"output_shape"`
	InputName    string   `json:"input_name"`
	OutputName   string   `json:"output_name"`
	Classes      []string `json:"classes"`
	ImageSize    int      `json:"image_size"`
	ApplySoftmax bool     `json:"apply_softmax"`
}

// DefaultMetadata describes a 640x640 classifier over the action vocabulary.
func DefaultMetadata() Metadata {
	actions := labels.Actions().Sorted()
	return Metadata{
		Task:        TaskClassify,
		InputShape:  []int64{1, 3, 640, 640},
		OutputShape: []int64{1, int64(len(actions))},
		InputName:   "images",
		OutputName:  "output0",
		Classes:     actions,
		ImageSize:   640,
	}
}

// MetadataPathFor returns explicit when set, else the model path with a .json extension.
func MetadataPathFor(modelPath, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".json"
}

// LoadMetadata reads path; a missing file yields DefaultMetadata.
func LoadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultMetadata(), nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	md := DefaultMetadata()
	md.Classes = nil
	md.OutputShape = nil
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := md.Validate(); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

func (m Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return ErrEmptyClasses
	}
	if m.Task != TaskClassify && m.Task != TaskDetect {
		return fmt.Errorf("unknown model task %q", m.Task)
	}
	if len(m.InputShape) != 4 {
		return fmt.Errorf("input_shape must be NCHW, got %v", m.InputShape)
	}
	return nil
}

// InputSize returns the model's expected width and height.
func (m Metadata) InputSize() (int, int) {
	if len(m.InputShape) == 4 {
		return int(m.InputShape[3]), int(m.InputShape[2])
	}
	return m.ImageSize, m.ImageSize
}

func (m Metadata) Labels() labels.Map {
	return labels.FromList(m.Classes)
}
