// Package backend picks the inference engine for a model file.
package backend

import (
	"fmt"
	"strings"

	"signserver/internal/config"
	"signserver/internal/inference"
	"signserver/internal/inference/dnn"
	"signserver/internal/inference/onnx"
	"signserver/internal/logger"
)

const (
	ONNX = "onnx"
	DNN  = "dnn"
)

// Choose returns the configured backend, or the default for the model task:
// OpenCV DNN for detection, ONNX Runtime for classification.
func Choose(configured string, md inference.Metadata) (string, error) {
	switch b := strings.ToLower(strings.TrimSpace(configured)); b {
	case ONNX, DNN:
		return b, nil
	case "":
		if md.Task == inference.TaskDetect {
			return DNN, nil
		}
		return ONNX, nil
	default:
		return "", fmt.Errorf("unknown model backend %q", configured)
	}
}

// NewLoader returns the session loader for cfg. The explicit metadata path
// only applies to the configured model; other paths use their own sidecar.
func NewLoader(cfg *config.Config, logger *logger.Logger) inference.Loader {
	return func(path string) (inference.Engine, error) {
		explicit := ""
		if path == cfg.ModelPath {
			explicit = cfg.ModelMetadataPath
		}
		md, err := inference.LoadMetadata(inference.MetadataPathFor(path, explicit))
		if err != nil {
			return nil, err
		}

		b, err := Choose(cfg.ModelBackend, md)
		if err != nil {
			return nil, err
		}
		logger.Info("Opening %s model %s with %s backend (%d classes)", md.Task, path, b, len(md.Classes))

		conf, iou := float32(cfg.DetectionConf), float32(cfg.DetectionIOU)
		var engine inference.Engine
		if b == DNN {
			engine, err = dnn.Open(path, md, conf, iou)
		} else {
			engine, err = onnx.Open(cfg.OnnxRuntimeLib, path, md, conf, iou)
		}
		if err != nil {
			return nil, err
		}
		return engine, nil
	}
}

// Versions reports the native library versions for diagnostics.
func Versions() (opencv, onnxruntime string) {
	return dnn.Version(), onnx.Version()
}

// Shutdown releases process-wide runtime state.
func Shutdown() error {
	return onnx.Shutdown()
}
