package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"signserver/internal/frame"
	"signserver/internal/inference"
	"signserver/internal/inference/backend"
	"signserver/internal/labels"
	"signserver/internal/logger"
)

var diagnoseOpts struct {
	model    string
	metadata string
	backend  string
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Load a model, list its classes and run a smoke inference",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := os.Stat(diagnoseOpts.model)
		if err != nil {
			return fmt.Errorf("model file: %w", err)
		}
		fmt.Printf("📦 %s (%.2f MB)\n", diagnoseOpts.model, float64(info.Size())/(1<<20))

		mdPath := inference.MetadataPathFor(diagnoseOpts.model, diagnoseOpts.metadata)
		md, err := inference.LoadMetadata(mdPath)
		if err != nil {
			return err
		}
		w, h := md.InputSize()
		fmt.Printf("Task: %s, input %dx%d, %d classes (metadata %s)\n", md.Task, w, h, len(md.Classes), mdPath)

		c := *cfg
		c.ModelPath = diagnoseOpts.model
		c.ModelMetadataPath = diagnoseOpts.metadata
		c.ModelBackend = diagnoseOpts.backend
		c.LogLevel = "warning"
		l := logger.NewLogger(&c)
		defer l.Close()
		defer backend.Shutdown()

		start := time.Now()
		engine, err := backend.NewLoader(&c, l)(diagnoseOpts.model)
		if err != nil {
			return fmt.Errorf("failed to load model: %w", err)
		}
		defer engine.Close()
		fmt.Printf("Loaded with %s in %s\n", engine.Type(), time.Since(start).Round(time.Millisecond))
		fmt.Println(versionLine(backend.Versions()))

		classes := engine.Classes()
		for _, id := range sortedIDs(classes) {
			fmt.Printf("  %3d  %s\n", id, classes.Name(id))
		}

		start = time.Now()
		res, err := engine.Infer(frame.TestPattern(w, h))
		if err != nil {
			return fmt.Errorf("smoke inference failed: %w", err)
		}
		records, partial := inference.NewNormalizer(classes).Normalize(res)
		fmt.Printf("Smoke inference: %s result, %d records, %d malformed, %s\n",
			res.Kind, len(records), len(partial), time.Since(start).Round(time.Millisecond))
		if top, ok := inference.Top(records); ok {
			fmt.Printf("Top: %s (%.3f)\n", top.ClassName, top.Confidence)
		}

		fmt.Println("✅ Model OK")
		return nil
	},
}

// versionLine reports native library versions. It must be called after a
// model is loaded, since onnxruntime reports nothing before its environment
// is initialized.
func versionLine(opencv, onnxruntime string) string {
	if onnxruntime == "" {
		onnxruntime = "not initialized"
	}
	return fmt.Sprintf("OpenCV %s, onnxruntime %s", opencv, onnxruntime)
}

func sortedIDs(m labels.Map) []int {
	ids := make([]int, 0, m.Len())
	for id := range m.Index() {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func init() {
	diagnoseCmd.Flags().StringVarP(&diagnoseOpts.model, "model", "m", cfg.ModelPath, "Model file")
	diagnoseCmd.Flags().StringVar(&diagnoseOpts.metadata, "metadata", cfg.ModelMetadataPath, "Metadata JSON (default: next to the model)")
	diagnoseCmd.Flags().StringVar(&diagnoseOpts.backend, "backend", cfg.ModelBackend, "onnx or dnn (default: chosen from the model task)")
	rootCmd.AddCommand(diagnoseCmd)
}
