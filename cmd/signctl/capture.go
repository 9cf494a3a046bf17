package main

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"signserver/internal/camera"
	"signserver/internal/cvmat"
	"signserver/internal/dataset"
	"signserver/internal/frame"
	"signserver/internal/landmark"
	"signserver/internal/overlay"
)

var captureOpts struct {
	dir    string
	count  int
	delay  time.Duration
	device int
	width  int
	height int
	worker string
	python string
	mirror bool
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture landmark images from the camera into a class folder",
	Long: "Captures frames from the camera, extracts hand and face keypoints and saves them drawn on a black " +
		"background as numbered PNGs. Numbering continues after the highest existing image in the folder.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if captureOpts.worker == "" {
			return fmt.Errorf("a landmark worker script is required (--worker or LANDMARK_WORKER)")
		}

		cam, err := camera.Open(captureOpts.device, captureOpts.width, captureOpts.height)
		if err != nil {
			return err
		}
		defer cam.Close()

		worker, err := landmark.NewWorker(captureOpts.python, captureOpts.worker)
		if err != nil {
			return err
		}
		defer worker.Close()

		bar := progressbar.NewOptions(captureOpts.count,
			progressbar.OptionSetDescription("📸 Capturing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)

		c := &dataset.Capturer{
			Camera:    cam,
			Extractor: worker,
			Renderer:  overlay.NewRenderer(),
			Save:      writePNG,
		}
		saved, err := c.Capture(cmd.Context(), dataset.CaptureOptions{
			Dir:    captureOpts.dir,
			Count:  captureOpts.count,
			Delay:  captureOpts.delay,
			Mirror: captureOpts.mirror,
		}, func() { bar.Add(1) })
		bar.Finish()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("capture stopped after %d images: %w", len(saved), err)
		}

		fmt.Printf("✅ Saved %d images to %s\n", len(saved), captureOpts.dir)
		return nil
	},
}

func writePNG(path string, f frame.Frame) error {
	mat, err := cvmat.ToMat(f)
	if err != nil {
		return err
	}
	defer mat.Close()

	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("imwrite failed")
	}
	return nil
}

func init() {
	captureCmd.Flags().StringVarP(&captureOpts.dir, "output", "o", "captured_images", "Folder to save images into")
	captureCmd.Flags().IntVarP(&captureOpts.count, "count", "n", 100, "Number of images to capture")
	captureCmd.Flags().DurationVar(&captureOpts.delay, "delay", 100*time.Millisecond, "Pause between captures")
	captureCmd.Flags().IntVarP(&captureOpts.device, "device", "d", max(cfg.CameraDevice, 0), "Camera device index")
	captureCmd.Flags().IntVar(&captureOpts.width, "width", cfg.LiveWidth, "Capture width")
	captureCmd.Flags().IntVar(&captureOpts.height, "height", cfg.LiveHeight, "Capture height")
	captureCmd.Flags().StringVar(&captureOpts.worker, "worker", cfg.LandmarkWorker, "Landmark worker script")
	captureCmd.Flags().StringVar(&captureOpts.python, "python", cfg.LandmarkPython, "Python interpreter for the worker")
	captureCmd.Flags().BoolVar(&captureOpts.mirror, "mirror", true, "Flip frames horizontally before extraction")
	rootCmd.AddCommand(captureCmd)
}
