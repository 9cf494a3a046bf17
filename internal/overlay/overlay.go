// Package overlay draws landmark skeletons and detections onto a black canvas.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"signserver/internal/cvmat"
	"signserver/internal/frame"
	"signserver/internal/inference"
	"signserver/internal/landmark"
)

var (
	handPointColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	handLineColor  = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	faceColor      = color.RGBA{R: 255, G: 255, B: 0, A: 0}
	boxColor       = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	textColor      = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Renderer implements pipeline.Renderer with OpenCV drawing calls.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render returns a BGR frame of width x height.
func (r *Renderer) Render(width, height int, set landmark.Set, detections []inference.DetectionRecord) (frame.Frame, error) {
	if width <= 0 || height <= 0 {
		return frame.Frame{}, fmt.Errorf("invalid canvas size %dx%d", width, height)
	}

	canvas := gocv.Zeros(height, width, gocv.MatTypeCV8UC3)
	defer canvas.Close()

	for _, hand := range set.Hands {
		if err := drawHand(&canvas, hand, width, height); err != nil {
			return frame.Frame{}, err
		}
	}
	for _, face := range set.Faces {
		for _, p := range face.Points {
			if err := gocv.Circle(&canvas, toPixel(p, width, height), 1, faceColor, 1); err != nil {
				return frame.Frame{}, fmt.Errorf("failed to draw face point: %v", err)
			}
		}
	}
	if err := drawDetections(&canvas, detections); err != nil {
		return frame.Frame{}, err
	}

	return cvmat.FromMat(canvas, frame.BGR)
}

func drawHand(canvas *gocv.Mat, hand landmark.Hand, width, height int) error {
	for _, c := range landmark.HandConnections {
		if c[0] >= len(hand.Points) || c[1] >= len(hand.Points) {
			continue
		}
		a := toPixel(hand.Points[c[0]], width, height)
		b := toPixel(hand.Points[c[1]], width, height)
		if err := gocv.Line(canvas, a, b, handLineColor, 2); err != nil {
			return fmt.Errorf("failed to draw hand connection: %v", err)
		}
	}
	for _, p := range hand.Points {
		if err := gocv.Circle(canvas, toPixel(p, width, height), 3, handPointColor, 2); err != nil {
			return fmt.Errorf("failed to draw hand point: %v", err)
		}
	}
	return nil
}

func drawDetections(canvas *gocv.Mat, detections []inference.DetectionRecord) error {
	line := 0
	for _, det := range detections {
		label := fmt.Sprintf("%s (%.2f)", det.ClassName, det.Confidence)

		if det.BBox == nil {
			// classification results are listed in the top-left corner
			line++
			pt := image.Pt(10, 25*line)
			if err := gocv.PutText(canvas, label, pt, gocv.FontHersheySimplex, 0.7, textColor, 2); err != nil {
				return fmt.Errorf("failed to draw text: %v", err)
			}
			continue
		}

		rect := image.Rect(int(det.BBox[0]), int(det.BBox[1]), int(det.BBox[2]), int(det.BBox[3]))
		if err := gocv.Rectangle(canvas, rect, boxColor, 2); err != nil {
			return fmt.Errorf("failed to draw rectangle: %v", err)
		}
		pt := image.Pt(rect.Min.X, rect.Min.Y-5)
		if err := gocv.PutText(canvas, label, pt, gocv.FontHersheySimplex, 0.5, boxColor, 1); err != nil {
			return fmt.Errorf("failed to draw text: %v", err)
		}
	}
	return nil
}

// toPixel maps a normalized keypoint onto the canvas.
func toPixel(p landmark.Point, width, height int) image.Point {
	return image.Pt(int(p.X*float64(width)), int(p.Y*float64(height)))
}
