// Package camera reads BGR frames from a local capture device.
package camera

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"signserver/internal/cvmat"
	"signserver/internal/frame"
)

var ErrClosed = errors.New("camera is closed")

// Camera owns one VideoCapture device. Close releases it and is safe to
// call more than once.
type Camera struct {
	device  int
	capture *gocv.VideoCapture
	mat     gocv.Mat
	mu      sync.Mutex
	closed  bool
}

// Open acquires device and requests width x height when both are set.
func Open(device, width, height int) (*Camera, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("camera %d is not available", device)
	}
	if width > 0 && height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	return &Camera{
		device:  device,
		capture: capture,
		mat:     gocv.NewMat(),
	}, nil
}

// Read grabs the next frame.
func (c *Camera) Read() (frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return frame.Frame{}, ErrClosed
	}
	if ok := c.capture.Read(&c.mat); !ok {
		return frame.Frame{}, fmt.Errorf("failed to read frame from camera %d", c.device)
	}
	if c.mat.Empty() {
		return frame.Frame{}, frame.ErrEmptyFrame
	}
	return cvmat.FromMat(c.mat, frame.BGR)
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.mat.Close()
	return c.capture.Close()
}

func (c *Camera) Device() int {
	return c.device
}
