package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"signserver/internal/frame"
	"signserver/internal/landmark"
	"signserver/internal/pipeline"
)

// NextIndices returns n consecutive image numbers starting after the
// highest <number>.png already in dir, or at 1 for an empty folder.
func NextIndices(dir string, n int) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	highest := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".png") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(name, ".png"))
		if err != nil || idx < 0 {
			continue
		}
		if idx > highest {
			highest = idx
		}
	}

	out := make([]int, n)
	for i := range out {
		out[i] = highest + 1 + i
	}
	return out, nil
}

// SaveFunc writes a rendered frame to path.
type SaveFunc func(path string, f frame.Frame) error

type CaptureOptions struct {
	Dir   string
	Count int
	Delay time.Duration
	// Mirror flips camera frames before landmark extraction.
	Mirror bool
}

// Capturer takes landmark-only training images: each camera frame is run
// through the extractor and the keypoints are drawn onto a black canvas.
type Capturer struct {
	Camera    pipeline.Capturer
	Extractor landmark.Extractor
	Renderer  pipeline.Renderer
	Save      SaveFunc
	Sleep     func(time.Duration)
}

// Capture writes opts.Count numbered PNGs into opts.Dir and returns their
// paths. progress, if non-nil, is called after each saved image.
func (c *Capturer) Capture(ctx context.Context, opts CaptureOptions, progress func()) ([]string, error) {
	if opts.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", opts.Count)
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", opts.Dir, err)
	}
	indices, err := NextIndices(opts.Dir, opts.Count)
	if err != nil {
		return nil, err
	}

	sleep := c.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	saved := make([]string, 0, len(indices))
	for i, idx := range indices {
		if err := ctx.Err(); err != nil {
			return saved, err
		}

		raw, err := c.Camera.Read()
		if err != nil {
			return saved, fmt.Errorf("couldn't capture frame: %w", err)
		}
		if opts.Mirror {
			raw = raw.Mirror()
		}

		set, err := c.Extractor.Extract(raw)
		if err != nil {
			return saved, fmt.Errorf("landmark extraction failed: %w", err)
		}
		canvas, err := c.Renderer.Render(raw.Width, raw.Height, set, nil)
		if err != nil {
			return saved, err
		}

		path := filepath.Join(opts.Dir, fmt.Sprintf("%d.png", idx))
		if err := c.Save(path, canvas); err != nil {
			return saved, fmt.Errorf("failed to save %s: %w", path, err)
		}
		saved = append(saved, path)
		if progress != nil {
			progress()
		}

		if opts.Delay > 0 && i < len(indices)-1 {
			sleep(opts.Delay)
		}
	}
	return saved, nil
}
