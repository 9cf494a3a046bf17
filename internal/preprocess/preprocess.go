// Package preprocess prepares frames for the landmark extractor and the model.
package preprocess

import (
	"signserver/internal/frame"
)

// Source tells the preprocessor where a frame came from.
type Source int

const (
	Upload Source = iota
	Camera
)

func (s Source) String() string {
	if s == Camera {
		return "camera"
	}
	return "upload"
}

// Preprocessor resizes to the model input, mirrors camera frames and
// converts to RGB. Zero Width/Height keep the source size.
type Preprocessor struct {
	Width  int
	Height int
}

func New(width, height int) Preprocessor {
	return Preprocessor{Width: width, Height: height}
}

// Prepare returns a new RGB frame; src is never modified.
func (p Preprocessor) Prepare(src frame.Frame, source Source) (frame.Frame, error) {
	if src.Empty() {
		return frame.Frame{}, frame.ErrEmptyFrame
	}

	out := src
	if source == Camera {
		out = out.Mirror()
	}
	out = out.ToRGB()

	w, h := p.Width, p.Height
	if w <= 0 || h <= 0 {
		return out, nil
	}
	if out.Width != w || out.Height != h {
		out = out.Resize(w, h)
	}
	return out, nil
}
