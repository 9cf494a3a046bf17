// Package cvmat converts between frame.Frame and OpenCV matrices.
package cvmat

import (
	"fmt"

	"gocv.io/x/gocv"

	"signserver/internal/frame"
)

// FromMat copies an 8-bit 3-channel Mat into a frame with the given order.
func FromMat(mat gocv.Mat, order frame.ColorOrder) (frame.Frame, error) {
	if mat.Empty() {
		return frame.Frame{}, frame.ErrEmptyFrame
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		return frame.Frame{}, fmt.Errorf("unsupported mat type %v", mat.Type())
	}
	data := mat.ToBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return frame.FromBytes(out, mat.Cols(), mat.Rows(), order)
}

// ToMat returns a new BGR Mat holding f. The caller closes it.
func ToMat(f frame.Frame) (gocv.Mat, error) {
	if f.Empty() {
		return gocv.NewMat(), frame.ErrEmptyFrame
	}
	src := f
	if f.Order == frame.RGB {
		// OpenCV drawing and DNN blobs assume BGR
		src = toBGR(f)
	}
	return gocv.NewMatFromBytes(src.Height, src.Width, gocv.MatTypeCV8UC3, src.Data)
}

func toBGR(f frame.Frame) frame.Frame {
	out := frame.New(f.Width, f.Height, frame.BGR)
	for i := 0; i+2 < len(f.Data); i += frame.Channels {
		out.Data[i] = f.Data[i+2]
		out.Data[i+1] = f.Data[i+1]
		out.Data[i+2] = f.Data[i]
	}
	return out
}
