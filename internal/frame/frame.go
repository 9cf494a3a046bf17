package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"
)

// ColorOrder is the byte order of the three channels of a pixel.
type ColorOrder int

const (
	BGR ColorOrder = iota // camera / OpenCV order
	RGB                   // decoded uploads and model input
)

func (o ColorOrder) String() string {
	if o == RGB {
		return "RGB"
	}
	return "BGR"
}

// Channels is the fixed channel count of every Frame.
const Channels = 3

var ErrEmptyFrame = errors.New("frame is empty")

// Frame is a packed 8-bit, 3-channel image. Operations never modify the
// receiver; they return a new Frame.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Order  ColorOrder
}

// New allocates a zeroed (black) frame.
func New(width, height int, order ColorOrder) Frame {
	return Frame{
		Data:   make([]byte, width*height*Channels),
		Width:  width,
		Height: height,
		Order:  order,
	}
}

// FromBytes wraps packed pixel data after checking its length.
func FromBytes(data []byte, width, height int, order ColorOrder) (Frame, error) {
	if width <= 0 || height <= 0 {
		return Frame{}, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if len(data) != width*height*Channels {
		return Frame{}, fmt.Errorf("frame data is %d bytes, want %d for %dx%d", len(data), width*height*Channels, width, height)
	}
	return Frame{Data: data, Width: width, Height: height, Order: order}, nil
}

// FromImage converts any decoded image into an RGB frame.
func FromImage(img image.Image) Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return fromRGBA(rgba, RGB)
}

// fromRGBA packs the first three channels positionally.
func fromRGBA(img *image.RGBA, order ColorOrder) Frame {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	f := New(w, h, order)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			i := (y*w + x) * Channels
			f.Data[i] = row[x*4]
			f.Data[i+1] = row[x*4+1]
			f.Data[i+2] = row[x*4+2]
		}
	}
	return f
}

// rgba copies channels positionally into an RGBA image, ignoring Order.
func (f Frame) rgba() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			i := (y*f.Width + x) * Channels
			o := y*img.Stride + x*4
			img.Pix[o] = f.Data[i]
			img.Pix[o+1] = f.Data[i+1]
			img.Pix[o+2] = f.Data[i+2]
			img.Pix[o+3] = 255
		}
	}
	return img
}

// Image returns the frame as an image.Image with correct colours.
func (f Frame) Image() image.Image {
	return f.ToRGB().rgba()
}

func (f Frame) Empty() bool {
	return f.Width == 0 || f.Height == 0 || len(f.Data) == 0
}

// At returns the pixel at (x, y) as RGB regardless of the frame's order.
func (f Frame) At(x, y int) color.RGBA {
	i := (y*f.Width + x) * Channels
	if f.Order == BGR {
		return color.RGBA{R: f.Data[i+2], G: f.Data[i+1], B: f.Data[i], A: 255}
	}
	return color.RGBA{R: f.Data[i], G: f.Data[i+1], B: f.Data[i+2], A: 255}
}

// Mirror flips the frame horizontally.
func (f Frame) Mirror() Frame {
	out := New(f.Width, f.Height, f.Order)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			src := (y*f.Width + x) * Channels
			dst := (y*f.Width + (f.Width - 1 - x)) * Channels
			copy(out.Data[dst:dst+Channels], f.Data[src:src+Channels])
		}
	}
	return out
}

// ToRGB returns an RGB copy; an RGB frame is returned as a clone.
func (f Frame) ToRGB() Frame {
	if f.Order == RGB {
		return f.Clone()
	}
	out := New(f.Width, f.Height, RGB)
	for i := 0; i+2 < len(f.Data); i += Channels {
		out.Data[i] = f.Data[i+2]
		out.Data[i+1] = f.Data[i+1]
		out.Data[i+2] = f.Data[i]
	}
	return out
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return Frame{Data: data, Width: f.Width, Height: f.Height, Order: f.Order}
}

// Resize scales the frame to width x height, keeping the channel order.
func (f Frame) Resize(width, height int) Frame {
	if width == f.Width && height == f.Height {
		return f.Clone()
	}
	scaled := resize.Resize(uint(width), uint(height), f.rgba(), resize.Bilinear)
	rgba, ok := scaled.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(rgba, rgba.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	}
	return fromRGBA(rgba, f.Order)
}

// CHW returns the frame as planar float32 RGB scaled to [0,1], the layout
// ONNX vision models expect.
func (f Frame) CHW() []float32 {
	rgb := f
	if f.Order != RGB {
		rgb = f.ToRGB()
	}
	plane := f.Width * f.Height
	out := make([]float32, Channels*plane)
	for p := 0; p < plane; p++ {
		out[p] = float32(rgb.Data[p*3]) / 255.0
		out[plane+p] = float32(rgb.Data[p*3+1]) / 255.0
		out[2*plane+p] = float32(rgb.Data[p*3+2]) / 255.0
	}
	return out
}

// TestPattern returns an RGB frame with a white square covering the middle
// half of a black background.
func TestPattern(width, height int) Frame {
	f := New(width, height, RGB)
	x0, y0 := width/4, height/4
	for y := y0; y < height-y0; y++ {
		for x := x0; x < width-x0; x++ {
			i := (y*width + x) * Channels
			f.Data[i], f.Data[i+1], f.Data[i+2] = 255, 255, 255
		}
	}
	return f
}
