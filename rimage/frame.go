package rimage

import (
	"image"
	"image/color"
	"time"

	"github.com/pkg/errors"
)

// Frame is one synchronized capture from a depth camera. Color may be nil for depth-only sensors;
// when present it is registered to the depth grid and has the same size.
type Frame struct {
	Depth     *DepthMap
	Color     image.Image
	Timestamp time.Duration
}

// NewFrame validates that depth and color agree in size.
func NewFrame(depth *DepthMap, col image.Image, timestamp time.Duration) (*Frame, error) {
	if !depth.HasData() {
		return nil, errors.New("frame has no depth data")
	}
	if col != nil && col.Bounds().Size() != depth.Bounds().Size() {
		return nil, errors.Errorf("color image size %v does not match depth size %v",
			col.Bounds().Size(), depth.Bounds().Size())
	}
	return &Frame{Depth: depth, Color: col, Timestamp: timestamp}, nil
}

// ColorAt returns the colour at (x, y), or opaque white when the frame has no colour image.
func (f *Frame) ColorAt(x, y int) color.NRGBA {
	if f.Color == nil {
		return NewColor(255, 255, 255)
	}
	b := f.Color.Bounds()
	return color.NRGBAModel.Convert(f.Color.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
}
