package transform

import (
	"fmt"
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// NewCenteredIntrinsics returns intrinsics with the principal point in the middle of the image.
func NewCenteredIntrinsics(width, height int, fx, fy float64) PinholeCameraIntrinsics {
	return PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     fx,
		Fy:     fy,
		Ppx:    float64(width) / 2,
		Ppy:    float64(height) / 2,
	}
}

// CheckValid reports ErrNoIntrinsics, wrapped with the offending field, for unusable values.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	switch {
	case params == nil:
		return NewNoIntrinsicsError("intrinsics do not exist")
	case params.Width <= 0 || params.Height <= 0:
		return NewNoIntrinsicsError(fmt.Sprintf("invalid size %dx%d", params.Width, params.Height))
	case params.Fx <= 0 || params.Fy <= 0:
		return NewNoIntrinsicsError(fmt.Sprintf("invalid focal lengths (%v, %v)", params.Fx, params.Fy))
	case params.Ppx < 0 || params.Ppx > float64(params.Width) || params.Ppy < 0 || params.Ppy > float64(params.Height):
		return NewNoIntrinsicsError(fmt.Sprintf("principal point (%v, %v) is outside the image", params.Ppx, params.Ppy))
	}
	return nil
}

// Size returns the image size the intrinsics were calibrated for.
func (params *PinholeCameraIntrinsics) Size() image.Point {
	return image.Pt(params.Width, params.Height)
}

// PixelToNormalized maps a pixel to normalized image coordinates (x/z, y/z).
func (params *PinholeCameraIntrinsics) PixelToNormalized(p r2.Point) r2.Point {
	return r2.Point{X: (p.X - params.Ppx) / params.Fx, Y: (p.Y - params.Ppy) / params.Fy}
}

// NormalizedToPixel is the inverse of PixelToNormalized.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(p r2.Point) r2.Point {
	return r2.Point{X: p.X*params.Fx + params.Ppx, Y: p.Y*params.Fy + params.Ppy}
}
