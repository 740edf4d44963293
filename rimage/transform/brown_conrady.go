package transform

import (
	"github.com/pkg/errors"
)

// BrownConrady is the OpenCV plumb-bob lens model with the rational radial terms:
//
//	radial = (1 + k1 r² + k2 r⁴ + k3 r⁶) / (1 + k4 r² + k5 r⁴ + k6 r⁶)
//	x_d = x radial + 2 p1 x y + p2 (r² + 2 x²)
//	y_d = y radial + p1 (r² + 2 y²) + 2 p2 x y
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	RadialK4     float64 `json:"rk4"`
	RadialK5     float64 `json:"rk5"`
	RadialK6     float64 `json:"rk6"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// undistortIterations matches the fixed iteration count of OpenCV's undistortPoints.
const undistortIterations = 20

// NewBrownConrady takes parameters in OpenCV order (k1, k2, p1, p2, k3, k4, k5, k6). Missing
// trailing values are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 8 {
		return nil, errors.Errorf("list of parameters too long, expected max 8, got %d", len(inp))
	}
	p := make([]float64, 8)
	copy(p, inp)
	bc := &BrownConrady{
		RadialK1:     p[0],
		RadialK2:     p[1],
		TangentialP1: p[2],
		TangentialP2: p[3],
		RadialK3:     p[4],
		RadialK4:     p[5],
		RadialK5:     p[6],
		RadialK6:     p[7],
	}
	return bc, bc.CheckValid()
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the coefficients in OpenCV order.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{
		bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2,
		bc.RadialK3, bc.RadialK4, bc.RadialK5, bc.RadialK6,
	}
}

// IsZero reports whether the model leaves every point where it is.
func (bc *BrownConrady) IsZero() bool {
	if bc == nil {
		return true
	}
	for _, p := range bc.Parameters() {
		if p != 0 {
			return false
		}
	}
	return true
}

// Transform distorts normalized undistorted coordinates.
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	radial := bc.radial(r2)
	xd := x*radial + 2*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2*x*x)
	yd := y*radial + bc.TangentialP1*(r2+2*y*y) + 2*bc.TangentialP2*x*y
	return xd, yd
}

// Undistort inverts Transform with the fixed-point iteration used by OpenCV:
// x ← (x_d − Δx(x, y)) / radial(x, y).
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	if bc == nil {
		return xd, yd
	}
	x, y := xd, yd
	for i := 0; i < undistortIterations; i++ {
		r2 := x*x + y*y
		radial := bc.radial(r2)
		if radial == 0 {
			return xd, yd
		}
		deltaX := 2*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2*x*x)
		deltaY := bc.TangentialP1*(r2+2*y*y) + 2*bc.TangentialP2*x*y
		x = (xd - deltaX) / radial
		y = (yd - deltaY) / radial
	}
	return x, y
}

func (bc *BrownConrady) radial(r2 float64) float64 {
	r4 := r2 * r2
	r6 := r4 * r2
	num := 1 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r6
	den := 1 + bc.RadialK4*r2 + bc.RadialK5*r4 + bc.RadialK6*r6
	if den == 0 {
		return 0
	}
	return num / den
}
