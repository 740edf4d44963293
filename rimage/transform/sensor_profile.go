package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// SensorProfile holds the constants that describe a particular depth sensor model rather than a
// particular calibrated unit.
type SensorProfile struct {
	Name string `json:"name"`
	// XtoZ and YtoZ are the full field-of-view widths at unit depth, 2·tan(fov/2).
	XtoZ float64 `json:"x_to_z"`
	YtoZ float64 `json:"y_to_z"`
	// Shear scales the depth-field lookup coordinate about the principal point.
	Shear float64 `json:"shear"`
	// MinDepthMM and MaxDepthMM bound the range in which depth readings are trusted.
	MinDepthMM float64 `json:"min_depth_mm"`
	MaxDepthMM float64 `json:"max_depth_mm"`
}

// DefaultSensorProfile is a structured-light sensor with a 57°×43° field of view.
func DefaultSensorProfile() SensorProfile {
	return SensorProfile{
		Name:       "structured-light-57x43",
		XtoZ:       2 * math.Tan(57.0/2*math.Pi/180),
		YtoZ:       2 * math.Tan(43.0/2*math.Pi/180),
		Shear:      1.0,
		MinDepthMM: 500,
		MaxDepthMM: 4500,
	}
}

// CheckValid validates the profile.
func (sp SensorProfile) CheckValid() error {
	if sp.XtoZ <= 0 || sp.YtoZ <= 0 {
		return errors.Errorf("field of view ratios must be positive, got (%v, %v)", sp.XtoZ, sp.YtoZ)
	}
	if sp.Shear <= 0 {
		return errors.Errorf("shear must be positive, got %v", sp.Shear)
	}
	if sp.MaxDepthMM <= sp.MinDepthMM {
		return errors.Errorf("depth range [%v, %v] is empty", sp.MinDepthMM, sp.MaxDepthMM)
	}
	return nil
}

// RadialRatio is the distance of a camera-space point from the optical axis relative to the
// field-of-view ellipse: 0 on the axis, 1 on the edge of the image.
func (sp SensorProfile) RadialRatio(p r3.Vector) float64 {
	if p.Z <= 0 {
		return math.Inf(1)
	}
	a := 2 * p.X / (p.Z * sp.XtoZ)
	b := 2 * p.Y / (p.Z * sp.YtoZ)
	return math.Hypot(a, b)
}

// DepthUncertainty is 1 in the middle of the trusted range and grows quadratically towards the
// near and far limits, reaching 2 at each limit.
func (sp SensorProfile) DepthUncertainty(zMM float64) float64 {
	center := (sp.MinDepthMM + sp.MaxDepthMM) / 2
	halfRange := (sp.MaxDepthMM - sp.MinDepthMM) / 2
	if halfRange <= 0 {
		return 1
	}
	r := (zMM - center) / halfRange
	return 1 + r*r
}
