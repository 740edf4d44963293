package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"

	"go.viam.com/mocap/spatialmath"
)

// PointSample is a coloured point in millimetres. Samples are values and never change once
// produced.
type PointSample struct {
	Position r3.Vector
	Color    color.NRGBA
}

// NewPointSample returns a sample.
func NewPointSample(p r3.Vector, c color.NRGBA) PointSample {
	return PointSample{Position: p, Color: c}
}

// Transform returns the sample moved by pose.
func (ps PointSample) Transform(pose spatialmath.RigidTransform) PointSample {
	return PointSample{Position: pose.Apply(ps.Position), Color: ps.Color}
}
