// Package pointcloud holds coloured point clouds built from depth frames and a spatial index over
// position and colour.
package pointcloud

import (
	"context"
	"math"
	"math/rand"

	"go.viam.com/mocap/rimage"
	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/spatialmath"
	"go.viam.com/mocap/utils"
)

// Cloud is an ordered set of samples in one coordinate frame.
type Cloud []PointSample

// MetaData is the bounding box of a cloud.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// MetaData returns the bounding box of the cloud. An empty cloud has an inverted box.
func (c Cloud) MetaData() MetaData {
	meta := MetaData{
		MinX: math.MaxFloat64, MinY: math.MaxFloat64, MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64, MaxY: -math.MaxFloat64, MaxZ: -math.MaxFloat64,
	}
	for _, s := range c {
		v := s.Position
		meta.MinX, meta.MaxX = math.Min(meta.MinX, v.X), math.Max(meta.MaxX, v.X)
		meta.MinY, meta.MaxY = math.Min(meta.MinY, v.Y), math.Max(meta.MaxY, v.Y)
		meta.MinZ, meta.MaxZ = math.Min(meta.MinZ, v.Z), math.Max(meta.MaxZ, v.Z)
	}
	return meta
}

// Transform returns a new cloud with every sample moved by pose.
func (c Cloud) Transform(pose spatialmath.RigidTransform) Cloud {
	out := make(Cloud, len(c))
	for i, s := range c {
		out[i] = s.Transform(pose)
	}
	return out
}

// Sample returns a random subset keeping each point with probability ratio. A ratio of 1 or more
// returns the cloud itself.
func (c Cloud) Sample(ratio float64, rng *rand.Rand) Cloud {
	if ratio >= 1 {
		return c
	}
	out := make(Cloud, 0, int(float64(len(c))*ratio)+1)
	for _, s := range c {
		if rng.Float64() < ratio {
			out = append(out, s)
		}
	}
	return out
}

// FromFrame projects every stride-th pixel of a frame with a trusted depth reading to camera space.
func FromFrame(ctx context.Context, frame *rimage.Frame, model *transform.CameraModel, stride int) (Cloud, error) {
	if stride < 1 {
		stride = 1
	}
	size := model.Size()
	if frame.Depth.Width() != size.X || frame.Depth.Height() != size.Y {
		return nil, utils.NewInconsistentDimensionsError("frame pixels", size.X*size.Y,
			frame.Depth.Width()*frame.Depth.Height())
	}
	profile := model.Profile()
	rows := (size.Y + stride - 1) / stride
	perRow := make([]Cloud, rows)
	err := utils.ParallelFor(ctx, rows, func(row int) {
		y := row * stride
		var samples Cloud
		for x := 0; x < size.X; x += stride {
			raw := float64(frame.Depth.GetDepth(x, y))
			if raw <= 0 || raw < profile.MinDepthMM || raw > profile.MaxDepthMM {
				continue
			}
			p := model.ScreenToWorld(float64(x), float64(y), raw)
			samples = append(samples, NewPointSample(p, frame.ColorAt(x, y)))
		}
		perRow[row] = samples
	})
	if err != nil {
		return nil, err
	}
	var out Cloud
	for _, r := range perRow {
		out = append(out, r...)
	}
	return out, nil
}
