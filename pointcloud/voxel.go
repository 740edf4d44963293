package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// VoxelCoords stores voxel coordinates in grid axes.
type VoxelCoords struct {
	I, J, K int64
}

// GetVoxelCoordinates returns the voxel of a grid with the given origin and cell size holding pt.
func GetVoxelCoordinates(pt, ptMin r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor((pt.X - ptMin.X) / voxelSize)),
		J: int64(math.Floor((pt.Y - ptMin.Y) / voxelSize)),
		K: int64(math.Floor((pt.Z - ptMin.Z) / voxelSize)),
	}
}

// voxel accumulates the samples falling in one cell.
type voxel struct {
	sum        r3.Vector
	r, g, b, a float64
	n          int
}

func (v *voxel) add(s PointSample) {
	v.sum = v.sum.Add(s.Position)
	v.r += float64(s.Color.R)
	v.g += float64(s.Color.G)
	v.b += float64(s.Color.B)
	v.a += float64(s.Color.A)
	v.n++
}

func (v *voxel) sample() PointSample {
	n := float64(v.n)
	return PointSample{
		Position: v.sum.Mul(1 / n),
		Color: color.NRGBA{
			R: uint8(math.Round(v.r / n)),
			G: uint8(math.Round(v.g / n)),
			B: uint8(math.Round(v.b / n)),
			A: uint8(math.Round(v.a / n)),
		},
	}
}

// VoxelDownsample replaces every occupied cell of a grid of the given size by the centroid and mean
// colour of its samples. Cells are emitted in the order their first sample appears. A non-positive
// size returns the cloud itself.
func VoxelDownsample(cloud Cloud, voxelSize float64) Cloud {
	if voxelSize <= 0 || len(cloud) == 0 {
		return cloud
	}
	meta := cloud.MetaData()
	origin := r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ}
	cells := map[VoxelCoords]*voxel{}
	var order []VoxelCoords
	for _, s := range cloud {
		key := GetVoxelCoordinates(s.Position, origin, voxelSize)
		v, ok := cells[key]
		if !ok {
			v = &voxel{}
			cells[key] = v
			order = append(order, key)
		}
		v.add(s)
	}
	out := make(Cloud, 0, len(order))
	for _, key := range order {
		out = append(out, cells[key].sample())
	}
	return out
}
