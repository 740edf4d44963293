package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"

	"go.viam.com/mocap/rimage"
)

const indexDims = 6

// indexedPoint is a sample in the combined search space: position in millimetres followed by
// Lab colour multiplied by the colour scale.
type indexedPoint struct {
	coords [indexDims]float64
	index  int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	return p.coords[d] - q.coords[d]
}

func (p indexedPoint) Dims() int { return indexDims }

// Distance is the squared Euclidean distance.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	var sum float64
	for i := range p.coords {
		d := p.coords[i] - q.coords[i]
		sum += d * d
	}
	return sum
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Pivot(d kdtree.Dim) int                { return plane{indexedPoints: p, Dim: d}.Pivot() }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane sorts points along one dimension for median pivoting.
type plane struct {
	kdtree.Dim
	indexedPoints
}

func (p plane) Less(i, j int) bool {
	return p.indexedPoints[i].coords[p.Dim] < p.indexedPoints[j].coords[p.Dim]
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.indexedPoints = p.indexedPoints[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// Neighbor is a search result.
type Neighbor struct {
	Index  int
	Sample PointSample
	// SqDist is the squared distance in the combined position and colour space.
	SqDist float64
}

// ColoredIndex is a kd-tree over a cloud in a 6-D space of position and scaled Lab colour. With a
// colour scale of zero it is a purely geometric index.
type ColoredIndex struct {
	cloud      Cloud
	colorScale float64
	tree       *kdtree.Tree
}

// RadiusFallback configures KNearest's expanding search.
type RadiusFallback struct {
	// Levels is the number of radii tried, including the first.
	Levels int
	// Growth multiplies the radius at every level.
	Growth float64
}

// DefaultRadiusFallback tries the requested radius and three doublings of it.
func DefaultRadiusFallback() RadiusFallback {
	return RadiusFallback{Levels: 4, Growth: 2}
}

// NewColoredIndex builds an index over cloud. The cloud is retained, not copied.
func NewColoredIndex(cloud Cloud, colorScale float64) *ColoredIndex {
	idx := &ColoredIndex{cloud: cloud, colorScale: colorScale}
	if len(cloud) == 0 {
		return idx
	}
	pts := make(indexedPoints, len(cloud))
	for i, s := range cloud {
		pts[i] = idx.point(s)
		pts[i].index = i
	}
	idx.tree = kdtree.New(pts, false)
	return idx
}

func (idx *ColoredIndex) point(s PointSample) indexedPoint {
	p := indexedPoint{index: -1}
	p.coords[0], p.coords[1], p.coords[2] = s.Position.X, s.Position.Y, s.Position.Z
	if idx.colorScale != 0 {
		lab := rimage.ToLab(s.Color)
		p.coords[3] = lab.L * idx.colorScale
		p.coords[4] = lab.A * idx.colorScale
		p.coords[5] = lab.B * idx.colorScale
	}
	return p
}

// Len is the number of indexed samples.
func (idx *ColoredIndex) Len() int {
	return len(idx.cloud)
}

// Cloud returns the indexed samples.
func (idx *ColoredIndex) Cloud() Cloud {
	return idx.cloud
}

// Nearest returns the closest sample to q within maxSqDist.
func (idx *ColoredIndex) Nearest(q PointSample, maxSqDist float64) (Neighbor, bool) {
	if idx.tree == nil {
		return Neighbor{}, false
	}
	c, d := idx.tree.Nearest(idx.point(q))
	if c == nil || d > maxSqDist {
		return Neighbor{}, false
	}
	i := c.(indexedPoint).index
	return Neighbor{Index: i, Sample: idx.cloud[i], SqDist: d}, true
}

// NearestPosition is Nearest for a query without colour. It is only meaningful on a geometric
// index.
func (idx *ColoredIndex) NearestPosition(p r3.Vector, maxSqDist float64) (Neighbor, bool) {
	return idx.Nearest(PointSample{Position: p}, maxSqDist)
}

// KNearest returns up to k samples closest to q, nearest first, that lie within radius. When
// fewer than k are found the radius is grown per fallback and the search repeated; once the
// levels are exhausted whatever was found is returned.
func (idx *ColoredIndex) KNearest(q PointSample, k int, radius float64, fallback RadiusFallback) []Neighbor {
	if idx.tree == nil || k <= 0 {
		return nil
	}
	if fallback.Levels < 1 {
		fallback.Levels = 1
	}
	query := idx.point(q)
	var found []Neighbor
	for level := 0; level < fallback.Levels; level++ {
		keeper := kdtree.NewDistKeeper(radius * radius)
		idx.tree.NearestSet(keeper, query)
		found = found[:0]
		for _, cd := range keeper.Heap {
			if cd.Comparable == nil {
				continue
			}
			i := cd.Comparable.(indexedPoint).index
			found = append(found, Neighbor{Index: i, Sample: idx.cloud[i], SqDist: cd.Dist})
		}
		if len(found) >= k {
			break
		}
		radius *= fallback.Growth
	}
	sort.Slice(found, func(i, j int) bool { return found[i].SqDist < found[j].SqDist })
	if len(found) > k {
		found = found[:k]
	}
	return found
}

// NearestK returns the k samples closest to q, nearest first, with no distance bound.
func (idx *ColoredIndex) NearestK(q PointSample, k int) []Neighbor {
	if idx.tree == nil || k <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	idx.tree.NearestSet(keeper, idx.point(q))
	found := make([]Neighbor, 0, k)
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil {
			continue
		}
		i := cd.Comparable.(indexedPoint).index
		found = append(found, Neighbor{Index: i, Sample: idx.cloud[i], SqDist: cd.Dist})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].SqDist < found[j].SqDist })
	return found
}

// MaxRadius is the largest radius KNearest searches for a given starting radius.
func (fb RadiusFallback) MaxRadius(radius float64) float64 {
	if fb.Levels < 1 {
		return radius
	}
	return radius * math.Pow(fb.Growth, float64(fb.Levels-1))
}
