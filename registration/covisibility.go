// Package registration estimates the world pose of every camera in a rig, first coarsely from
// skeletons seen by several cameras and then finely by aligning their point clouds.
package registration

import (
	"time"

	"go.viam.com/mocap/skeleton"
	"go.viam.com/mocap/utils"
)

// CoVisibility is a symmetric matrix of how much evidence two cameras share.
type CoVisibility struct {
	n      int
	scores []float64
}

// NewCoVisibility returns an all-zero matrix for n cameras.
func NewCoVisibility(n int) *CoVisibility {
	return &CoVisibility{n: n, scores: make([]float64, n*n)}
}

// NewCoVisibilityFromRows builds a matrix from rows, which must be square. Entries are
// symmetrized by taking the larger of (i, j) and (j, i).
func NewCoVisibilityFromRows(rows [][]float64) (*CoVisibility, error) {
	cv := NewCoVisibility(len(rows))
	for i, row := range rows {
		if len(row) != len(rows) {
			return nil, utils.NewInconsistentDimensionsError("co-visibility row", len(rows), len(row))
		}
		for j, v := range row {
			if i == j {
				continue
			}
			if v > cv.Score(i, j) {
				cv.set(i, j, v)
			}
		}
	}
	return cv, nil
}

// Len returns the number of cameras.
func (cv *CoVisibility) Len() int {
	return cv.n
}

// Score returns the shared evidence of cameras i and j.
func (cv *CoVisibility) Score(i, j int) float64 {
	return cv.scores[i*cv.n+j]
}

// Add increases the score of the pair (i, j) and (j, i).
func (cv *CoVisibility) Add(i, j int, score float64) error {
	if i < 0 || i >= cv.n {
		return utils.NewIndexOutOfRangeError("camera", i, cv.n)
	}
	if j < 0 || j >= cv.n {
		return utils.NewIndexOutOfRangeError("camera", j, cv.n)
	}
	if i == j {
		return nil
	}
	cv.set(i, j, cv.Score(i, j)+score)
	return nil
}

func (cv *CoVisibility) set(i, j int, v float64) {
	cv.scores[i*cv.n+j] = v
	cv.scores[j*cv.n+i] = v
}

// Row returns the scores of camera i against every other camera; the diagonal is zero.
func (cv *CoVisibility) Row(i int) []float64 {
	return append([]float64(nil), cv.scores[i*cv.n:(i+1)*cv.n]...)
}

// singleBody returns the only body of a frame.
func singleBody(f skeleton.BodyFrame) (skeleton.JointFrame, bool) {
	if len(f.Bodies) != 1 {
		return nil, false
	}
	for _, b := range f.Bodies {
		return b, true
	}
	return nil, false
}

// CoVisibilityFromRecordings counts, for every camera pair, the joints both cameras observed at
// the same moment while each saw exactly one person. Those are the observations skeleton
// registration can turn into correspondences.
func CoVisibilityFromRecordings(recordings []*skeleton.Recording, tolerance time.Duration) *CoVisibility {
	cv := NewCoVisibility(len(recordings))
	for i := range recordings {
		for j := i + 1; j < len(recordings); j++ {
			var shared int
			forEachSharedJoint(recordings[i], recordings[j], tolerance, func(_, _ skeleton.BodyFrame, _ skeleton.JointLabel) {
				shared++
			})
			cv.set(i, j, float64(shared))
		}
	}
	return cv
}

// forEachSharedJoint pairs every single-body frame of a with the nearest single-body frame of b
// within tolerance and calls fn for every joint present in both.
func forEachSharedJoint(
	a, b *skeleton.Recording,
	tolerance time.Duration,
	fn func(fa, fb skeleton.BodyFrame, j skeleton.JointLabel),
) {
	for _, fa := range a.Frames {
		ja, ok := singleBody(fa)
		if !ok {
			continue
		}
		idx, ok := b.NearestFrame(fa.Timestamp, tolerance)
		if !ok {
			continue
		}
		fb := b.Frames[idx]
		jb, ok := singleBody(fb)
		if !ok {
			continue
		}
		for _, label := range ja.Labels() {
			if _, ok := jb[label]; ok {
				fn(fa, fb, label)
			}
		}
	}
}

// Aggregator reduces a camera's co-visibility row to a single connectivity score.
type Aggregator func(row []float64) float64

// SumAggregator scores a camera by its total shared evidence.
func SumAggregator(row []float64) float64 {
	var s float64
	for _, v := range row {
		s += v
	}
	return s
}

// MaxAggregator scores a camera by its strongest single link.
func MaxAggregator(row []float64) float64 {
	var m float64
	for _, v := range row {
		if v > m {
			m = v
		}
	}
	return m
}
