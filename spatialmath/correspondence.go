package spatialmath

import (
	"sync"

	"github.com/golang/geo/r3"
)

// Correspondence pairs a point with the point it should be moved onto.
type Correspondence struct {
	From   r3.Vector
	To     r3.Vector
	Weight float64
}

// A CorrespondenceSolver estimates the rigid transform that best maps the From points of its
// correspondences onto their To points. PutCorrespondence may be called concurrently; Solve must
// only be called once all writers are done.
type CorrespondenceSolver interface {
	PutCorrespondence(from, to r3.Vector, weight float64)
	Solve() (RigidTransform, error)
	PointCount() int
	Clear()
}

// correspondenceSet is a multi-producer append-only accumulator shared by the solvers.
type correspondenceSet struct {
	mu    sync.Mutex
	items []Correspondence
}

// PutCorrespondence appends a correspondence. Negative weights are clamped to zero.
func (cs *correspondenceSet) PutCorrespondence(from, to r3.Vector, weight float64) {
	if weight < 0 {
		weight = 0
	}
	cs.mu.Lock()
	cs.items = append(cs.items, Correspondence{From: from, To: to, Weight: weight})
	cs.mu.Unlock()
}

// PointCount returns the number of correspondences accumulated so far.
func (cs *correspondenceSet) PointCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.items)
}

// Clear drops all correspondences.
func (cs *correspondenceSet) Clear() {
	cs.mu.Lock()
	cs.items = nil
	cs.mu.Unlock()
}

func (cs *correspondenceSet) snapshot() []Correspondence {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]Correspondence, len(cs.items))
	copy(out, cs.items)
	return out
}

// weightedCentroids returns the weighted centroids of the From and To sets and the weight sum.
func weightedCentroids(items []Correspondence) (r3.Vector, r3.Vector, float64) {
	var from, to r3.Vector
	var weightSum float64
	for _, c := range items {
		from = from.Add(c.From.Mul(c.Weight))
		to = to.Add(c.To.Mul(c.Weight))
		weightSum += c.Weight
	}
	if weightSum <= 0 {
		return r3.Vector{}, r3.Vector{}, 0
	}
	return from.Mul(1 / weightSum), to.Mul(1 / weightSum), weightSum
}
