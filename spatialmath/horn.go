package spatialmath

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// HornSolver is the closed-form weighted absolute orientation solver using the quaternion
// formulation. For every correspondence with centered points a (from) and b (to), a unit
// quaternion q mapping a onto b satisfies X q = 0 with
//
//	X = | 0  dᵀ    |   d = b - a
//	    | d  [s]×  |   s = b + a
//
// so q is the eigenvector of the smallest eigenvalue of M = Σ w XᵀX.
type HornSolver struct {
	correspondenceSet
}

// NewHornSolver returns an empty closed-form solver.
func NewHornSolver() *HornSolver {
	return &HornSolver{}
}

// Solve returns the transform mapping From points onto To points. An empty set, or one whose
// weights sum to zero, yields the identity.
func (hs *HornSolver) Solve() (RigidTransform, error) {
	return solveHorn(hs.snapshot())
}

func solveHorn(items []Correspondence) (RigidTransform, error) {
	fromCentroid, toCentroid, weightSum := weightedCentroids(items)
	if weightSum == 0 {
		return NewIdentityTransform(), nil
	}

	var key [4][4]float64
	for _, c := range items {
		if c.Weight == 0 {
			continue
		}
		a := c.From.Sub(fromCentroid)
		b := c.To.Sub(toCentroid)
		d := b.Sub(a)
		s := b.Add(a)
		x := [4][4]float64{
			{0, d.X, d.Y, d.Z},
			{d.X, 0, -s.Z, s.Y},
			{d.Y, s.Z, 0, -s.X},
			{d.Z, -s.Y, s.X, 0},
		}
		for i := 0; i < 4; i++ {
			for j := i; j < 4; j++ {
				var sum float64
				for k := 0; k < 4; k++ {
					sum += x[k][i] * x[k][j]
				}
				key[i][j] += c.Weight * sum
			}
		}
	}

	sym := mat.NewSymDense(4, nil)
	for i := 0; i < 4; i++ {
		for j := i; j < 4; j++ {
			sym.SetSym(i, j, key[i][j]/weightSum)
		}
	}

	var eigen mat.EigenSym
	if ok := eigen.Factorize(sym, true); !ok {
		return NewIdentityTransform(), errors.New("eigendecomposition of key matrix failed")
	}
	values := eigen.Values(nil)
	var vectors mat.Dense
	eigen.VectorsTo(&vectors)

	minIdx := 0
	for i, v := range values {
		if v < values[minIdx] {
			minIdx = i
		}
	}
	q := quat.Number{
		Real: vectors.At(0, minIdx),
		Imag: vectors.At(1, minIdx),
		Jmag: vectors.At(2, minIdx),
		Kmag: vectors.At(3, minIdx),
	}

	rotation := NewRigidTransform(q, r3.Vector{})
	translation := toCentroid.Sub(rotation.Apply(fromCentroid))
	return NewRigidTransform(q, translation), nil
}
