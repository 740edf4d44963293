package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// IterativeSolver estimates the same transform as HornSolver by numerically minimizing the
// weighted squared residual over a rotation vector and a translation. It is slower but accepts
// an arbitrary starting guess and is kept as an interchangeable strategy.
type IterativeSolver struct {
	correspondenceSet

	// MaxIterations bounds the optimizer's major iterations. Zero uses a default.
	MaxIterations int
}

// NewIterativeSolver returns an empty iterative solver.
func NewIterativeSolver() *IterativeSolver {
	return &IterativeSolver{MaxIterations: 200}
}

// Solve minimizes Σ w |R(from - cf) + cf' - to|² where the starting point aligns the centroids.
func (is *IterativeSolver) Solve() (RigidTransform, error) {
	items := is.snapshot()
	fromCentroid, toCentroid, weightSum := weightedCentroids(items)
	if weightSum == 0 {
		return NewIdentityTransform(), nil
	}

	// Work in centered, unit-scaled coordinates so rotation and translation are comparable.
	var spread float64
	for _, c := range items {
		spread += c.Weight * c.From.Sub(fromCentroid).Norm2()
	}
	scale := math.Sqrt(spread / weightSum)
	if scale == 0 {
		scale = 1
	}
	from := make([]r3.Vector, len(items))
	to := make([]r3.Vector, len(items))
	for i, c := range items {
		from[i] = c.From.Sub(fromCentroid).Mul(1 / scale)
		to[i] = c.To.Sub(toCentroid).Mul(1 / scale)
	}

	cost := func(x []float64) float64 {
		pose := NewRigidTransform(R3ToR4(r3.Vector{X: x[0], Y: x[1], Z: x[2]}).ToQuat(), r3.Vector{X: x[3], Y: x[4], Z: x[5]})
		var sum float64
		for i, c := range items {
			sum += c.Weight * pose.Apply(from[i]).Sub(to[i]).Norm2()
		}
		return sum / weightSum
	}
	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, cost, x, &fd.Settings{Formula: fd.Central})
		},
	}
	maxIter := is.MaxIterations
	if maxIter <= 0 {
		maxIter = 200
	}
	settings := &optimize.Settings{
		MajorIterations:   maxIter,
		GradientThreshold: 1e-12,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-15, Iterations: 20},
	}
	initial := make([]float64, 6)
	result, err := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if result == nil {
		return NewIdentityTransform(), errors.Wrap(err, "iterative solve failed")
	}
	x := result.X
	if err != nil && result.F > cost(initial) {
		return NewIdentityTransform(), errors.Wrap(err, "iterative solve diverged")
	}

	rotation := NewRigidTransform(R3ToR4(r3.Vector{X: x[0], Y: x[1], Z: x[2]}).ToQuat(), r3.Vector{})
	offset := r3.Vector{X: x[3], Y: x[4], Z: x[5]}.Mul(scale)
	translation := toCentroid.Add(offset).Sub(rotation.Apply(fromCentroid))
	return NewRigidTransform(rotation.Quaternion(), translation), nil
}
