package spatialmath

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func randomPoints(rng *rand.Rand, n int) []r3.Vector {
	points := make([]r3.Vector, n)
	for i := range points {
		points[i] = r3.Vector{
			X: rng.Float64()*1000 - 500,
			Y: rng.Float64()*1000 - 500,
			Z: rng.Float64()*1000 + 1000,
		}
	}
	return points
}

func solverFactories() map[string]func() CorrespondenceSolver {
	return map[string]func() CorrespondenceSolver{
		"horn":      func() CorrespondenceSolver { return NewHornSolver() },
		"iterative": func() CorrespondenceSolver { return NewIterativeSolver() },
	}
}

func TestSolversRecoverKnownTransform(t *testing.T) {
	known := NewTransformFromAxisAngle(r3.Vector{X: 0.2, Y: 1, Z: -0.4}, 0.6, r3.Vector{X: 120, Y: -40, Z: 300})
	for name, factory := range solverFactories() {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(1))
			solver := factory()
			for _, p := range randomPoints(rng, 200) {
				solver.PutCorrespondence(p, known.Apply(p), 0.5+rng.Float64())
			}
			test.That(t, solver.PointCount(), test.ShouldEqual, 200)

			solved, err := solver.Solve()
			test.That(t, err, test.ShouldBeNil)
			test.That(t, solved.Inverse().Compose(known).RotationAngle(), test.ShouldBeLessThan, 1e-3)
			diff := solved.Translation().Sub(known.Translation()).Norm()
			test.That(t, diff/known.Translation().Norm(), test.ShouldBeLessThan, 1e-3)
		})
	}
}

func TestSolversEmptyIsIdentity(t *testing.T) {
	for name, factory := range solverFactories() {
		t.Run(name, func(t *testing.T) {
			solver := factory()
			solved, err := solver.Solve()
			test.That(t, err, test.ShouldBeNil)
			test.That(t, solved.AlmostEqual(NewIdentityTransform(), 0, 0), test.ShouldBeTrue)

			// Zero weights behave like an empty set.
			solver.PutCorrespondence(r3.Vector{X: 1}, r3.Vector{X: 2}, 0)
			solver.PutCorrespondence(r3.Vector{Y: 1}, r3.Vector{Y: 5}, -3)
			solved, err = solver.Solve()
			test.That(t, err, test.ShouldBeNil)
			test.That(t, solved.AlmostEqual(NewIdentityTransform(), 0, 0), test.ShouldBeTrue)

			solver.Clear()
			test.That(t, solver.PointCount(), test.ShouldEqual, 0)
		})
	}
}

func TestHornSolverOrderInvariantAndConcurrent(t *testing.T) {
	known := NewTransformFromAxisAngle(r3.Vector{Z: 1}, -1.1, r3.Vector{X: -30, Y: 4, Z: 10})
	rng := rand.New(rand.NewSource(7))
	points := randomPoints(rng, 64)

	sequential := NewHornSolver()
	for _, p := range points {
		sequential.PutCorrespondence(p, known.Apply(p), 1)
	}

	concurrent := NewHornSolver()
	var wg sync.WaitGroup
	for i := len(points) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(p r3.Vector) {
			defer wg.Done()
			concurrent.PutCorrespondence(p, known.Apply(p), 1)
		}(points[i])
	}
	wg.Wait()

	a, err := sequential.Solve()
	test.That(t, err, test.ShouldBeNil)
	b, err := concurrent.Solve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.AlmostEqual(b, 1e-9, 1e-6), test.ShouldBeTrue)
}

func TestHornSolverTranslationOnly(t *testing.T) {
	solver := NewHornSolver()
	offset := r3.Vector{X: 3, Y: -2, Z: 1}
	for _, p := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}, {X: 1, Y: 1, Z: 1}} {
		solver.PutCorrespondence(p, p.Add(offset), 1)
	}
	solved, err := solver.Solve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, solved.RotationAngle(), test.ShouldBeLessThan, 1e-6)
	test.That(t, solved.Translation().Sub(offset).Norm(), test.ShouldBeLessThan, 1e-6)
}

func TestHornSolverHalfTurn(t *testing.T) {
	// Rotation by π about x.
	known := NewTransformFromAxisAngle(r3.Vector{X: 1}, math.Pi, r3.Vector{})
	solver := NewHornSolver()
	for _, p := range randomPoints(rand.New(rand.NewSource(3)), 20) {
		solver.PutCorrespondence(p, known.Apply(p), 1)
	}
	solved, err := solver.Solve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, solved.Inverse().Compose(known).RotationAngle(), test.ShouldBeLessThan, 1e-6)
}
