package utils

import (
	"testing"

	"go.viam.com/test"
)

func TestHorner(t *testing.T) {
	test.That(t, Horner(nil, 3), test.ShouldEqual, 0)
	test.That(t, Horner([]float64{0, 1}, 3), test.ShouldEqual, 3)
	// 1 + 2x + 3x^2 at x=2
	test.That(t, Horner([]float64{1, 2, 3}, 2), test.ShouldEqual, 17)
}

func TestGeometric(t *testing.T) {
	test.That(t, Geometric(100, 10, 0.5, 0), test.ShouldEqual, 100)
	test.That(t, Geometric(100, 10, 0.5, 1), test.ShouldEqual, 55)
	test.That(t, Geometric(100, 10, 0.5, 60), test.ShouldAlmostEqual, 10)
}

func TestClamp(t *testing.T) {
	test.That(t, Clamp(-1, 0, 1), test.ShouldEqual, 0)
	test.That(t, Clamp(0.5, 0, 1), test.ShouldEqual, 0.5)
	test.That(t, Clamp(2, 0, 1), test.ShouldEqual, 1)
	test.That(t, Float64AlmostEqual(1, 1.0001, 1e-3), test.ShouldBeTrue)
}
