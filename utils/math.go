package utils

import (
	"math"
)

// Square returns n*n. math.Pow(x, 2) is slow, this is faster.
func Square(n float64) float64 {
	return n * n
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Float64AlmostEqual compares two float64s and returns if the difference between them is less than epsilon.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

// Horner evaluates the polynomial with the given coefficients, lowest degree first, at x.
func Horner(coeffs []float64, x float64) float64 {
	result := 0.0
	for i := len(coeffs) - 1; i >= 0; i-- {
		result = result*x + coeffs[i]
	}
	return result
}

// Geometric returns start*ratio^step approaching floor, i.e. floor + (start-floor)*ratio^step.
func Geometric(start, floor, ratio float64, step int) float64 {
	return floor + (start-floor)*math.Pow(ratio, float64(step))
}
