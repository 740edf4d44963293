package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 4.2: the centroid
// moves to the origin and the mean distance from it becomes √2.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, *mat.Dense) {
	nPoints := len(pts)
	var mu r2.Point
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	scale := 1.0
	if d > 0 {
		scale = math.Sqrt(2) / d
	}
	transform := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	inverse := mat.NewDense(3, 3, []float64{
		1 / scale, 0, mu.X,
		0, 1 / scale, mu.Y,
		0, 0, 1,
	})
	out := make([]r2.Point, nPoints)
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	return out, transform, inverse
}

// nullVector returns the right singular vector of the smallest singular value of m.
func nullVector(m *mat.Dense) ([]float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return nil, errors.New("SVD factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	_, cols := v.Dims()
	return mat.Col(nil, cols-1, &v), nil
}

// estimateHomography solves the normalized DLT for H with dst ~ H·src.
func estimateHomography(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, errors.New("homography point sets must have the same length")
	}
	if len(src) < 4 {
		return nil, errors.Errorf("homography needs at least 4 points, got %d", len(src))
	}
	srcN, srcT, _ := normalizePoints(src)
	dstN, _, dstInv := normalizePoints(dst)

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcN {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	h, err := nullVector(a)
	if err != nil {
		return nil, errors.Wrap(err, "homography")
	}
	hn := mat.NewDense(3, 3, h)

	var out mat.Dense
	out.Mul(dstInv, hn)
	out.Mul(&out, srcT)
	if math.Abs(out.At(2, 2)) < 1e-12 {
		return nil, errors.New("degenerate homography")
	}
	out.Scale(1/out.At(2, 2), &out)
	return &out, nil
}

// applyHomography maps p through h.
func applyHomography(h mat.Matrix, p r2.Point) r2.Point {
	x := h.At(0, 0)*p.X + h.At(0, 1)*p.Y + h.At(0, 2)
	y := h.At(1, 0)*p.X + h.At(1, 1)*p.Y + h.At(1, 2)
	w := h.At(2, 0)*p.X + h.At(2, 1)*p.Y + h.At(2, 2)
	return r2.Point{X: x / w, Y: y / w}
}
