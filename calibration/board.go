// Package calibration estimates camera models from checkerboard and flat-wall observations.
package calibration

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Board is a checkerboard described by its inner corner grid.
type Board struct {
	Cols     int     `json:"cols"`
	Rows     int     `json:"rows"`
	SquareMM float64 `json:"square_mm"`
}

// CheckValid validates the board geometry.
func (b Board) CheckValid() error {
	if b.Cols < 2 || b.Rows < 2 {
		return errors.Errorf("board needs at least 2x2 inner corners, got %dx%d", b.Cols, b.Rows)
	}
	if b.SquareMM <= 0 {
		return errors.Errorf("board square size must be positive, got %v", b.SquareMM)
	}
	return nil
}

// CornerCount is the number of inner corners.
func (b Board) CornerCount() int {
	return b.Cols * b.Rows
}

// ModelPoints returns the corners in board coordinates, row-major, on the z = 0 plane.
func (b Board) ModelPoints() []r3.Vector {
	pts := make([]r3.Vector, 0, b.CornerCount())
	for r := 0; r < b.Rows; r++ {
		for c := 0; c < b.Cols; c++ {
			pts = append(pts, r3.Vector{X: float64(c) * b.SquareMM, Y: float64(r) * b.SquareMM})
		}
	}
	return pts
}

// AdjacentPairs returns the index pairs of horizontally and vertically neighbouring corners.
func (b Board) AdjacentPairs() [][2]int {
	pairs := make([][2]int, 0, 2*b.CornerCount())
	for r := 0; r < b.Rows; r++ {
		for c := 0; c < b.Cols; c++ {
			i := r*b.Cols + c
			if c+1 < b.Cols {
				pairs = append(pairs, [2]int{i, i + 1})
			}
			if r+1 < b.Rows {
				pairs = append(pairs, [2]int{i, i + b.Cols})
			}
		}
	}
	return pairs
}

// CornerObservation is the result of running a corner detector on one image.
type CornerObservation struct {
	Found   bool       `json:"found"`
	Corners []r2.Point `json:"corners"`
}

// usable reports whether the observation is a complete detection of the board.
func (o CornerObservation) usable(b Board) bool {
	return o.Found && len(o.Corners) == b.CornerCount()
}

// CornerDepthObservation is a complete board detection on a depth camera with the raw depth in
// millimetres sampled at each corner. Corners without depth have a zero entry.
type CornerDepthObservation struct {
	Corners  []r2.Point `json:"corners"`
	DepthsMM []float64  `json:"depths_mm"`
}
