package transform

import (
	"github.com/pkg/errors"

	"go.viam.com/mocap/utils"
)

// MaxDepthFieldDegree is the highest supported correction polynomial degree.
const MaxDepthFieldDegree = 3

// DepthCorrectionField is a per-pixel polynomial correcting a sensor's systematic depth bias.
// Each cell holds Degree+1 coefficients, lowest order first, of corrected(d) in metres for a raw
// depth d in metres. A cell of [0, 1, 0, ...] is the identity.
type DepthCorrectionField struct {
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Degree       int       `json:"degree"`
	Coefficients []float64 `json:"coefficients"`
}

// NewIdentityDepthCorrectionField returns a field whose every cell is the identity.
func NewIdentityDepthCorrectionField(width, height, degree int) (*DepthCorrectionField, error) {
	if degree < 1 || degree > MaxDepthFieldDegree {
		return nil, errors.Errorf("depth field degree must be in [1, %d], got %d", MaxDepthFieldDegree, degree)
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid depth field size %dx%d", width, height)
	}
	f := &DepthCorrectionField{
		Width:        width,
		Height:       height,
		Degree:       degree,
		Coefficients: make([]float64, width*height*(degree+1)),
	}
	for i := 0; i < width*height; i++ {
		f.Coefficients[i*(degree+1)+1] = 1
	}
	return f, nil
}

// CheckValid verifies that the coefficient grid is consistent with its header.
func (f *DepthCorrectionField) CheckValid() error {
	if f.Degree < 1 || f.Degree > MaxDepthFieldDegree {
		return errors.Errorf("depth field degree must be in [1, %d], got %d", MaxDepthFieldDegree, f.Degree)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Errorf("invalid depth field size %dx%d", f.Width, f.Height)
	}
	expected := f.Width * f.Height * (f.Degree + 1)
	if len(f.Coefficients) != expected {
		return utils.NewInconsistentDimensionsError("depth field coefficients", expected, len(f.Coefficients))
	}
	return nil
}

// Cell returns the coefficients at (x, y). The slice aliases the field and must not be modified.
func (f *DepthCorrectionField) Cell(x, y int) []float64 {
	n := f.Degree + 1
	start := (y*f.Width + x) * n
	return f.Coefficients[start : start+n]
}

// SetCell stores coefficients at (x, y). Only used while the field is being built.
func (f *DepthCorrectionField) SetCell(x, y int, coeffs []float64) {
	copy(f.Cell(x, y), coeffs)
}

// Evaluate applies the cell at (x, y) to a raw depth in millimetres.
func (f *DepthCorrectionField) Evaluate(x, y int, rawMM float64) float64 {
	return utils.Horner(f.Cell(x, y), rawMM/1000) * 1000
}

// Clone returns a deep copy.
func (f *DepthCorrectionField) Clone() *DepthCorrectionField {
	if f == nil {
		return nil
	}
	out := *f
	out.Coefficients = make([]float64, len(f.Coefficients))
	copy(out.Coefficients, f.Coefficients)
	return &out
}
