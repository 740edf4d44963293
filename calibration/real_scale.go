package calibration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/utils"
)

// RealScaleConfig tunes CalibrateRealScaleAndOffset.
type RealScaleConfig struct {
	GaussNewtonIterations int `json:"gauss_newton_iterations"`
	// SearchIterations is the number of coordinate descent sweeps on the absolute error.
	SearchIterations int `json:"search_iterations"`
	// InitialScaleStep and InitialOffsetStep are the first coordinate descent step sizes.
	InitialScaleStep  float64 `json:"initial_scale_step"`
	InitialOffsetStep float64 `json:"initial_offset_step"`
	// StepShrink multiplies the step sizes after every sweep.
	StepShrink float64 `json:"step_shrink"`
}

// DefaultRealScaleConfig returns the settings used by the rig tooling.
func DefaultRealScaleConfig() RealScaleConfig {
	return RealScaleConfig{
		GaussNewtonIterations: 10,
		SearchIterations:      25,
		InitialScaleStep:      0.01,
		InitialOffsetStep:     10,
		StepShrink:            0.7,
	}
}

// ScaleOffset is a world scale and depth offset correction for a camera model.
type ScaleOffset struct {
	ScaleX      float64
	ScaleY      float64
	DepthOffset float64
	// MeanAbsError is the mean absolute error in millimetres of the corrected corner spacing.
	MeanAbsError float64
}

// rayDepth is a corner as a normalized ray and a depth before any world correction.
type rayDepth struct {
	a, b, z float64
}

type cornerSegment struct {
	from, to rayDepth
}

func (s cornerSegment) length2(sx, sy, offset float64) float64 {
	z1 := s.from.z + offset
	z2 := s.to.z + offset
	dx := sx * (s.from.a*z1 - s.to.a*z2)
	dy := sy * (s.from.b*z1 - s.to.b*z2)
	dz := z1 - z2
	return dx*dx + dy*dy + dz*dz
}

// CalibrateRealScaleAndOffset finds the anisotropic world scale and depth offset that make the
// measured distance between adjacent board corners match the board spacing. A Gauss-Newton fit of
// the squared lengths is followed by a coordinate descent on the total absolute length error.
func CalibrateRealScaleAndOffset(
	logger logging.Logger,
	observations []CornerDepthObservation,
	model *transform.CameraModel,
	board Board,
	cfg RealScaleConfig,
) (ScaleOffset, error) {
	if err := board.CheckValid(); err != nil {
		return ScaleOffset{}, err
	}
	base, err := model.WithWorldScale(1, 1, 0)
	if err != nil {
		return ScaleOffset{}, err
	}
	var segments []cornerSegment
	for i, o := range observations {
		if len(o.Corners) != board.CornerCount() || len(o.DepthsMM) != len(o.Corners) {
			logger.Debugw("skipping incomplete board observation", "observation", i)
			continue
		}
		for _, pair := range board.AdjacentPairs() {
			d1, d2 := o.DepthsMM[pair[0]], o.DepthsMM[pair[1]]
			if d1 <= 0 || d2 <= 0 {
				continue
			}
			segments = append(segments, cornerSegment{
				from: toRayDepth(base.ScreenToWorld(o.Corners[pair[0]].X, o.Corners[pair[0]].Y, d1)),
				to:   toRayDepth(base.ScreenToWorld(o.Corners[pair[1]].X, o.Corners[pair[1]].Y, d2)),
			})
		}
	}
	if len(segments) < 3 {
		return ScaleOffset{}, utils.NewInsufficientDataError("real scale needs at least 3 corner pairs, got %d", len(segments))
	}
	spacing2 := board.SquareMM * board.SquareMM

	x := []float64{1, 1, 0}
	residuals := func(dst, p []float64) {
		for i, s := range segments {
			dst[i] = s.length2(p[0], p[1], p[2]) - spacing2
		}
	}
	jac := mat.NewDense(len(segments), 3, nil)
	r := make([]float64, len(segments))
	for it := 0; it < cfg.GaussNewtonIterations; it++ {
		fd.Jacobian(jac, residuals, x, &fd.JacobianSettings{Formula: fd.Central})
		residuals(r, x)
		var step mat.VecDense
		if err := step.SolveVec(jac, mat.NewVecDense(len(r), r)); err != nil {
			logger.Debugw("gauss-newton step failed", "iteration", it, "error", err)
			break
		}
		for i := range x {
			x[i] -= step.AtVec(i)
		}
		if math.Abs(step.AtVec(0)) < 1e-12 && math.Abs(step.AtVec(1)) < 1e-12 && math.Abs(step.AtVec(2)) < 1e-9 {
			break
		}
	}
	if x[0] <= 0 || x[1] <= 0 || math.IsNaN(x[2]) {
		logger.Warnw("gauss-newton diverged, starting search from identity", "solution", x)
		x = []float64{1, 1, 0}
	}

	absError := func(p []float64) float64 {
		var sum float64
		for _, s := range segments {
			sum += math.Abs(math.Sqrt(s.length2(p[0], p[1], p[2])) - board.SquareMM)
		}
		return sum
	}
	best := absError(x)
	steps := []float64{cfg.InitialScaleStep, cfg.InitialScaleStep, cfg.InitialOffsetStep}
	for it := 0; it < cfg.SearchIterations; it++ {
		for k := range x {
			for _, dir := range []float64{1, -1} {
				candidate := append([]float64(nil), x...)
				candidate[k] += dir * steps[k]
				if candidate[0] <= 0 || candidate[1] <= 0 {
					continue
				}
				if e := absError(candidate); e < best {
					best, x = e, candidate
				}
			}
		}
		for k := range steps {
			steps[k] *= cfg.StepShrink
		}
	}

	result := ScaleOffset{ScaleX: x[0], ScaleY: x[1], DepthOffset: x[2], MeanAbsError: best / float64(len(segments))}
	if math.IsNaN(result.MeanAbsError) {
		return ScaleOffset{}, errors.New("real scale calibration produced NaN")
	}
	logger.Infow("calibrated real scale", "scale_x", result.ScaleX, "scale_y", result.ScaleY,
		"depth_offset", result.DepthOffset, "mean_abs_error_mm", result.MeanAbsError, "segments", len(segments))
	return result, nil
}

func toRayDepth(p r3.Vector) rayDepth {
	return rayDepth{a: p.X / p.Z, b: p.Y / p.Z, z: p.Z}
}

// Apply returns the model with this correction.
func (so ScaleOffset) Apply(model *transform.CameraModel) (*transform.CameraModel, error) {
	return model.WithWorldScale(so.ScaleX, so.ScaleY, so.DepthOffset)
}
