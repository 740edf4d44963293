package calibration

import (
	"context"
	"sync"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mocap/rimage"
	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/utils"
)

// DepthFieldConfig tunes the depth correction field fit.
type DepthFieldConfig struct {
	// Degree of the per-pixel correction polynomial, 1 to 3.
	Degree int `json:"degree"`
	// MinSamples is the number of frames a pixel must be seen in before it is solved. Pixels
	// with fewer samples keep the identity correction.
	MinSamples int `json:"min_samples"`
	// FieldOfViewLimit is the largest radial ratio of a pixel used for fitting.
	FieldOfViewLimit float64 `json:"field_of_view_limit"`
	// CenterWindow is the half-size of the window around the principal point whose median depth
	// anchors the plane.
	CenterWindow int `json:"center_window"`
}

// DefaultDepthFieldConfig returns the settings used by the rig tooling.
func DefaultDepthFieldConfig() DepthFieldConfig {
	return DepthFieldConfig{Degree: 3, MinSamples: 16, FieldOfViewLimit: 0.95, CenterWindow: 2}
}

// DepthFieldAccumulator fits a DepthCorrectionField from depth frames of a flat wall. Every frame
// is reduced to per-pixel normal equations as it arrives, so memory does not grow with the
// number of frames.
type DepthFieldAccumulator struct {
	cfg   DepthFieldConfig
	model *transform.CameraModel

	mu     sync.Mutex
	n      int
	ata    []float64 // per pixel upper triangle of AᵀA, n(n+1)/2 values
	atb    []float64 // per pixel Aᵀb, n values
	count  []int32
	frames int
}

// NewDepthFieldAccumulator prepares an accumulator for frames taken by the given camera.
func NewDepthFieldAccumulator(model *transform.CameraModel, cfg DepthFieldConfig) (*DepthFieldAccumulator, error) {
	if cfg.Degree < 1 || cfg.Degree > transform.MaxDepthFieldDegree {
		return nil, errors.Errorf("depth field degree must be in [1, %d], got %d", transform.MaxDepthFieldDegree, cfg.Degree)
	}
	if cfg.FieldOfViewLimit <= 0 {
		cfg.FieldOfViewLimit = 1
	}
	size := model.Size()
	pixels := size.X * size.Y
	n := cfg.Degree + 1
	return &DepthFieldAccumulator{
		cfg:   cfg,
		model: model,
		n:     n,
		ata:   make([]float64, pixels*n*(n+1)/2),
		atb:   make([]float64, pixels*n),
		count: make([]int32, pixels),
	}, nil
}

// FrameCount is the number of frames accumulated so far.
func (acc *DepthFieldAccumulator) FrameCount() int {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.frames
}

// rays returns the normalized ray coordinates of a pixel, so that a camera-space point at depth
// z is (a·z, b·z, z).
func (acc *DepthFieldAccumulator) rays(x, y int) (float64, float64) {
	p := acc.model.ScreenToWorld(float64(x), float64(y), 1000)
	return p.X / p.Z, p.Y / p.Z
}

func (acc *DepthFieldAccumulator) inField(dm *rimage.DepthMap, x, y int) (float64, bool) {
	d := float64(dm.GetDepth(x, y))
	profile := acc.model.Profile()
	if d <= 0 || d < profile.MinDepthMM || d > profile.MaxDepthMM {
		return 0, false
	}
	if acc.model.RadialRatio(float64(x), float64(y)) > acc.cfg.FieldOfViewLimit {
		return 0, false
	}
	return d, true
}

// fitPlane fits 1/z = α + β·a + γ·b over the usable pixels and then re-anchors α so the plane
// passes through the median depth around the principal point.
func (acc *DepthFieldAccumulator) fitPlane(dm *rimage.DepthMap) ([3]float64, error) {
	ata := mat.NewSymDense(3, nil)
	atb := mat.NewVecDense(3, nil)
	var samples int
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			d, ok := acc.inField(dm, x, y)
			if !ok {
				continue
			}
			a, b := acc.rays(x, y)
			row := [3]float64{1, a, b}
			inv := 1000 / d
			for i := 0; i < 3; i++ {
				for j := i; j < 3; j++ {
					ata.SetSym(i, j, ata.At(i, j)+row[i]*row[j])
				}
				atb.SetVec(i, atb.AtVec(i)+row[i]*inv)
			}
			samples++
		}
	}
	if samples < 3 {
		return [3]float64{}, utils.NewInsufficientDataError("plane fit has %d pixels", samples)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(ata); !ok {
		return [3]float64{}, errors.New("plane fit is degenerate")
	}
	var plane mat.VecDense
	if err := chol.SolveVecTo(&plane, atb); err != nil {
		return [3]float64{}, errors.Wrap(err, "plane fit")
	}

	intr := acc.model.Intrinsics()
	cx, cy := int(intr.Ppx), int(intr.Ppy)
	var centre []float64
	for y := cy - acc.cfg.CenterWindow; y <= cy+acc.cfg.CenterWindow; y++ {
		for x := cx - acc.cfg.CenterWindow; x <= cx+acc.cfg.CenterWindow; x++ {
			if !dm.Contains(x, y) {
				continue
			}
			if d, ok := acc.inField(dm, x, y); ok {
				centre = append(centre, d)
			}
		}
	}
	centreDepth, err := stats.Median(centre)
	if err != nil {
		return [3]float64{}, utils.NewInsufficientDataError("no depth at the principal point")
	}
	a, b := acc.rays(cx, cy)
	beta, gamma := plane.AtVec(1), plane.AtVec(2)
	alpha := 1000/centreDepth - beta*a - gamma*b
	return [3]float64{alpha, beta, gamma}, nil
}

// AddFrame accumulates one depth frame of a flat wall. Frames without a usable wall are
// rejected with an error and leave the accumulator unchanged.
func (acc *DepthFieldAccumulator) AddFrame(ctx context.Context, dm *rimage.DepthMap) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	size := acc.model.Size()
	if dm.Width() != size.X || dm.Height() != size.Y {
		return utils.NewInconsistentDimensionsError("depth frame pixels", size.X*size.Y, dm.Width()*dm.Height())
	}
	plane, err := acc.fitPlane(dm)
	if err != nil {
		return err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()
	n := acc.n
	tri := n * (n + 1) / 2
	utils.ParallelForEachPixel(size, func(x, y int) {
		d, ok := acc.inField(dm, x, y)
		if !ok {
			return
		}
		a, b := acc.rays(x, y)
		invExpected := plane[0] + plane[1]*a + plane[2]*b
		if invExpected <= 0 {
			return
		}
		expected := 1 / invExpected
		raw := d / 1000

		var row [transform.MaxDepthFieldDegree + 1]float64
		row[0] = 1
		for k := 1; k < n; k++ {
			row[k] = row[k-1] * raw
		}
		pixel := y*size.X + x
		ata := acc.ata[pixel*tri : (pixel+1)*tri]
		atb := acc.atb[pixel*n : (pixel+1)*n]
		idx := 0
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				ata[idx] += row[i] * row[j]
				idx++
			}
			atb[i] += row[i] * expected
		}
		acc.count[pixel]++
	})
	acc.frames++
	return nil
}

// Solve turns the accumulated normal equations into a correction field. Pixels with too few
// samples or a singular system keep the identity correction.
func (acc *DepthFieldAccumulator) Solve(ctx context.Context) (*transform.DepthCorrectionField, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()

	size := acc.model.Size()
	field, err := transform.NewIdentityDepthCorrectionField(size.X, size.Y, acc.cfg.Degree)
	if err != nil {
		return nil, 0, err
	}
	n := acc.n
	tri := n * (n + 1) / 2
	var solvedMu sync.Mutex
	var solved int
	utils.ParallelForEachPixel(size, func(x, y int) {
		pixel := y*size.X + x
		if int(acc.count[pixel]) <= acc.cfg.MinSamples {
			return
		}
		sym := mat.NewSymDense(n, nil)
		ata := acc.ata[pixel*tri : (pixel+1)*tri]
		idx := 0
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				sym.SetSym(i, j, ata[idx])
				idx++
			}
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(sym); !ok {
			return
		}
		var coeffs mat.VecDense
		rhs := mat.NewVecDense(n, append([]float64(nil), acc.atb[pixel*n:(pixel+1)*n]...))
		if err := chol.SolveVecTo(&coeffs, rhs); err != nil {
			return
		}
		field.SetCell(x, y, coeffs.RawVector().Data)
		solvedMu.Lock()
		solved++
		solvedMu.Unlock()
	})
	return field, solved, nil
}
