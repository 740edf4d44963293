package calibration

import (
	"context"
	"image"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/spatialmath"
	"go.viam.com/mocap/utils"
)

// minIntrinsicsViews is the smallest number of board views that constrains K with zero skew.
const minIntrinsicsViews = 3

// IntrinsicsConfig tunes CalibrateIntrinsics.
type IntrinsicsConfig struct {
	// MaxFrames caps the number of detections used; zero uses all of them.
	MaxFrames int `json:"max_frames"`
	// RefineIterations bounds the nonlinear refinement. Zero skips it.
	RefineIterations int `json:"refine_iterations"`
	// ImageScaleGridStep is the pixel spacing of the image-scale sampling grid.
	ImageScaleGridStep int `json:"image_scale_grid_step"`
}

// DefaultIntrinsicsConfig returns the settings used by the rig tooling.
func DefaultIntrinsicsConfig() IntrinsicsConfig {
	return IntrinsicsConfig{MaxFrames: 25, RefineIterations: 300, ImageScaleGridStep: 8}
}

// IntrinsicsReport summarizes an intrinsics calibration.
type IntrinsicsReport struct {
	Views       int
	InitialRMS  float64
	RMS         float64
	Refined     bool
	ImageScaleX float64
	ImageScaleY float64
	ViewPoses   []spatialmath.RigidTransform
}

// viewPose is a board pose as a rotation vector and a translation in millimetres.
type viewPose struct {
	rotation    r3.Vector
	translation r3.Vector
}

type lensParams struct {
	fx, fy, cx, cy float64
	distortion     transform.BrownConrady
}

// CalibrateIntrinsics estimates a camera model from checkerboard detections. Up to
// cfg.MaxFrames complete detections are drawn at random with rng, the pinhole parameters come
// from Zhang's closed form over per-view homographies, and a nonlinear refinement of the lens
// and per-view poses is kept only if it lowers the reprojection error. Finally the image scale is
// corrected so that undistorted pixel spacing matches the raw spacing near the centre.
func CalibrateIntrinsics(
	ctx context.Context,
	logger logging.Logger,
	observations []CornerObservation,
	board Board,
	imageSize image.Point,
	profile transform.SensorProfile,
	cfg IntrinsicsConfig,
	rng *rand.Rand,
) (*transform.CameraModel, *IntrinsicsReport, error) {
	if err := board.CheckValid(); err != nil {
		return nil, nil, err
	}
	usable := make([]CornerObservation, 0, len(observations))
	for _, o := range observations {
		if o.usable(board) {
			usable = append(usable, o)
		}
	}
	if rng != nil {
		rng.Shuffle(len(usable), func(i, j int) { usable[i], usable[j] = usable[j], usable[i] })
	}
	if cfg.MaxFrames > 0 && len(usable) > cfg.MaxFrames {
		usable = usable[:cfg.MaxFrames]
	}

	model := board.ModelPoints()
	model2 := make([]r2.Point, len(model))
	for i, p := range model {
		model2[i] = r2.Point{X: p.X, Y: p.Y}
	}
	var homographies []*mat.Dense
	var views []CornerObservation
	for i, o := range usable {
		h, err := estimateHomography(model2, o.Corners)
		if err != nil {
			logger.Debugw("skipping degenerate board view", "view", i, "error", err)
			continue
		}
		homographies = append(homographies, h)
		views = append(views, o)
	}
	if len(homographies) < minIntrinsicsViews {
		return nil, nil, utils.NewInsufficientDataError(
			"intrinsics need %d usable board views, got %d", minIntrinsicsViews, len(homographies))
	}

	k, err := zhangIntrinsics(homographies)
	if err != nil {
		return nil, nil, err
	}
	lens := lensParams{fx: k.At(0, 0), fy: k.At(1, 1), cx: k.At(0, 2), cy: k.At(1, 2)}
	poses := make([]viewPose, len(homographies))
	for i, h := range homographies {
		if poses[i], err = extrinsicsFromHomography(k, h); err != nil {
			return nil, nil, err
		}
	}
	report := &IntrinsicsReport{Views: len(views)}
	report.InitialRMS = reprojectionRMS(lens, poses, model, views)
	report.RMS = report.InitialRMS
	logger.Debugw("closed form intrinsics", "fx", lens.fx, "fy", lens.fy, "cx", lens.cx, "cy", lens.cy,
		"rms", report.InitialRMS)

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if cfg.RefineIterations > 0 {
		refinedLens, refinedPoses, rms, err := refineIntrinsics(lens, poses, model, views, cfg.RefineIterations)
		switch {
		case err != nil:
			logger.Warnw("intrinsics refinement failed, keeping closed form", "error", err)
		case rms < report.RMS:
			lens, poses, report.RMS, report.Refined = refinedLens, refinedPoses, rms, true
		default:
			logger.Debugw("intrinsics refinement did not improve", "rms", rms)
		}
	}
	for _, p := range poses {
		report.ViewPoses = append(report.ViewPoses, p.transform())
	}

	intrinsics := transform.PinholeCameraIntrinsics{
		Width:  imageSize.X,
		Height: imageSize.Y,
		Fx:     lens.fx,
		Fy:     lens.fy,
		Ppx:    lens.cx,
		Ppy:    lens.cy,
	}
	cm, err := transform.NewCameraModel(intrinsics, profile)
	if err != nil {
		return nil, nil, err
	}
	distortion := lens.distortion
	if cm, err = cm.WithDistortion(&distortion); err != nil {
		return nil, nil, err
	}
	report.ImageScaleX, report.ImageScaleY = ImageScaleCorrection(cm, cfg.ImageScaleGridStep)
	if cm, err = cm.WithImageScale(report.ImageScaleX, report.ImageScaleY); err != nil {
		return nil, nil, err
	}
	logger.Infow("calibrated intrinsics", "views", report.Views, "rms", report.RMS, "refined", report.Refined)
	return cm, report, nil
}

// zhangV is the row v_ij of Zhang's constraint system for columns i and j of h.
func zhangV(h mat.Matrix, i, j int) []float64 {
	hi := func(k int) float64 { return h.At(k, i) }
	hj := func(k int) float64 { return h.At(k, j) }
	return []float64{
		hi(0) * hj(0),
		hi(0)*hj(1) + hi(1)*hj(0),
		hi(1) * hj(1),
		hi(2)*hj(0) + hi(0)*hj(2),
		hi(2)*hj(1) + hi(1)*hj(2),
		hi(2) * hj(2),
	}
}

// zhangIntrinsics recovers K from at least three homographies of a planar target.
func zhangIntrinsics(homographies []*mat.Dense) (*mat.Dense, error) {
	v := mat.NewDense(2*len(homographies), 6, nil)
	for n, h := range homographies {
		v12 := zhangV(h, 0, 1)
		v11 := zhangV(h, 0, 0)
		v22 := zhangV(h, 1, 1)
		diff := make([]float64, 6)
		for i := range diff {
			diff[i] = v11[i] - v22[i]
		}
		v.SetRow(2*n, v12)
		v.SetRow(2*n+1, diff)
	}
	b, err := nullVector(v)
	if err != nil {
		return nil, errors.Wrap(err, "intrinsics")
	}
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]
	den := b11*b22 - b12*b12
	if den == 0 || b11 == 0 {
		return nil, errors.New("degenerate board views for intrinsics")
	}
	v0 := (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+v0*(b12*b13-b11*b23))/b11
	alpha2 := lambda / b11
	beta2 := lambda * b11 / den
	if alpha2 <= 0 || beta2 <= 0 {
		return nil, errors.New("degenerate board views for intrinsics")
	}
	alpha := math.Sqrt(alpha2)
	beta := math.Sqrt(beta2)
	gamma := -b12 * alpha2 * beta / lambda
	u0 := gamma*v0/beta - b13*alpha2/lambda
	return mat.NewDense(3, 3, []float64{
		alpha, 0, u0,
		0, beta, v0,
		0, 0, 1,
	}), nil
}

// extrinsicsFromHomography decomposes K⁻¹H = λ[r1 r2 t] and snaps R onto SO(3).
func extrinsicsFromHomography(k, h *mat.Dense) (viewPose, error) {
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return viewPose{}, errors.Wrap(err, "camera matrix is singular")
	}
	var m mat.Dense
	m.Mul(&kInv, h)
	col := func(i int) r3.Vector { return r3.Vector{X: m.At(0, i), Y: m.At(1, i), Z: m.At(2, i)} }
	scale := 1 / col(0).Norm()
	t := col(2).Mul(scale)
	if t.Z < 0 {
		scale = -scale
		t = t.Mul(-1)
	}
	colX := col(0).Mul(scale)
	colY := col(1).Mul(scale)
	colZ := colX.Cross(colY)

	approx := mat.NewDense(3, 3, []float64{
		colX.X, colY.X, colZ.X,
		colX.Y, colY.Y, colZ.Y,
		colX.Z, colY.Z, colZ.Z,
	})
	var svd mat.SVD
	if ok := svd.Factorize(approx, mat.SVDFull); !ok {
		return viewPose{}, errors.New("could not orthonormalize board rotation")
	}
	var u, v, rot mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		return viewPose{}, errors.New("board rotation is a reflection")
	}
	var m4 mgl64.Mat4
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m4.Set(r, c, rot.At(r, c))
		}
	}
	m4.Set(3, 3, 1)
	q := spatialmath.NewTransformFromMat4(m4).Quaternion()
	return viewPose{rotation: spatialmath.QuatToR4AA(q).ToR3(), translation: t}, nil
}

func (vp viewPose) transform() spatialmath.RigidTransform {
	return spatialmath.NewRigidTransform(spatialmath.R3ToR4(vp.rotation).ToQuat(), vp.translation)
}

func (lp *lensParams) project(pose spatialmath.RigidTransform, p r3.Vector) (r2.Point, bool) {
	c := pose.Apply(p)
	if c.Z <= 0 {
		return r2.Point{}, false
	}
	xd, yd := lp.distortion.Transform(c.X/c.Z, c.Y/c.Z)
	return r2.Point{X: lp.fx*xd + lp.cx, Y: lp.fy*yd + lp.cy}, true
}

// reprojectionRMS is the root mean square pixel error of the board model projected into each view.
func reprojectionRMS(lens lensParams, poses []viewPose, model []r3.Vector, views []CornerObservation) float64 {
	var sum float64
	var n int
	for v, pose := range poses {
		t := pose.transform()
		for i, p := range model {
			px, ok := lens.project(t, p)
			if !ok {
				sum += 1e6
			} else {
				d := px.Sub(views[v].Corners[i])
				sum += d.Dot(d)
			}
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

const lensParamCount = 9

// refineIntrinsics minimizes the reprojection error over (fx, fy, cx, cy, k1, k2, p1, p2, k3)
// and every view pose. Parameters are scaled to comparable magnitudes for the optimizer.
func refineIntrinsics(
	lens lensParams,
	poses []viewPose,
	model []r3.Vector,
	views []CornerObservation,
	iterations int,
) (lensParams, []viewPose, float64, error) {
	n := lensParamCount + 6*len(poses)
	scales := make([]float64, n)
	for i := 0; i < 4; i++ {
		scales[i] = lens.fx
	}
	for i := 4; i < lensParamCount; i++ {
		scales[i] = 1
	}
	for v, p := range poses {
		base := lensParamCount + 6*v
		for i := 0; i < 3; i++ {
			scales[base+i] = 1
			scales[base+3+i] = math.Max(p.translation.Norm(), 1)
		}
	}
	pack := func(l lensParams, ps []viewPose) []float64 {
		raw := append([]float64{
			l.fx, l.fy, l.cx, l.cy,
			l.distortion.RadialK1, l.distortion.RadialK2,
			l.distortion.TangentialP1, l.distortion.TangentialP2, l.distortion.RadialK3,
		}, make([]float64, 6*len(ps))...)
		for v, p := range ps {
			base := lensParamCount + 6*v
			copy(raw[base:], []float64{
				p.rotation.X, p.rotation.Y, p.rotation.Z,
				p.translation.X, p.translation.Y, p.translation.Z,
			})
		}
		for i := range raw {
			raw[i] /= scales[i]
		}
		return raw
	}
	unpack := func(x []float64) (lensParams, []viewPose) {
		raw := make([]float64, len(x))
		for i := range x {
			raw[i] = x[i] * scales[i]
		}
		l := lensParams{fx: raw[0], fy: raw[1], cx: raw[2], cy: raw[3]}
		l.distortion = transform.BrownConrady{
			RadialK1:     raw[4],
			RadialK2:     raw[5],
			TangentialP1: raw[6],
			TangentialP2: raw[7],
			RadialK3:     raw[8],
		}
		ps := make([]viewPose, len(poses))
		for v := range ps {
			base := lensParamCount + 6*v
			ps[v] = viewPose{
				rotation:    r3.Vector{X: raw[base], Y: raw[base+1], Z: raw[base+2]},
				translation: r3.Vector{X: raw[base+3], Y: raw[base+4], Z: raw[base+5]},
			}
		}
		return l, ps
	}
	cost := func(x []float64) float64 {
		l, ps := unpack(x)
		rms := reprojectionRMS(l, ps, model, views)
		return rms * rms
	}
	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, cost, x, &fd.Settings{Formula: fd.Central, Step: 1e-7})
		},
	}
	settings := &optimize.Settings{
		MajorIterations: iterations,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-12, Relative: 1e-10, Iterations: 20},
	}
	x0 := pack(lens, poses)
	result, err := optimize.Minimize(problem, x0, settings, &optimize.BFGS{})
	if result == nil {
		return lens, poses, 0, errors.Wrap(err, "intrinsics refinement")
	}
	l, ps := unpack(result.X)
	return l, ps, reprojectionRMS(l, ps, model, views), nil
}

// ImageScaleCorrection returns the horizontal and vertical factors that make undistorted 1-pixel
// steps average to one pixel. Steps are sampled on a grid and weighted by how far the sample is
// from the edge of the field of view, so the centre of the image dominates.
func ImageScaleCorrection(model *transform.CameraModel, gridStep int) (float64, float64) {
	if gridStep <= 0 {
		gridStep = 8
	}
	size := model.Size()
	var wsum, xsum, ysum float64
	for y := 0; y+1 < size.Y; y += gridStep {
		for x := 0; x+1 < size.X; x += gridStep {
			w := 1 - model.RadialRatio(float64(x), float64(y))
			if w <= 0 {
				continue
			}
			ux, uy := model.UndistortPixel(float64(x), float64(y))
			rx, ry := model.UndistortPixel(float64(x+1), float64(y))
			dx, dy := model.UndistortPixel(float64(x), float64(y+1))
			wsum += w
			xsum += w * math.Hypot(rx-ux, ry-uy)
			ysum += w * math.Hypot(dx-ux, dy-uy)
		}
	}
	if wsum == 0 || xsum == 0 || ysum == 0 {
		return 1, 1
	}
	return wsum / xsum, wsum / ysum
}
