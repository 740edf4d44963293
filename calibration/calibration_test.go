package calibration

import (
	"context"
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/rimage"
	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/spatialmath"
	"go.viam.com/mocap/utils"
)

var testBoard = Board{Cols: 9, Rows: 6, SquareMM: 25}

// boardPoses places the board centre in front of the camera with a variety of tilts.
func boardPoses() []spatialmath.RigidTransform {
	centre := r3.Vector{X: 4 * 25, Y: 2.5 * 25}
	views := []struct {
		axis  r3.Vector
		angle float64
		z     float64
	}{
		{r3.Vector{X: 1}, 0.4, 600},
		{r3.Vector{Y: 1}, -0.4, 650},
		{r3.Vector{X: 1, Y: 1}, 0.5, 700},
		{r3.Vector{X: 1, Y: -1}, -0.35, 550},
		{r3.Vector{Y: 1}, 0.3, 800},
		{r3.Vector{X: 1}, -0.3, 750},
		{r3.Vector{X: 1, Y: 0.3}, 0.25, 620},
	}
	poses := make([]spatialmath.RigidTransform, 0, len(views))
	for _, v := range views {
		pose := spatialmath.NewTransformFromAxisAngle(v.axis, v.angle, r3.Vector{Z: v.z})
		poses = append(poses, pose.Compose(spatialmath.NewTranslation(centre.Mul(-1))))
	}
	return poses
}

func syntheticObservations(lens lensParams) []CornerObservation {
	var out []CornerObservation
	for _, pose := range boardPoses() {
		obs := CornerObservation{Found: true}
		for _, p := range testBoard.ModelPoints() {
			px, _ := lens.project(pose, p)
			obs.Corners = append(obs.Corners, px)
		}
		out = append(out, obs)
	}
	return out
}

func TestHomography(t *testing.T) {
	src := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}, {X: 0.5, Y: 0.2}}
	dst := make([]r2.Point, len(src))
	for i, p := range src {
		w := 0.001*p.X + 0.002*p.Y + 1
		dst[i] = r2.Point{X: (2*p.X + 0.1*p.Y + 5) / w, Y: (-0.3*p.X + 1.5*p.Y + 7) / w}
	}
	h, err := estimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.At(0, 0), test.ShouldAlmostEqual, 2, 1e-6)
	test.That(t, h.At(1, 2), test.ShouldAlmostEqual, 7, 1e-6)
	p := applyHomography(h, r2.Point{X: 3, Y: -2})
	w := 0.001*3 + 0.002*-2 + 1
	test.That(t, p.X, test.ShouldAlmostEqual, (6-0.2+5)/w, 1e-6)

	_, err = estimateHomography(src[:3], dst[:3])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCalibrateIntrinsicsClosedForm(t *testing.T) {
	logger := logging.NewTestLogger(t)
	truth := lensParams{fx: 520, fy: 515, cx: 318, cy: 243}
	obs := syntheticObservations(truth)
	// Incomplete detections are ignored.
	obs = append(obs, CornerObservation{Found: false}, CornerObservation{Found: true, Corners: obs[0].Corners[:10]})

	cfg := DefaultIntrinsicsConfig()
	cfg.RefineIterations = 0
	model, report, err := CalibrateIntrinsics(context.Background(), logger, obs, testBoard, image.Pt(640, 480),
		transform.DefaultSensorProfile(), cfg, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Views, test.ShouldEqual, 7)
	test.That(t, report.Refined, test.ShouldBeFalse)
	test.That(t, report.RMS, test.ShouldBeLessThan, 1e-3)

	intr := model.Intrinsics()
	test.That(t, intr.Fx, test.ShouldAlmostEqual, 520, 0.1)
	test.That(t, intr.Fy, test.ShouldAlmostEqual, 515, 0.1)
	test.That(t, intr.Ppx, test.ShouldAlmostEqual, 318, 0.1)
	test.That(t, intr.Ppy, test.ShouldAlmostEqual, 243, 0.1)
	test.That(t, intr.Width, test.ShouldEqual, 640)

	sx, sy := model.ImageScale()
	test.That(t, sx, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, sy, test.ShouldAlmostEqual, 1, 1e-9)

	// The recovered board poses match the generated ones.
	for i, pose := range boardPoses() {
		test.That(t, report.ViewPoses[i].AlmostEqual(pose, 1e-4, 0.1), test.ShouldBeTrue)
	}
}

func TestCalibrateIntrinsicsRefinesDistortion(t *testing.T) {
	logger := logging.NewTestLogger(t)
	truth := lensParams{fx: 520, fy: 515, cx: 318, cy: 243}
	truth.distortion = transform.BrownConrady{RadialK1: -0.15, RadialK2: 0.05}
	obs := syntheticObservations(truth)

	model, report, err := CalibrateIntrinsics(context.Background(), logger, obs, testBoard, image.Pt(640, 480),
		transform.DefaultSensorProfile(), DefaultIntrinsicsConfig(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Refined, test.ShouldBeTrue)
	test.That(t, report.RMS, test.ShouldBeLessThan, report.InitialRMS/2)
	test.That(t, model.Intrinsics().Fx, test.ShouldAlmostEqual, 520, 520*0.02)
	test.That(t, model.Distortion().RadialK1, test.ShouldBeLessThan, 0)

	// Barrel distortion is stretched by undistortion, so the image scale shrinks it back.
	sx, sy := model.ImageScale()
	test.That(t, sx, test.ShouldBeLessThanOrEqualTo, 1)
	test.That(t, sy, test.ShouldBeLessThanOrEqualTo, 1)
}

func TestReprojectionRMS(t *testing.T) {
	lens := lensParams{fx: 520, fy: 515, cx: 318, cy: 243}
	obs := syntheticObservations(lens)
	var poses []viewPose
	for _, pose := range boardPoses() {
		poses = append(poses, viewPose{
			rotation:    spatialmath.QuatToR4AA(pose.Quaternion()).ToR3(),
			translation: pose.Translation(),
		})
	}
	model := testBoard.ModelPoints()
	test.That(t, reprojectionRMS(lens, poses, model, obs), test.ShouldAlmostEqual, 0, 1e-6)

	shifted := make([]CornerObservation, len(obs))
	for v, o := range obs {
		shifted[v] = CornerObservation{Found: true}
		for _, c := range o.Corners {
			shifted[v].Corners = append(shifted[v].Corners, c.Add(r2.Point{X: 3, Y: 4}))
		}
	}
	test.That(t, reprojectionRMS(lens, poses, model, shifted), test.ShouldAlmostEqual, 5, 1e-6)
	test.That(t, reprojectionRMS(lens, nil, model, nil), test.ShouldEqual, 0)
}

func TestCalibrateIntrinsicsInsufficientViews(t *testing.T) {
	logger := logging.NewTestLogger(t)
	obs := syntheticObservations(lensParams{fx: 520, fy: 515, cx: 318, cy: 243})

	cfg := DefaultIntrinsicsConfig()
	cfg.MaxFrames = 2
	_, _, err := CalibrateIntrinsics(context.Background(), logger, obs, testBoard, image.Pt(640, 480),
		transform.DefaultSensorProfile(), cfg, rand.New(rand.NewSource(2)))
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)

	cfg.MaxFrames = 3
	_, report, err := CalibrateIntrinsics(context.Background(), logger, obs, testBoard, image.Pt(640, 480),
		transform.DefaultSensorProfile(), cfg, rand.New(rand.NewSource(2)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Views, test.ShouldEqual, 3)

	_, _, err = CalibrateIntrinsics(context.Background(), logger, obs, Board{Cols: 1, Rows: 6, SquareMM: 25},
		image.Pt(640, 480), transform.DefaultSensorProfile(), cfg, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func nominalDepthModel(t *testing.T, width, height int) *transform.CameraModel {
	t.Helper()
	profile := transform.DefaultSensorProfile()
	fx := float64(width) / profile.XtoZ
	fy := float64(height) / profile.YtoZ
	model, err := transform.NewCameraModel(transform.NewCenteredIntrinsics(width, height, fx, fy), profile)
	test.That(t, err, test.ShouldBeNil)
	return model
}

func TestDepthFieldAccumulator(t *testing.T) {
	logger := logging.NewTestLogger(t)
	model := nominalDepthModel(t, 64, 48)
	cfg := DefaultDepthFieldConfig()
	cfg.Degree = 2
	acc, err := NewDepthFieldAccumulator(model, cfg)
	test.That(t, err, test.ShouldBeNil)

	bias := func(x, y int) float64 {
		r := model.RadialRatio(float64(x), float64(y))
		return 1 + 0.01*r*r
	}
	for z := 1000.0; z < 3000; z += 100 {
		dm := rimage.NewEmptyDepthMap(64, 48)
		for y := 0; y < 48; y++ {
			for x := 0; x < 64; x++ {
				dm.Set(x, y, rimage.Depth(math.Round(z*bias(x, y))))
			}
		}
		test.That(t, acc.AddFrame(context.Background(), dm), test.ShouldBeNil)
	}
	test.That(t, acc.FrameCount(), test.ShouldEqual, 20)

	// Rejected frames leave the accumulator unchanged.
	test.That(t, acc.AddFrame(context.Background(), rimage.NewEmptyDepthMap(32, 48)), test.ShouldNotBeNil)
	err = acc.AddFrame(context.Background(), rimage.NewEmptyDepthMap(64, 48))
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)
	test.That(t, acc.FrameCount(), test.ShouldEqual, 20)

	field, solved, err := acc.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, solved, test.ShouldBeGreaterThan, 0)
	logger.Debugw("solved depth field", "pixels", solved)

	corrected, err := model.WithDepthField(field)
	test.That(t, err, test.ShouldBeNil)
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			raw := math.Round(2000 * bias(x, y))
			got := corrected.CorrectDepth(float64(x), float64(y), raw)
			if model.RadialRatio(float64(x), float64(y)) <= 0.9 {
				test.That(t, got, test.ShouldAlmostEqual, 2000, 2000*0.003)
			} else if model.RadialRatio(float64(x), float64(y)) > cfg.FieldOfViewLimit {
				// never sampled, so the cell is the identity
				test.That(t, got, test.ShouldAlmostEqual, raw, 1e-9)
			}
		}
	}

	_, err = NewDepthFieldAccumulator(model, DepthFieldConfig{Degree: 4})
	test.That(t, err, test.ShouldNotBeNil)

	// Too few frames leaves every cell at the identity.
	sparse, err := NewDepthFieldAccumulator(model, cfg)
	test.That(t, err, test.ShouldBeNil)
	dm := rimage.NewEmptyDepthMap(64, 48)
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			dm.Set(x, y, 1500)
		}
	}
	test.That(t, sparse.AddFrame(context.Background(), dm), test.ShouldBeNil)
	_, solved, err = sparse.Solve(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, solved, test.ShouldEqual, 0)
}

func TestCalibrateRealScaleAndOffset(t *testing.T) {
	logger := logging.NewTestLogger(t)
	nominal := nominalDepthModel(t, 640, 480)
	truth, err := nominal.WithWorldScale(1.03, 0.97, 25)
	test.That(t, err, test.ShouldBeNil)

	centre := r3.Vector{X: 4 * 25, Y: 2.5 * 25}
	var observations []CornerDepthObservation
	for i, z := range []float64{800, 1500, 2500} {
		pose := spatialmath.NewTransformFromAxisAngle(r3.Vector{X: 1, Y: float64(i)}, 0.3, r3.Vector{X: 50, Y: -20, Z: z}).
			Compose(spatialmath.NewTranslation(centre.Mul(-1)))
		var obs CornerDepthObservation
		for _, p := range testBoard.ModelPoints() {
			x, y, raw := truth.WorldToScreen(pose.Apply(p))
			obs.Corners = append(obs.Corners, r2.Point{X: x, Y: y})
			obs.DepthsMM = append(obs.DepthsMM, raw)
		}
		observations = append(observations, obs)
	}
	observations = append(observations, CornerDepthObservation{Corners: observations[0].Corners})

	result, err := CalibrateRealScaleAndOffset(logger, observations, nominal, testBoard, DefaultRealScaleConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.ScaleX, test.ShouldAlmostEqual, 1.03, 1e-3)
	test.That(t, result.ScaleY, test.ShouldAlmostEqual, 0.97, 1e-3)
	test.That(t, result.DepthOffset, test.ShouldAlmostEqual, 25, 0.5)
	test.That(t, result.MeanAbsError, test.ShouldBeLessThan, 0.05)

	corrected, err := result.Apply(nominal)
	test.That(t, err, test.ShouldBeNil)
	sx, sy := corrected.WorldScale()
	test.That(t, sx, test.ShouldEqual, result.ScaleX)
	test.That(t, sy, test.ShouldEqual, result.ScaleY)

	_, err = CalibrateRealScaleAndOffset(logger, nil, nominal, testBoard, DefaultRealScaleConfig())
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)
}

func TestBoard(t *testing.T) {
	b := Board{Cols: 3, Rows: 2, SquareMM: 10}
	test.That(t, b.CheckValid(), test.ShouldBeNil)
	test.That(t, b.ModelPoints()[4], test.ShouldResemble, r3.Vector{X: 10, Y: 10})
	// 2 per row times 2 rows horizontally, plus 3 vertical
	test.That(t, len(b.AdjacentPairs()), test.ShouldEqual, 7)
	test.That(t, Board{Cols: 3, Rows: 2}.CheckValid(), test.ShouldNotBeNil)
}
