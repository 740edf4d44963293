package transform

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func testModel(t *testing.T) *CameraModel {
	t.Helper()
	m, err := NewCameraModel(NewCenteredIntrinsics(64, 48, 55, 57), DefaultSensorProfile())
	test.That(t, err, test.ShouldBeNil)
	return m
}

func TestCorrectDepthWithoutField(t *testing.T) {
	m := testModel(t)
	for _, x := range []float64{-10, 0, 13.5, 63, 200} {
		for _, y := range []float64{-1, 0, 20, 47} {
			for _, z := range []float64{0, 1, 812.25, 4000} {
				test.That(t, m.CorrectDepth(x, y, z), test.ShouldEqual, z)
			}
		}
	}
}

func TestCorrectDepthWithField(t *testing.T) {
	m := testModel(t)
	field, err := NewIdentityDepthCorrectionField(64, 48, 2)
	test.That(t, err, test.ShouldBeNil)
	// corrected = 0.01 + 1.0 d + 0.1 d² in metres
	field.SetCell(10, 20, []float64{0.01, 1, 0.1})

	corrected, err := m.WithDepthField(field)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.DepthField(), test.ShouldBeNil)

	test.That(t, corrected.CorrectDepth(10, 20, 2000), test.ShouldAlmostEqual, 10+2000+400)
	test.That(t, corrected.CorrectDepth(11, 20, 2000), test.ShouldAlmostEqual, 2000)
	// Outside the field the raw depth is used.
	test.That(t, corrected.CorrectDepth(-5, 20, 2000), test.ShouldEqual, 2000)
	test.That(t, corrected.CorrectDepth(10, 100, 2000), test.ShouldEqual, 2000)

	// Later writes to the caller's field do not leak into the model.
	field.SetCell(10, 20, []float64{0, 1, 0})
	test.That(t, corrected.CorrectDepth(10, 20, 2000), test.ShouldAlmostEqual, 2410)

	// A half resolution field is looked up by nearest cell.
	coarse, err := NewIdentityDepthCorrectionField(32, 24, 1)
	test.That(t, err, test.ShouldBeNil)
	coarse.SetCell(5, 10, []float64{0, 2})
	corrected, err = m.WithDepthField(coarse)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, corrected.CorrectDepth(10, 20, 1000), test.ShouldAlmostEqual, 2000)

	// Changing intrinsics drops the field.
	resized, err := corrected.WithIntrinsics(NewCenteredIntrinsics(128, 96, 110, 114))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resized.DepthField(), test.ShouldBeNil)
	test.That(t, resized.CorrectDepth(10, 20, 1000), test.ShouldEqual, 1000)

	bad := &DepthCorrectionField{Width: 2, Height: 2, Degree: 1, Coefficients: make([]float64, 3)}
	_, err = m.WithDepthField(bad)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestScreenToWorldRoundTrip(t *testing.T) {
	m := testModel(t)
	m, err := m.WithWorldScale(1.02, 0.98, 15)
	test.That(t, err, test.ShouldBeNil)
	m, err = m.WithImageScale(1.01, 0.99)
	test.That(t, err, test.ShouldBeNil)

	for _, px := range [][3]float64{{0, 0, 900}, {32, 24, 1500}, {63, 10, 3000}, {5.5, 40.25, 2222}} {
		p := m.ScreenToWorld(px[0], px[1], px[2])
		x, y, raw := m.WorldToScreen(p)
		test.That(t, x, test.ShouldAlmostEqual, px[0], 1e-9)
		test.That(t, y, test.ShouldAlmostEqual, px[1], 1e-9)
		test.That(t, raw, test.ShouldAlmostEqual, px[2], 1e-9)
	}

	// The image centre lies on the optical axis, and y grows upwards in world space.
	centre := m.ScreenToWorld(32, 24, 1000)
	test.That(t, centre.X, test.ShouldAlmostEqual, 0)
	test.That(t, centre.Y, test.ShouldAlmostEqual, 0)
	test.That(t, centre.Z, test.ShouldAlmostEqual, 1015)
	test.That(t, m.ScreenToWorld(32, 0, 1000).Y, test.ShouldBeGreaterThan, 0)
}

func TestUndistortion(t *testing.T) {
	m := testModel(t)
	bc, err := NewBrownConrady([]float64{-0.2, 0.05, 0.001, -0.002, 0.01})
	test.That(t, err, test.ShouldBeNil)
	distorted, err := m.WithDistortion(bc)
	test.That(t, err, test.ShouldBeNil)

	x, y := m.UndistortPixel(7, 9)
	test.That(t, x, test.ShouldEqual, 7)
	test.That(t, y, test.ShouldEqual, 9)

	for _, px := range [][2]float64{{0, 0}, {63, 47}, {10, 30}, {32, 24}} {
		// table and direct computation agree
		ux, uy := distorted.UndistortPixel(px[0], px[1])
		direct := distorted.undistortDirect(px[0], px[1])
		test.That(t, ux, test.ShouldAlmostEqual, direct.X)
		test.That(t, uy, test.ShouldAlmostEqual, direct.Y)

		dx, dy := distorted.DistortPixel(ux, uy)
		test.That(t, dx, test.ShouldAlmostEqual, px[0], 1e-4)
		test.That(t, dy, test.ShouldAlmostEqual, px[1], 1e-4)
	}

	// Non-integral pixels are computed directly.
	ux, _ := distorted.UndistortPixel(10.5, 30)
	test.That(t, ux, test.ShouldNotEqual, 10.5)

	p := distorted.ScreenToWorld(3, 4, 2000)
	x, y, _ = distorted.WorldToScreen(p)
	test.That(t, x, test.ShouldAlmostEqual, 3, 1e-4)
	test.That(t, y, test.ShouldAlmostEqual, 4, 1e-4)

	_, err = NewBrownConrady(make([]float64, 9))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCameraModelJSON(t *testing.T) {
	m := testModel(t)
	bc, err := NewBrownConrady([]float64{-0.1, 0.01})
	test.That(t, err, test.ShouldBeNil)
	m, err = m.WithDistortion(bc)
	test.That(t, err, test.ShouldBeNil)
	field, err := NewIdentityDepthCorrectionField(64, 48, 3)
	test.That(t, err, test.ShouldBeNil)
	field.SetCell(1, 1, []float64{0, 1.1, 0, 0})
	m, err = m.WithDepthField(field)
	test.That(t, err, test.ShouldBeNil)
	m, err = m.WithWorldScale(1.1, 1.2, -7)
	test.That(t, err, test.ShouldBeNil)

	data, err := json.Marshal(m)
	test.That(t, err, test.ShouldBeNil)
	path := filepath.Join(t.TempDir(), "camera.json")
	test.That(t, os.WriteFile(path, data, 0o600), test.ShouldBeNil)

	loaded, err := NewCameraModelFromJSONFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.Intrinsics(), test.ShouldResemble, m.Intrinsics())
	test.That(t, loaded.Distortion(), test.ShouldResemble, m.Distortion())
	test.That(t, loaded.DepthField(), test.ShouldResemble, m.DepthField())
	test.That(t, loaded.DepthOffset(), test.ShouldEqual, -7.0)
	test.That(t, loaded.ScreenToWorld(1, 1, 1000), test.ShouldResemble, m.ScreenToWorld(1, 1, 1000))

	var partial CameraModel
	err = json.Unmarshal([]byte(`{"intrinsic_parameters":{"width_px":4,"height_px":4,"fx":2,"fy":2,"ppx":2,"ppy":2}}`), &partial)
	test.That(t, err, test.ShouldBeNil)
	sx, sy := partial.WorldScale()
	test.That(t, sx, test.ShouldEqual, 1.0)
	test.That(t, sy, test.ShouldEqual, 1.0)
	test.That(t, partial.Profile(), test.ShouldResemble, DefaultSensorProfile())

	err = json.Unmarshal([]byte(`{"intrinsic_parameters":{"width_px":0}}`), &partial)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewCameraModelFromJSONFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSensorProfile(t *testing.T) {
	sp := DefaultSensorProfile()
	test.That(t, sp.CheckValid(), test.ShouldBeNil)
	test.That(t, sp.DepthUncertainty((sp.MinDepthMM+sp.MaxDepthMM)/2), test.ShouldEqual, 1.0)
	test.That(t, sp.DepthUncertainty(sp.MaxDepthMM), test.ShouldAlmostEqual, 2.0)

	m := testModel(t)
	edge := m.ScreenToWorld(64, 24, 2000)
	test.That(t, sp.RadialRatio(edge), test.ShouldAlmostEqual, 1.0, 1e-9)
	test.That(t, m.RadialRatio(64, 24), test.ShouldAlmostEqual, 1.0)

	sp.Shear = 0
	test.That(t, sp.CheckValid(), test.ShouldNotBeNil)
}
