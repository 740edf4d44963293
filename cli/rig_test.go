package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/mocap/calibration"
	"go.viam.com/mocap/pointcloud"
	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/session"
	"go.viam.com/mocap/skeleton"
	"go.viam.com/mocap/spatialmath"
)

func body(base r3.Vector, swing float64) skeleton.JointFrame {
	return skeleton.JointFrame{
		skeleton.Head:          base.Add(r3.Vector{Y: 700}),
		skeleton.Neck:          base.Add(r3.Vector{Y: 500}),
		skeleton.Torso:         base.Add(r3.Vector{Y: 200}),
		skeleton.LeftShoulder:  base.Add(r3.Vector{X: -200, Y: 500}),
		skeleton.LeftHand:      base.Add(r3.Vector{X: -280, Z: swing}),
		skeleton.RightShoulder: base.Add(r3.Vector{X: 200, Y: 500}),
		skeleton.RightHand:     base.Add(r3.Vector{X: 280, Z: -swing}),
		skeleton.LeftFoot:      base.Add(r3.Vector{X: -120, Y: -900, Z: -swing}),
		skeleton.RightFoot:     base.Add(r3.Vector{X: 120, Y: -900, Z: swing}),
	}
}

func writeSession(t *testing.T) string {
	t.Helper()
	model, err := transform.NewCameraModel(transform.NewCenteredIntrinsics(16, 12, 14, 14), transform.DefaultSensorProfile())
	test.That(t, err, test.ShouldBeNil)
	poses := []spatialmath.RigidTransform{
		spatialmath.NewIdentityTransform(),
		spatialmath.NewTransformFromAxisAngle(r3.Vector{Y: 1}, -0.4, r3.Vector{X: 1200, Z: 300}),
	}
	s := &session.Session{
		Name:  "cli",
		Board: &calibration.Board{Cols: 9, Rows: 6, SquareMM: 25},
		Cameras: []session.Camera{
			{Name: "left", Width: 16, Height: 12, Model: model},
			{Name: "right", Width: 16, Height: 12, Model: model},
		},
	}
	depth := make([]uint16, 16*12)
	color := make([]byte, 3*len(depth))
	for i := range depth {
		depth[i] = uint16(1500 + 10*(i%16))
		color[3*i] = byte(i)
	}
	for c, pose := range poses {
		rec := &skeleton.Recording{Camera: c, Profile: transform.DefaultSensorProfile(), Segmented: true}
		for i := 0; i < 30; i++ {
			world := body(r3.Vector{X: 15 * float64(i), Z: 2500}, 150*float64(i%7))
			rec.Frames = append(rec.Frames, skeleton.BodyFrame{
				Timestamp: time.Duration(i) * 33 * time.Millisecond,
				Bodies:    map[skeleton.UserID]skeleton.JointFrame{skeleton.UserID(c + 1): world.Transform(pose.Inverse())},
			})
		}
		s.Recordings = append(s.Recordings, rec)
		s.DepthFrames = append(s.DepthFrames, session.DepthFrame{Camera: c, Width: 16, Height: 12, Depth: depth, Color: color})
	}
	path := filepath.Join(t.TempDir(), "session.json")
	test.That(t, session.Save(path, s), test.ShouldBeNil)
	return path
}

func TestRegisterAndReconcile(t *testing.T) {
	in := writeSession(t)
	out := filepath.Join(t.TempDir(), "registered.json")
	cfgPath := filepath.Join(t.TempDir(), "rig.json5")
	test.That(t, os.WriteFile(cfgPath, []byte(`{alignment: {rounds: 2, voxel_size_mm: 5}}`), 0o600), test.ShouldBeNil)

	var stdout, stderr bytes.Buffer
	app := NewApp(&stdout, &stderr)
	pcd := filepath.Join(t.TempDir(), "world.pcd")
	err := app.Run([]string{"rigcal", "--config", cfgPath, "register", "--session", in, "--output", out, "--export-pcd", pcd})
	test.That(t, err, test.ShouldBeNil)
	f, err := os.Open(pcd)
	test.That(t, err, test.ShouldBeNil)
	world, err := pointcloud.ReadPCD(f)
	test.That(t, f.Close(), test.ShouldBeNil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, world, test.ShouldNotBeEmpty)
	test.That(t, stdout.String(), test.ShouldContainSubstring, "right")
	test.That(t, stdout.String(), test.ShouldContainSubstring, "wrote session")

	registered, err := session.Load(out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, registered.Cameras[1].Pose, test.ShouldNotBeNil)

	stdout.Reset()
	err = app.Run([]string{"rigcal", "register", "--skip-clouds", "--session", in, "--output", out})
	test.That(t, err, test.ShouldBeNil)
	registered, err = session.Load(out)
	test.That(t, err, test.ShouldBeNil)
	want := spatialmath.NewTransformFromAxisAngle(r3.Vector{Y: 1}, -0.4, r3.Vector{X: 1200, Z: 300})
	test.That(t, registered.Cameras[1].Pose.AlmostEqual(want, 1e-4, 0.1), test.ShouldBeTrue)

	stdout.Reset()
	err = app.Run([]string{"rigcal", "reconcile", "--fuse", "--session", out})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stdout.String(), test.ShouldContainSubstring, "left:1, right:2")
	test.That(t, stdout.String(), test.ShouldContainSubstring, "MIRROR CORRECTIONS")
}

func TestCalibrationCommandsSkipUnusableCameras(t *testing.T) {
	in := writeSession(t)
	var stdout, stderr bytes.Buffer
	app := NewApp(&stdout, &stderr)

	logFile := filepath.Join(t.TempDir(), "rigcal.log")
	err := app.Run([]string{"rigcal", "--log-file", logFile, "intrinsics", "--session", in})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stderr.String(), test.ShouldContainSubstring, "has no board detections")
	logged, err := os.ReadFile(logFile)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(logged), test.ShouldContainSubstring, "loaded session")

	stdout.Reset()
	err = app.Run([]string{"rigcal", "depth-field", "--session", in})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stdout.String(), test.ShouldContainSubstring, "SOLVED PIXELS")

	err = app.Run([]string{"rigcal", "register", "--session", filepath.Join(t.TempDir(), "missing.json")})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDebugFlagReachesQuietedAligner(t *testing.T) {
	in := writeSession(t)
	cfgPath := filepath.Join(t.TempDir(), "rig.json5")
	cfg := `{alignment: {rounds: 1}, log: [{pattern: "rigcal.*.aligner", level: "warn"}]}`
	test.That(t, os.WriteFile(cfgPath, []byte(cfg), 0o600), test.ShouldBeNil)

	register := func(debug bool) string {
		var stdout, stderr bytes.Buffer
		logFile := filepath.Join(t.TempDir(), "rigcal.log")
		args := []string{"rigcal", "--config", cfgPath, "--log-file", logFile}
		if debug {
			args = append(args, "--debug")
		}
		args = append(args, "register", "--session", in)
		test.That(t, NewApp(&stdout, &stderr).Run(args), test.ShouldBeNil)
		logged, err := os.ReadFile(logFile)
		test.That(t, err, test.ShouldBeNil)
		return string(logged)
	}

	logged := register(true)
	test.That(t, logged, test.ShouldContainSubstring, "rigcal.register.aligner")
	test.That(t, logged, test.ShouldContainSubstring, "alignment round done")

	logged = register(false)
	test.That(t, logged, test.ShouldContainSubstring, "loaded session")
	test.That(t, logged, test.ShouldNotContainSubstring, "alignment round done")
}
