package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/mocap/calibration"
	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/skeleton"
	"go.viam.com/mocap/spatialmath"
	"go.viam.com/mocap/utils"
)

func testSession(t *testing.T) *Session {
	t.Helper()
	model, err := transform.NewCameraModel(transform.NewCenteredIntrinsics(8, 6, 7, 7), transform.DefaultSensorProfile())
	test.That(t, err, test.ShouldBeNil)

	depth := make([]uint16, 48)
	color := make([]byte, 3*48)
	for i := range depth {
		depth[i] = 1500
		color[3*i] = 200
	}
	s := &Session{
		Name:  "studio",
		Board: &calibration.Board{Cols: 9, Rows: 6, SquareMM: 25},
		Cameras: []Camera{
			{Name: "left", Width: 8, Height: 6, Model: model},
			{Name: "right", Width: 8, Height: 6, Model: model},
		},
	}
	for c := range s.Cameras {
		s.Recordings = append(s.Recordings, &skeleton.Recording{
			Camera:    c,
			Profile:   transform.DefaultSensorProfile(),
			Segmented: true,
			Frames: []skeleton.BodyFrame{
				{Timestamp: 0, Bodies: map[skeleton.UserID]skeleton.JointFrame{1: {skeleton.Head: {X: 1, Y: 2, Z: 2000}}}},
				{Timestamp: 33 * time.Millisecond, Bodies: map[skeleton.UserID]skeleton.JointFrame{1: {skeleton.Head: {X: 2, Y: 2, Z: 2000}}}},
			},
		})
		s.DepthFrames = append(s.DepthFrames, DepthFrame{Camera: c, Width: 8, Height: 6, Depth: depth, Color: color})
	}
	return s
}

func TestSaveLoad(t *testing.T) {
	s := testSession(t)
	path := filepath.Join(t.TempDir(), "session.json")
	test.That(t, Save(path, s), test.ShouldBeNil)

	loaded, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	// a session saved without an id gets one on load
	test.That(t, loaded.ID, test.ShouldNotEqual, uuid.Nil)
	test.That(t, loaded.Name, test.ShouldEqual, "studio")
	test.That(t, loaded.Cameras, test.ShouldHaveLength, 2)
	test.That(t, loaded.Cameras[1].Model.Intrinsics(), test.ShouldResemble, s.Cameras[1].Model.Intrinsics())
	test.That(t, loaded.Recordings, test.ShouldResemble, s.Recordings)

	recordings, err := loaded.RecordingsByCamera()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, recordings[1].Camera, test.ShouldEqual, 1)

	pose := spatialmath.NewTransformFromAxisAngle(r3.Vector{Z: 1}, 0.5, r3.Vector{X: 100})
	test.That(t, loaded.SetPoses([]spatialmath.RigidTransform{spatialmath.NewIdentityTransform(), pose}), test.ShouldBeNil)
	test.That(t, Save(path, loaded), test.ShouldBeNil)
	again, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.ID, test.ShouldEqual, loaded.ID)
	test.That(t, again.Poses()[1].AlmostEqual(pose, 1e-9, 1e-9), test.ShouldBeTrue)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestClouds(t *testing.T) {
	s := testSession(t)
	clouds, err := s.Clouds(context.Background(), 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clouds, test.ShouldHaveLength, 2)
	test.That(t, clouds[0], test.ShouldHaveLength, 48)
	test.That(t, clouds[0][0].Color.R, test.ShouldEqual, 200)
	test.That(t, clouds[0][0].Position.Z, test.ShouldAlmostEqual, 1500)

	frame, err := DepthFrame{Width: 2, Height: 2, Depth: []uint16{1, 2, 3}}.Frame()
	test.That(t, errors.Is(err, utils.ErrInconsistentDimensions), test.ShouldBeTrue)
	test.That(t, frame, test.ShouldBeNil)
	_, err = DepthFrame{Width: 1, Height: 1, Depth: []uint16{1}, Color: []byte{1}}.Frame()
	test.That(t, errors.Is(err, utils.ErrInconsistentDimensions), test.ShouldBeTrue)

	s.Cameras[1].Model = nil
	_, err = s.Clouds(context.Background(), 1)
	test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)
}

func TestValidate(t *testing.T) {
	s := testSession(t)
	test.That(t, s.Validate(), test.ShouldBeNil)

	s.Recordings[1].Camera = 0
	test.That(t, s.Validate(), test.ShouldNotBeNil)
	s.Recordings[1].Camera = 7
	test.That(t, errors.Is(s.Validate(), utils.ErrIndexOutOfRange), test.ShouldBeTrue)

	s = testSession(t)
	s.Recordings = s.Recordings[:1]
	test.That(t, s.Validate(), test.ShouldBeNil)
	_, err := s.RecordingsByCamera()
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)

	s.DepthFrames[0].Depth = s.DepthFrames[0].Depth[:3]
	test.That(t, s.Validate(), test.ShouldNotBeNil)

	empty := &Session{}
	test.That(t, errors.Is(empty.Validate(), utils.ErrInsufficientData), test.ShouldBeTrue)
}
