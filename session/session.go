// Package session reads and writes recorded capture sessions: the rig's cameras, their skeleton
// streams, depth frames and calibration board detections.
package session

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/mocap/calibration"
	"go.viam.com/mocap/pointcloud"
	"go.viam.com/mocap/rimage"
	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/skeleton"
	"go.viam.com/mocap/spatialmath"
	"go.viam.com/mocap/utils"
)

// Camera is one sensor of the rig.
type Camera struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	// Model is the camera's calibration, if it has been calibrated.
	Model *transform.CameraModel `json:"model,omitempty"`
	// Pose is the camera's world pose, if it has been registered.
	Pose *spatialmath.RigidTransform `json:"pose,omitempty"`

	BoardObservations      []calibration.CornerObservation      `json:"board_observations,omitempty"`
	BoardDepthObservations []calibration.CornerDepthObservation `json:"board_depth_observations,omitempty"`
}

// DepthFrame is one recorded depth image with optional colour.
type DepthFrame struct {
	Camera    int           `json:"camera"`
	Timestamp time.Duration `json:"timestamp"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	// Depth holds millimetres in row-major order.
	Depth []uint16 `json:"depth"`
	// Color holds packed RGB triples in row-major order, or nothing.
	Color []byte `json:"color,omitempty"`
}

// Frame converts the record into a frame.
func (df DepthFrame) Frame() (*rimage.Frame, error) {
	n := df.Width * df.Height
	if len(df.Depth) != n {
		return nil, utils.NewInconsistentDimensionsError("depth samples", n, len(df.Depth))
	}
	data := make([]rimage.Depth, n)
	for i, d := range df.Depth {
		data[i] = rimage.Depth(d)
	}
	dm, err := rimage.NewDepthMapFromData(df.Width, df.Height, data)
	if err != nil {
		return nil, err
	}
	if len(df.Color) == 0 {
		return rimage.NewFrame(dm, nil, df.Timestamp)
	}
	if len(df.Color) != 3*n {
		return nil, utils.NewInconsistentDimensionsError("color bytes", 3*n, len(df.Color))
	}
	img := image.NewNRGBA(image.Rect(0, 0, df.Width, df.Height))
	for i := 0; i < n; i++ {
		copy(img.Pix[4*i:4*i+3], df.Color[3*i:3*i+3])
		img.Pix[4*i+3] = 255
	}
	return rimage.NewFrame(dm, img, df.Timestamp)
}

// Session is a complete recording of the rig.
type Session struct {
	ID          uuid.UUID             `json:"id"`
	Name        string                `json:"name,omitempty"`
	Board       *calibration.Board    `json:"board,omitempty"`
	Cameras     []Camera              `json:"cameras"`
	Recordings  []*skeleton.Recording `json:"recordings,omitempty"`
	DepthFrames []DepthFrame          `json:"depth_frames,omitempty"`
}

// Load reads and validates a session file. A session without an id is given a new one.
func Load(path string) (*Session, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "failed to decode session %q", path)
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if err := s.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid session %q", path)
	}
	return &s, nil
}

// Save writes the session as JSON.
func Save(path string, s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that every recording and frame refers to a known camera.
func (s *Session) Validate() error {
	if len(s.Cameras) == 0 {
		return utils.NewInsufficientDataError("session has no cameras")
	}
	var errs error
	if s.Board != nil {
		errs = multierr.Append(errs, errors.Wrap(s.Board.CheckValid(), "board"))
	}
	seen := map[int]bool{}
	for i, rec := range s.Recordings {
		switch {
		case rec == nil:
			errs = multierr.Append(errs, errors.Errorf("recording %d is empty", i))
			continue
		case rec.Camera < 0 || rec.Camera >= len(s.Cameras):
			errs = multierr.Append(errs, utils.NewIndexOutOfRangeError("recording camera", rec.Camera, len(s.Cameras)))
			continue
		case seen[rec.Camera]:
			errs = multierr.Append(errs, errors.Errorf("camera %d has more than one recording", rec.Camera))
			continue
		}
		seen[rec.Camera] = true
		errs = multierr.Append(errs, rec.Validate())
	}
	for i, df := range s.DepthFrames {
		if df.Camera < 0 || df.Camera >= len(s.Cameras) {
			errs = multierr.Append(errs, utils.NewIndexOutOfRangeError("depth frame camera", df.Camera, len(s.Cameras)))
			continue
		}
		if n := df.Width * df.Height; len(df.Depth) != n {
			errs = multierr.Append(errs, errors.Wrapf(
				utils.NewInconsistentDimensionsError("depth samples", n, len(df.Depth)), "depth frame %d", i))
		}
	}
	return errs
}

// RecordingsByCamera returns the skeleton recording of every camera, indexed by camera.
func (s *Session) RecordingsByCamera() ([]*skeleton.Recording, error) {
	out := make([]*skeleton.Recording, len(s.Cameras))
	for _, rec := range s.Recordings {
		out[rec.Camera] = rec
	}
	for i, rec := range out {
		if rec == nil {
			return nil, utils.NewInsufficientDataError("camera %d (%s) has no skeleton recording", i, s.Cameras[i].Name)
		}
	}
	return out, nil
}

// Models returns the calibration of every camera; every camera must be calibrated.
func (s *Session) Models() ([]*transform.CameraModel, error) {
	out := make([]*transform.CameraModel, len(s.Cameras))
	for i, c := range s.Cameras {
		if c.Model == nil {
			return nil, errors.Wrapf(transform.NewNoIntrinsicsError(c.Name), "camera %d", i)
		}
		out[i] = c.Model
	}
	return out, nil
}

// Poses returns the recorded pose of every camera, identity where none was recorded.
func (s *Session) Poses() []spatialmath.RigidTransform {
	out := make([]spatialmath.RigidTransform, len(s.Cameras))
	for i, c := range s.Cameras {
		if c.Pose != nil {
			out[i] = *c.Pose
		} else {
			out[i] = spatialmath.NewIdentityTransform()
		}
	}
	return out
}

// SetPoses stores a pose for every camera.
func (s *Session) SetPoses(poses []spatialmath.RigidTransform) error {
	if len(poses) != len(s.Cameras) {
		return utils.NewInconsistentDimensionsError("camera poses", len(s.Cameras), len(poses))
	}
	for i := range poses {
		p := poses[i]
		s.Cameras[i].Pose = &p
	}
	return nil
}

// Clouds projects every camera's depth frames through its model and merges them into one
// camera-local cloud per camera.
func (s *Session) Clouds(ctx context.Context, stride int) ([]pointcloud.Cloud, error) {
	models, err := s.Models()
	if err != nil {
		return nil, err
	}
	clouds := make([]pointcloud.Cloud, len(s.Cameras))
	for i, df := range s.DepthFrames {
		frame, err := df.Frame()
		if err != nil {
			return nil, errors.Wrapf(err, "depth frame %d", i)
		}
		cloud, err := pointcloud.FromFrame(ctx, frame, models[df.Camera], stride)
		if err != nil {
			return nil, errors.Wrapf(err, "depth frame %d", i)
		}
		clouds[df.Camera] = append(clouds[df.Camera], cloud...)
	}
	return clouds, nil
}
