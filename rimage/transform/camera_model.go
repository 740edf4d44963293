package transform

import (
	"encoding/json"
	"image"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/mocap/utils"
)

// CameraModel describes how one depth camera maps pixels and raw depth to camera-space points in
// millimetres. Values are immutable: every With method returns a new model with its lookup tables
// rebuilt, so a model can be shared freely between goroutines.
type CameraModel struct {
	intrinsics  PinholeCameraIntrinsics
	distortion  *BrownConrady
	depthField  *DepthCorrectionField
	imageScaleX float64
	imageScaleY float64
	worldScaleX float64
	worldScaleY float64
	depthOffset float64
	profile     SensorProfile

	// undistorted[y*Width+x] is UndistortPixel for integral pixels; nil when there is no distortion.
	undistorted []r2.Point
}

// NewCameraModel returns an undistorted model with unit scales and no depth field.
func NewCameraModel(intrinsics PinholeCameraIntrinsics, profile SensorProfile) (*CameraModel, error) {
	m := &CameraModel{
		intrinsics:  intrinsics,
		imageScaleX: 1,
		imageScaleY: 1,
		worldScaleX: 1,
		worldScaleY: 1,
		profile:     profile,
	}
	if err := m.build(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewCameraModelFromJSONFile loads a model written by MarshalJSON.
func NewCameraModelFromJSONFile(jsonPath string) (*CameraModel, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer goutils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	m := &CameraModel{}
	if err := json.Unmarshal(byteValue, m); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	return m, nil
}

func (m *CameraModel) clone() *CameraModel {
	out := *m
	out.undistorted = nil
	return &out
}

// build validates the model and computes the undistortion table.
func (m *CameraModel) build() error {
	if err := m.intrinsics.CheckValid(); err != nil {
		return err
	}
	if err := m.profile.CheckValid(); err != nil {
		return err
	}
	if m.depthField != nil {
		if err := m.depthField.CheckValid(); err != nil {
			return err
		}
	}
	if m.imageScaleX <= 0 || m.imageScaleY <= 0 || m.worldScaleX <= 0 || m.worldScaleY <= 0 {
		return errors.Errorf("scales must be positive, got image (%v, %v) world (%v, %v)",
			m.imageScaleX, m.imageScaleY, m.worldScaleX, m.worldScaleY)
	}
	m.undistorted = nil
	if m.distortion.IsZero() {
		return nil
	}
	size := m.intrinsics.Size()
	table := make([]r2.Point, size.X*size.Y)
	utils.ParallelForEachPixel(size, func(x, y int) {
		table[y*size.X+x] = m.undistortDirect(float64(x), float64(y))
	})
	m.undistorted = table
	return nil
}

// Intrinsics returns the pinhole parameters.
func (m *CameraModel) Intrinsics() PinholeCameraIntrinsics {
	return m.intrinsics
}

// Distortion returns a copy of the lens model, nil when undistorted.
func (m *CameraModel) Distortion() *BrownConrady {
	if m.distortion == nil {
		return nil
	}
	d := *m.distortion
	return &d
}

// DepthField returns the depth correction field, nil when raw depth is used as is. The field is
// shared and must not be modified.
func (m *CameraModel) DepthField() *DepthCorrectionField {
	return m.depthField
}

// ImageScale returns the horizontal and vertical image scale correction.
func (m *CameraModel) ImageScale() (float64, float64) {
	return m.imageScaleX, m.imageScaleY
}

// WorldScale returns the horizontal and vertical world scale correction.
func (m *CameraModel) WorldScale() (float64, float64) {
	return m.worldScaleX, m.worldScaleY
}

// DepthOffset returns the offset in millimetres added to corrected depth.
func (m *CameraModel) DepthOffset() float64 {
	return m.depthOffset
}

// Profile returns the sensor profile.
func (m *CameraModel) Profile() SensorProfile {
	return m.profile
}

// Size returns the capture resolution.
func (m *CameraModel) Size() image.Point {
	return m.intrinsics.Size()
}

// WithIntrinsics returns a model with new intrinsics. The depth field is indexed by pixel, so it
// is dropped whenever the intrinsics change.
func (m *CameraModel) WithIntrinsics(intrinsics PinholeCameraIntrinsics) (*CameraModel, error) {
	out := m.clone()
	if intrinsics != m.intrinsics {
		out.depthField = nil
	}
	out.intrinsics = intrinsics
	return out, out.build()
}

// WithDistortion returns a model with a new lens model. A nil model disables undistortion.
func (m *CameraModel) WithDistortion(distortion *BrownConrady) (*CameraModel, error) {
	out := m.clone()
	if distortion != nil {
		d := *distortion
		out.distortion = &d
	} else {
		out.distortion = nil
	}
	return out, out.build()
}

// WithDepthField returns a model using the given correction field. A nil field disables correction.
func (m *CameraModel) WithDepthField(field *DepthCorrectionField) (*CameraModel, error) {
	out := m.clone()
	out.depthField = field.Clone()
	return out, out.build()
}

// WithImageScale returns a model with a new image scale correction.
func (m *CameraModel) WithImageScale(sx, sy float64) (*CameraModel, error) {
	out := m.clone()
	out.imageScaleX, out.imageScaleY = sx, sy
	return out, out.build()
}

// WithWorldScale returns a model with a new world scale and depth offset.
func (m *CameraModel) WithWorldScale(sx, sy, depthOffset float64) (*CameraModel, error) {
	out := m.clone()
	out.worldScaleX, out.worldScaleY, out.depthOffset = sx, sy, depthOffset
	return out, out.build()
}

// WithProfile returns a model for a different sensor profile.
func (m *CameraModel) WithProfile(profile SensorProfile) (*CameraModel, error) {
	out := m.clone()
	out.profile = profile
	return out, out.build()
}

func (m *CameraModel) undistortDirect(x, y float64) r2.Point {
	n := m.intrinsics.PixelToNormalized(r2.Point{X: x, Y: y})
	ux, uy := m.distortion.Undistort(n.X, n.Y)
	return m.intrinsics.NormalizedToPixel(r2.Point{X: ux, Y: uy})
}

// UndistortPixel maps a distorted pixel to where an ideal pinhole camera would have seen it.
func (m *CameraModel) UndistortPixel(x, y float64) (float64, float64) {
	if m.undistorted == nil {
		if m.distortion.IsZero() {
			return x, y
		}
		p := m.undistortDirect(x, y)
		return p.X, p.Y
	}
	ix, iy := int(x), int(y)
	if float64(ix) == x && float64(iy) == y && ix >= 0 && iy >= 0 && ix < m.intrinsics.Width && iy < m.intrinsics.Height {
		p := m.undistorted[iy*m.intrinsics.Width+ix]
		return p.X, p.Y
	}
	p := m.undistortDirect(x, y)
	return p.X, p.Y
}

// DistortPixel is the inverse of UndistortPixel.
func (m *CameraModel) DistortPixel(x, y float64) (float64, float64) {
	if m.distortion.IsZero() {
		return x, y
	}
	n := m.intrinsics.PixelToNormalized(r2.Point{X: x, Y: y})
	dx, dy := m.distortion.Transform(n.X, n.Y)
	p := m.intrinsics.NormalizedToPixel(r2.Point{X: dx, Y: dy})
	return p.X, p.Y
}

// CorrectDepth returns the depth in millimetres after applying the correction field at pixel
// (x, y). Without a field, or outside it, the raw depth is returned unchanged.
func (m *CameraModel) CorrectDepth(x, y, rawMM float64) float64 {
	f := m.depthField
	if f == nil {
		return rawMM
	}
	shear := m.profile.Shear
	lx := m.intrinsics.Ppx + (x-m.intrinsics.Ppx)*shear
	ly := m.intrinsics.Ppy + (y-m.intrinsics.Ppy)*shear
	if f.Width != m.intrinsics.Width || f.Height != m.intrinsics.Height {
		lx *= float64(f.Width) / float64(m.intrinsics.Width)
		ly *= float64(f.Height) / float64(m.intrinsics.Height)
	}
	cx, cy := int(math.Floor(lx+0.5)), int(math.Floor(ly+0.5))
	if cx < 0 || cy < 0 || cx >= f.Width || cy >= f.Height {
		return rawMM
	}
	return f.Evaluate(cx, cy, rawMM)
}

// ScreenToWorld back-projects pixel (x, y) with raw depth in millimetres to a camera-space point.
// X grows to the right, Y grows upwards and Z points away from the sensor.
func (m *CameraModel) ScreenToWorld(x, y, rawMM float64) r3.Vector {
	w, h := float64(m.intrinsics.Width), float64(m.intrinsics.Height)
	ux, uy := m.UndistortPixel(x, y)
	ux = (ux-w/2)*m.imageScaleX + w/2
	uy = (uy-h/2)*m.imageScaleY + h/2
	z := m.CorrectDepth(x, y, rawMM) + m.depthOffset
	return r3.Vector{
		X: (ux/w - 0.5) * z * m.profile.XtoZ * m.worldScaleX,
		Y: (0.5 - uy/h) * z * m.profile.YtoZ * m.worldScaleY,
		Z: z,
	}
}

// WorldToScreen projects a camera-space point to a pixel and the raw depth that would place it
// there. The depth field is not inverted, so the result is exact only for models without one.
func (m *CameraModel) WorldToScreen(p r3.Vector) (float64, float64, float64) {
	w, h := float64(m.intrinsics.Width), float64(m.intrinsics.Height)
	if p.Z == 0 {
		return -1, -1, 0
	}
	ux := (p.X/(p.Z*m.profile.XtoZ*m.worldScaleX) + 0.5) * w
	uy := (0.5 - p.Y/(p.Z*m.profile.YtoZ*m.worldScaleY)) * h
	ux = (ux-w/2)/m.imageScaleX + w/2
	uy = (uy-h/2)/m.imageScaleY + h/2
	x, y := m.DistortPixel(ux, uy)
	return x, y, p.Z - m.depthOffset
}

// RadialRatio is the distance of pixel (x, y) from the image centre relative to the
// field-of-view ellipse.
func (m *CameraModel) RadialRatio(x, y float64) float64 {
	w, h := float64(m.intrinsics.Width), float64(m.intrinsics.Height)
	return math.Hypot((x-w/2)/(w/2), (y-h/2)/(h/2))
}

type cameraModelJSON struct {
	Intrinsics  PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion  *distortionJSON         `json:"distortion,omitempty"`
	DepthField  *DepthCorrectionField   `json:"depth_field,omitempty"`
	ImageScaleX float64                 `json:"image_scale_x"`
	ImageScaleY float64                 `json:"image_scale_y"`
	WorldScaleX float64                 `json:"world_scale_x"`
	WorldScaleY float64                 `json:"world_scale_y"`
	DepthOffset float64                 `json:"depth_offset_mm"`
	Profile     SensorProfile           `json:"sensor_profile"`
}

// MarshalJSON writes the logical parameters of the model. Lookup tables are not persisted.
func (m *CameraModel) MarshalJSON() ([]byte, error) {
	out := cameraModelJSON{
		Intrinsics:  m.intrinsics,
		DepthField:  m.depthField,
		ImageScaleX: m.imageScaleX,
		ImageScaleY: m.imageScaleY,
		WorldScaleX: m.worldScaleX,
		WorldScaleY: m.worldScaleY,
		DepthOffset: m.depthOffset,
		Profile:     m.profile,
	}
	if !m.distortion.IsZero() {
		out.Distortion = &distortionJSON{Type: m.distortion.ModelType(), Parameters: m.distortion.Parameters()}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a model and rebuilds its lookup tables. Omitted scales default to 1 and an
// omitted profile to DefaultSensorProfile.
func (m *CameraModel) UnmarshalJSON(data []byte) error {
	in := cameraModelJSON{
		ImageScaleX: 1,
		ImageScaleY: 1,
		WorldScaleX: 1,
		WorldScaleY: 1,
		Profile:     DefaultSensorProfile(),
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	decoded := CameraModel{
		intrinsics:  in.Intrinsics,
		depthField:  in.DepthField,
		imageScaleX: in.ImageScaleX,
		imageScaleY: in.ImageScaleY,
		worldScaleX: in.WorldScaleX,
		worldScaleY: in.WorldScaleY,
		depthOffset: in.DepthOffset,
		profile:     in.Profile,
	}
	if in.Distortion != nil {
		d, err := NewDistorter(in.Distortion.Type, in.Distortion.Parameters)
		if err != nil {
			return err
		}
		bc, ok := d.(*BrownConrady)
		if !ok {
			return errors.Errorf("unsupported distortion model %q", d.ModelType())
		}
		decoded.distortion = bc
	}
	if err := decoded.build(); err != nil {
		return err
	}
	*m = decoded
	return nil
}
