package spatialmath

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// RigidTransform is a 4x4 homogeneous rigid transform (rotation + translation). The zero value
// is the identity, which is the pose of an uncalibrated camera.
type RigidTransform struct {
	m   mgl64.Mat4
	set bool
}

// NewIdentityTransform returns the identity transform.
func NewIdentityTransform() RigidTransform {
	return RigidTransform{}
}

// NewRigidTransform builds a transform that first rotates by q and then translates by t.
func NewRigidTransform(q quat.Number, t r3.Vector) RigidTransform {
	q = Normalize(q)
	m := mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}.Mat4()
	m.Set(0, 3, t.X)
	m.Set(1, 3, t.Y)
	m.Set(2, 3, t.Z)
	return RigidTransform{m: m, set: true}
}

// NewTranslation returns a transform that only translates.
func NewTranslation(t r3.Vector) RigidTransform {
	return RigidTransform{m: mgl64.Translate3D(t.X, t.Y, t.Z), set: true}
}

// NewTransformFromAxisAngle rotates by theta radians about axis, then translates by t.
func NewTransformFromAxisAngle(axis r3.Vector, theta float64, t r3.Vector) RigidTransform {
	return NewRigidTransform((&R4AA{theta, axis.X, axis.Y, axis.Z}).ToQuat(), t)
}

// NewTransformFromMat4 wraps a homogeneous matrix. The caller guarantees it is rigid.
func NewTransformFromMat4(m mgl64.Mat4) RigidTransform {
	return RigidTransform{m: m, set: true}
}

// NewTransformFromRowMajor builds a transform from 16 row-major values.
func NewTransformFromRowMajor(values []float64) (RigidTransform, error) {
	if len(values) != 16 {
		return RigidTransform{}, errors.Errorf("expected 16 matrix values but got %d", len(values))
	}
	var m mgl64.Mat4
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			m.Set(row, col, values[row*4+col])
		}
	}
	if m.At(3, 0) != 0 || m.At(3, 1) != 0 || m.At(3, 2) != 0 || m.At(3, 3) != 1 {
		return RigidTransform{}, errors.New("last matrix row must be [0 0 0 1]")
	}
	return NewTransformFromMat4(m), nil
}

// Mat4 returns the homogeneous matrix.
func (t RigidTransform) Mat4() mgl64.Mat4 {
	if !t.set {
		return mgl64.Ident4()
	}
	return t.m
}

// RowMajor returns the 16 matrix values in row-major order.
func (t RigidTransform) RowMajor() []float64 {
	m := t.Mat4()
	values := make([]float64, 16)
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			values[row*4+col] = m.At(row, col)
		}
	}
	return values
}

// Compose returns t × other, i.e. other is applied first.
func (t RigidTransform) Compose(other RigidTransform) RigidTransform {
	if !t.set {
		return other
	}
	if !other.set {
		return t
	}
	return RigidTransform{m: t.m.Mul4(other.m), set: true}
}

// Inverse returns the inverse transform, using the transpose of the rotation.
func (t RigidTransform) Inverse() RigidTransform {
	if !t.set {
		return t
	}
	rt := t.m.Mat3().Transpose()
	tr := rt.Mul3x1(mgl64.Vec3{t.m.At(0, 3), t.m.At(1, 3), t.m.At(2, 3)})
	inv := rt.Mat4()
	inv.Set(0, 3, -tr[0])
	inv.Set(1, 3, -tr[1])
	inv.Set(2, 3, -tr[2])
	return RigidTransform{m: inv, set: true}
}

// Apply transforms a point.
func (t RigidTransform) Apply(p r3.Vector) r3.Vector {
	if !t.set {
		return p
	}
	v := t.m.Mul4x1(mgl64.Vec4{p.X, p.Y, p.Z, 1})
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

// Rotate applies only the rotational part to a direction.
func (t RigidTransform) Rotate(d r3.Vector) r3.Vector {
	if !t.set {
		return d
	}
	v := t.m.Mat3().Mul3x1(mgl64.Vec3{d.X, d.Y, d.Z})
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

// Translation returns the translational part.
func (t RigidTransform) Translation() r3.Vector {
	m := t.Mat4()
	return r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}
}

// Rotation returns the 3x3 rotation.
func (t RigidTransform) Rotation() mgl64.Mat3 {
	return t.Mat4().Mat3()
}

// Quaternion returns the rotation as a unit quaternion with a non-negative real part.
func (t RigidTransform) Quaternion() quat.Number {
	q := mgl64.Mat4ToQuat(t.Mat4())
	n := quat.Number{Real: q.W, Imag: q.V[0], Jmag: q.V[1], Kmag: q.V[2]}
	if n.Real < 0 {
		n = quat.Scale(-1, n)
	}
	return Normalize(n)
}

// RotationAngle returns the angle in radians of the rotational part.
func (t RigidTransform) RotationAngle() float64 {
	return QuatToR4AA(t.Quaternion()).Theta
}

// AlmostEqual reports whether the rotations differ by at most angleTol radians and the
// translations by at most distTol.
func (t RigidTransform) AlmostEqual(other RigidTransform, angleTol, distTol float64) bool {
	delta := t.Inverse().Compose(other)
	return delta.RotationAngle() <= angleTol && t.Translation().Sub(other.Translation()).Norm() <= distTol
}

func (t RigidTransform) String() string {
	aa := QuatToR4AA(t.Quaternion())
	tr := t.Translation()
	return fmt.Sprintf("R(%.4f rad about [%.3f %.3f %.3f]) T(%.2f, %.2f, %.2f)",
		aa.Theta, aa.RX, aa.RY, aa.RZ, tr.X, tr.Y, tr.Z)
}

type rigidTransformJSON struct {
	Matrix []float64 `json:"matrix"`
}

// MarshalJSON encodes the transform as a row-major matrix.
func (t RigidTransform) MarshalJSON() ([]byte, error) {
	return json.Marshal(rigidTransformJSON{Matrix: t.RowMajor()})
}

// UnmarshalJSON decodes a row-major matrix.
func (t *RigidTransform) UnmarshalJSON(data []byte) error {
	var raw rigidTransformJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := NewTransformFromRowMajor(raw.Matrix)
	if err != nil {
		return err
	}
	if !isRotation(decoded.Rotation()) {
		return errors.New("matrix rotation part is not orthonormal")
	}
	*t = decoded
	return nil
}

func isRotation(r mgl64.Mat3) bool {
	should := r.Mul3(r.Transpose())
	return should.ApproxEqualThreshold(mgl64.Ident3(), 1e-6) && math.Abs(r.Det()-1) < 1e-6
}
