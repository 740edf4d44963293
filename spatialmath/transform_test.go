package spatialmath

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestZeroValueIsIdentity(t *testing.T) {
	var pose RigidTransform
	p := r3.Vector{X: 1, Y: 2, Z: 3}
	test.That(t, pose.Apply(p), test.ShouldResemble, p)
	test.That(t, pose.RotationAngle(), test.ShouldEqual, 0)
	test.That(t, pose.AlmostEqual(NewIdentityTransform(), 1e-12, 1e-12), test.ShouldBeTrue)
	test.That(t, pose.RowMajor(), test.ShouldResemble, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1})
}

func TestComposeAndInverse(t *testing.T) {
	a := NewTransformFromAxisAngle(r3.Vector{Z: 1}, math.Pi/2, r3.Vector{X: 10})
	b := NewTransformFromAxisAngle(r3.Vector{X: 1}, 0.3, r3.Vector{Y: -5, Z: 2})

	p := r3.Vector{X: 1, Y: 0, Z: 0}
	// 90° about z maps x onto y, then translation.
	rotated := a.Apply(p)
	test.That(t, rotated.X, test.ShouldAlmostEqual, 10)
	test.That(t, rotated.Y, test.ShouldAlmostEqual, 1)
	test.That(t, rotated.Z, test.ShouldAlmostEqual, 0)

	composed := a.Compose(b).Apply(p)
	expected := a.Apply(b.Apply(p))
	test.That(t, composed.Sub(expected).Norm(), test.ShouldBeLessThan, 1e-9)

	roundTrip := a.Inverse().Apply(a.Apply(r3.Vector{X: 4, Y: -7, Z: 9}))
	test.That(t, roundTrip.Sub(r3.Vector{X: 4, Y: -7, Z: 9}).Norm(), test.ShouldBeLessThan, 1e-9)
	test.That(t, a.Compose(a.Inverse()).AlmostEqual(NewIdentityTransform(), 1e-9, 1e-9), test.ShouldBeTrue)

	test.That(t, a.RotationAngle(), test.ShouldAlmostEqual, math.Pi/2)
	test.That(t, a.Rotate(p).Y, test.ShouldAlmostEqual, 1)
}

func TestTransformJSON(t *testing.T) {
	pose := NewTransformFromAxisAngle(r3.Vector{X: 1, Y: 1}, 0.7, r3.Vector{X: 100, Y: 20, Z: -3})
	data, err := json.Marshal(pose)
	test.That(t, err, test.ShouldBeNil)

	var decoded RigidTransform
	test.That(t, json.Unmarshal(data, &decoded), test.ShouldBeNil)
	test.That(t, decoded.AlmostEqual(pose, 1e-9, 1e-9), test.ShouldBeTrue)

	test.That(t, json.Unmarshal([]byte(`{"matrix":[1,2,3]}`), &decoded), test.ShouldNotBeNil)
	test.That(t, json.Unmarshal([]byte(`{"matrix":[2,0,0,0, 0,1,0,0, 0,0,1,0, 0,0,0,1]}`), &decoded), test.ShouldNotBeNil)
}

func TestAxisAngleRoundTrip(t *testing.T) {
	aa := &R4AA{Theta: 1.2, RX: 0, RY: 3, RZ: 4}
	back := QuatToR4AA(aa.ToQuat())
	test.That(t, back.Theta, test.ShouldAlmostEqual, 1.2)
	test.That(t, back.RY, test.ShouldAlmostEqual, 0.6)
	test.That(t, back.RZ, test.ShouldAlmostEqual, 0.8)

	r3v := back.ToR3()
	test.That(t, R3ToR4(r3v).Theta, test.ShouldAlmostEqual, 1.2)
	test.That(t, R3ToR4(r3.Vector{}).Theta, test.ShouldEqual, 0)
}

func TestTransformTable(t *testing.T) {
	table := NewTransformTable(3)
	test.That(t, table.Len(), test.ShouldEqual, 3)

	snapshot := table.Snapshot()
	pose := NewTranslation(r3.Vector{X: 5})
	test.That(t, table.With(1, pose), test.ShouldBeNil)

	// Earlier snapshots are unaffected by later writes.
	test.That(t, snapshot[1].Translation().X, test.ShouldEqual, 0)
	got, err := table.Get(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Translation().X, test.ShouldEqual, 5)

	_, err = table.Get(3)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, table.With(-1, pose), test.ShouldNotBeNil)
	test.That(t, table.Replace(make([]RigidTransform, 2)), test.ShouldNotBeNil)
}
