package rimage

import (
	"image"
	"testing"

	"go.viam.com/test"
)

func TestDepthMapAccess(t *testing.T) {
	dm := NewEmptyDepthMap(4, 3)
	test.That(t, dm.HasData(), test.ShouldBeTrue)
	test.That(t, dm.Bounds(), test.ShouldResemble, image.Rect(0, 0, 4, 3))

	dm.Set(3, 2, 1200)
	dm.Set(0, 1, 800)
	test.That(t, dm.GetDepth(3, 2), test.ShouldEqual, Depth(1200))
	test.That(t, dm.Get(image.Pt(0, 1)), test.ShouldEqual, Depth(800))
	test.That(t, dm.Contains(4, 0), test.ShouldBeFalse)
	test.That(t, dm.Contains(3, 2), test.ShouldBeTrue)

	lo, hi := dm.MinMax()
	test.That(t, lo, test.ShouldEqual, Depth(800))
	test.That(t, hi, test.ShouldEqual, Depth(1200))

	clone := dm.Clone()
	clone.Set(3, 2, 1)
	test.That(t, dm.GetDepth(3, 2), test.ShouldEqual, Depth(1200))

	_, err := NewDepthMapFromData(2, 2, make([]Depth, 3))
	test.That(t, err, test.ShouldNotBeNil)

	var empty *DepthMap
	test.That(t, empty.HasData(), test.ShouldBeFalse)
}

func TestFrame(t *testing.T) {
	dm := NewEmptyDepthMap(2, 2)
	_, err := NewFrame(dm, image.NewNRGBA(image.Rect(0, 0, 3, 2)), 0)
	test.That(t, err, test.ShouldNotBeNil)

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(1, 1, NewColor(10, 20, 30))
	f, err := NewFrame(dm, img, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.ColorAt(1, 1), test.ShouldResemble, NewColor(10, 20, 30))

	f.Color = nil
	test.That(t, f.ColorAt(1, 1), test.ShouldResemble, NewColor(255, 255, 255))
}

func TestLab(t *testing.T) {
	white := ToLab(NewColor(255, 255, 255))
	test.That(t, white.L, test.ShouldAlmostEqual, 1, 1e-3)
	black := ToLab(NewColor(0, 0, 0))
	test.That(t, black.L, test.ShouldAlmostEqual, 0, 1e-6)

	red := NewColor(255, 0, 0)
	test.That(t, DistanceLab(red, red), test.ShouldAlmostEqual, 0)
	test.That(t, DistanceLab(red, NewColor(0, 0, 255)), test.ShouldBeGreaterThan, 0.5)
	test.That(t, NewColorFromHSV(0, 1, 1), test.ShouldResemble, red)
}
