package spatialmath

import (
	"go.uber.org/atomic"

	"go.viam.com/mocap/utils"
)

// TransformTable holds the world pose of every camera. Readers take snapshots; writers replace
// the whole table at once so a reader never observes a partially updated set of poses.
type TransformTable struct {
	poses *atomic.Pointer[[]RigidTransform]
}

// NewTransformTable returns a table of n identity poses.
func NewTransformTable(n int) *TransformTable {
	poses := make([]RigidTransform, n)
	return &TransformTable{poses: atomic.NewPointer(&poses)}
}

// NewTransformTableFrom returns a table holding a copy of poses.
func NewTransformTableFrom(poses []RigidTransform) *TransformTable {
	cp := append([]RigidTransform(nil), poses...)
	return &TransformTable{poses: atomic.NewPointer(&cp)}
}

// Len returns the number of cameras.
func (tt *TransformTable) Len() int {
	return len(*tt.poses.Load())
}

// Snapshot returns a copy of the current poses.
func (tt *TransformTable) Snapshot() []RigidTransform {
	return append([]RigidTransform(nil), *tt.poses.Load()...)
}

// Get returns the pose of camera i.
func (tt *TransformTable) Get(i int) (RigidTransform, error) {
	poses := *tt.poses.Load()
	if i < 0 || i >= len(poses) {
		return RigidTransform{}, utils.NewIndexOutOfRangeError("camera", i, len(poses))
	}
	return poses[i], nil
}

// Replace publishes a new set of poses. The length must not change.
func (tt *TransformTable) Replace(poses []RigidTransform) error {
	if len(poses) != tt.Len() {
		return utils.NewInconsistentDimensionsError("transform table", tt.Len(), len(poses))
	}
	cp := append([]RigidTransform(nil), poses...)
	tt.poses.Store(&cp)
	return nil
}

// With publishes the table with camera i replaced. There must be a single writer.
func (tt *TransformTable) With(i int, pose RigidTransform) error {
	poses := tt.Snapshot()
	if i < 0 || i >= len(poses) {
		return utils.NewIndexOutOfRangeError("camera", i, len(poses))
	}
	poses[i] = pose
	return tt.Replace(poses)
}
