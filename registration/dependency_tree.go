package registration

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"go.viam.com/mocap/spatialmath"
	"go.viam.com/mocap/utils"
)

// ErrDisconnectedCamera is returned when some camera shares no evidence with the rest of the rig.
var ErrDisconnectedCamera = errors.New("camera is not connected to the rig")

// DependencyTree is a spanning tree over the cameras. Each camera's pose is estimated relative
// to its parent; the root defines the world frame.
type DependencyTree struct {
	Root int `json:"root"`
	// Parent holds each camera's parent, -1 for the root.
	Parent []int `json:"parent"`
}

// Edge is a parent to child link of the tree.
type Edge struct {
	Parent int `json:"parent"`
	Child  int `json:"child"`
}

// BuildDependencyTree roots the tree at the camera with the highest aggregated score and then
// repeatedly attaches the unattached camera with the strongest positive link to any attached
// camera. Ties go to the lowest camera index. When a camera cannot be attached the returned
// error wraps ErrDisconnectedCamera.
func BuildDependencyTree(cameraCount int, scores *CoVisibility, aggregate Aggregator) (*DependencyTree, error) {
	if cameraCount <= 0 {
		return nil, utils.NewInsufficientDataError("dependency tree needs at least one camera")
	}
	if scores == nil || aggregate == nil {
		return nil, errors.New("co-visibility scores and an aggregator are required")
	}
	if scores.Len() != cameraCount {
		return nil, utils.NewInconsistentDimensionsError("co-visibility matrix", cameraCount, scores.Len())
	}

	root, best := 0, aggregate(scores.Row(0))
	for i := 1; i < cameraCount; i++ {
		if v := aggregate(scores.Row(i)); v > best {
			root, best = i, v
		}
	}

	tree := &DependencyTree{Root: root, Parent: make([]int, cameraCount)}
	attached := make([]bool, cameraCount)
	for i := range tree.Parent {
		tree.Parent[i] = -1
	}
	attached[root] = true

	for added := 1; added < cameraCount; added++ {
		child, parent, strongest := -1, -1, 0.0
		for u := 0; u < cameraCount; u++ {
			if attached[u] {
				continue
			}
			for a := 0; a < cameraCount; a++ {
				if !attached[a] {
					continue
				}
				if s := scores.Score(u, a); s > strongest {
					child, parent, strongest = u, a, s
				}
			}
		}
		if child < 0 {
			var missing []int
			for u, ok := range attached {
				if !ok {
					missing = append(missing, u)
				}
			}
			return nil, errors.Wrapf(ErrDisconnectedCamera, "cameras %v", missing)
		}
		tree.Parent[child] = parent
		attached[child] = true
	}
	return tree, nil
}

// Len returns the number of cameras.
func (t *DependencyTree) Len() int {
	return len(t.Parent)
}

// Children returns the children of camera i, ascending.
func (t *DependencyTree) Children(i int) []int {
	var out []int
	for c, p := range t.Parent {
		if p == i {
			out = append(out, c)
		}
	}
	sort.Ints(out)
	return out
}

// PropagationOrder lists the edges breadth first from the root, so every parent's pose is known
// before its children are visited.
func (t *DependencyTree) PropagationOrder() []Edge {
	order := make([]Edge, 0, len(t.Parent))
	queue := []int{t.Root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, c := range t.Children(p) {
			order = append(order, Edge{Parent: p, Child: c})
			queue = append(queue, c)
		}
	}
	return order
}

func (t *DependencyTree) String() string {
	return fmt.Sprintf("root %d, parents %v", t.Root, t.Parent)
}

// ComposeWorldTransforms turns child to parent transforms into world poses. relative[i] maps
// camera i's coordinates into its parent's; the root's entry is ignored and the root is the
// world frame.
func ComposeWorldTransforms(tree *DependencyTree, relative []spatialmath.RigidTransform) ([]spatialmath.RigidTransform, error) {
	if len(relative) != tree.Len() {
		return nil, utils.NewInconsistentDimensionsError("relative transforms", tree.Len(), len(relative))
	}
	world := make([]spatialmath.RigidTransform, tree.Len())
	world[tree.Root] = spatialmath.NewIdentityTransform()
	for _, e := range tree.PropagationOrder() {
		world[e.Child] = world[e.Parent].Compose(relative[e.Child])
	}
	return world, nil
}
