package skeleton

import (
	"github.com/pkg/errors"
)

// Topology is a joint hierarchy stored as a parent index per joint. The root has parent -1.
type Topology struct {
	parent []int
}

// DefaultTopology is the tracker's hierarchy rooted at the torso.
func DefaultTopology() *Topology {
	parent := make([]int, JointCount)
	set := func(child, p JointLabel) { parent[child] = int(p) }
	parent[Torso] = -1
	set(Neck, Torso)
	set(Head, Neck)
	set(LeftShoulder, Neck)
	set(LeftElbow, LeftShoulder)
	set(LeftHand, LeftElbow)
	set(RightShoulder, Neck)
	set(RightElbow, RightShoulder)
	set(RightHand, RightElbow)
	set(LeftHip, Torso)
	set(LeftKnee, LeftHip)
	set(LeftFoot, LeftKnee)
	set(RightHip, Torso)
	set(RightKnee, RightHip)
	set(RightFoot, RightKnee)
	return &Topology{parent: parent}
}

// NewTopology validates a parent array: exactly one root and no cycles.
func NewTopology(parent []int) (*Topology, error) {
	roots := 0
	for i, p := range parent {
		switch {
		case p == -1:
			roots++
		case p < 0 || p >= len(parent) || p == i:
			return nil, errors.Errorf("joint %d has invalid parent %d", i, p)
		}
	}
	if roots != 1 {
		return nil, errors.Errorf("topology needs exactly one root, got %d", roots)
	}
	t := &Topology{parent: append([]int(nil), parent...)}
	if visited := len(t.Order()); visited != len(parent) {
		return nil, errors.Errorf("topology has a cycle, only %d of %d joints reachable", visited, len(parent))
	}
	return t, nil
}

// Root returns the root joint.
func (t *Topology) Root() JointLabel {
	for i, p := range t.parent {
		if p == -1 {
			return JointLabel(i)
		}
	}
	return -1
}

// Parent returns the parent of j and false for the root.
func (t *Topology) Parent(j JointLabel) (JointLabel, bool) {
	p := t.parent[j]
	return JointLabel(p), p >= 0
}

// Children returns the direct children of j in label order.
func (t *Topology) Children(j JointLabel) []JointLabel {
	var out []JointLabel
	for i, p := range t.parent {
		if p == int(j) {
			out = append(out, JointLabel(i))
		}
	}
	return out
}

// Order returns the joints in depth-first order from the root, parents before children.
func (t *Topology) Order() []JointLabel {
	root := t.Root()
	if root < 0 {
		return nil
	}
	order := make([]JointLabel, 0, len(t.parent))
	stack := []JointLabel{root}
	seen := make([]bool, len(t.parent))
	for len(stack) > 0 {
		j := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[j] {
			continue
		}
		seen[j] = true
		order = append(order, j)
		children := t.Children(j)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return order
}

// Bone is a parent to child segment.
type Bone struct {
	Parent, Child JointLabel
}

// BoneLengths returns the length of every bone whose two joints are present in the frame.
func (t *Topology) BoneLengths(jf JointFrame) map[Bone]float64 {
	out := make(map[Bone]float64)
	for _, j := range t.Order() {
		p, ok := t.Parent(j)
		if !ok {
			continue
		}
		a, okA := jf[p]
		b, okB := jf[j]
		if okA && okB {
			out[Bone{Parent: p, Child: j}] = a.Distance(b)
		}
	}
	return out
}
