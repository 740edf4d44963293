// Package skeleton fuses per-camera skeleton tracks into world-space skeletons and reconciles
// the per-camera user ids into global identities.
package skeleton

import (
	"sort"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/mocap/spatialmath"
)

// JointLabel names a tracked joint.
type JointLabel int

// The joints reported by the skeletal tracker.
const (
	Head JointLabel = iota
	Neck
	Torso
	LeftShoulder
	LeftElbow
	LeftHand
	RightShoulder
	RightElbow
	RightHand
	LeftHip
	LeftKnee
	LeftFoot
	RightHip
	RightKnee
	RightFoot
	JointCount
)

var jointNames = [JointCount]string{
	"head", "neck", "torso",
	"left_shoulder", "left_elbow", "left_hand",
	"right_shoulder", "right_elbow", "right_hand",
	"left_hip", "left_knee", "left_foot",
	"right_hip", "right_knee", "right_foot",
}

// mirrorOf swaps the left and right side of the body.
var mirrorOf = [JointCount]JointLabel{
	Head: Head, Neck: Neck, Torso: Torso,
	LeftShoulder: RightShoulder, LeftElbow: RightElbow, LeftHand: RightHand,
	RightShoulder: LeftShoulder, RightElbow: LeftElbow, RightHand: LeftHand,
	LeftHip: RightHip, LeftKnee: RightKnee, LeftFoot: RightFoot,
	RightHip: LeftHip, RightKnee: LeftKnee, RightFoot: LeftFoot,
}

// Valid reports whether the label is a known joint.
func (j JointLabel) Valid() bool {
	return j >= 0 && j < JointCount
}

func (j JointLabel) String() string {
	if !j.Valid() {
		return "unknown"
	}
	return jointNames[j]
}

// Mirror returns the joint on the other side of the body. Central joints map to themselves.
func (j JointLabel) Mirror() JointLabel {
	if !j.Valid() {
		return j
	}
	return mirrorOf[j]
}

// MarshalText encodes the label by name so joint frames serialize as readable JSON objects.
func (j JointLabel) MarshalText() ([]byte, error) {
	if !j.Valid() {
		return nil, errors.Errorf("invalid joint label %d", int(j))
	}
	return []byte(jointNames[j]), nil
}

// UnmarshalText decodes a joint name.
func (j *JointLabel) UnmarshalText(text []byte) error {
	parsed, err := ParseJointLabel(string(text))
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// ParseJointLabel returns the label with the given name.
func ParseJointLabel(name string) (JointLabel, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range jointNames {
		if n == name {
			return JointLabel(i), nil
		}
	}
	return 0, errors.Errorf("unknown joint %q", name)
}

// JointFrame is one observation of a body, possibly partial.
type JointFrame map[JointLabel]r3.Vector

// Labels returns the joints present, in label order.
func (jf JointFrame) Labels() []JointLabel {
	labels := make([]JointLabel, 0, len(jf))
	for j := range jf {
		labels = append(labels, j)
	}
	sort.Slice(labels, func(a, b int) bool { return labels[a] < labels[b] })
	return labels
}

// Clone returns a copy.
func (jf JointFrame) Clone() JointFrame {
	out := make(JointFrame, len(jf))
	for j, p := range jf {
		out[j] = p
	}
	return out
}

// Transform returns the frame with every joint moved by pose.
func (jf JointFrame) Transform(pose spatialmath.RigidTransform) JointFrame {
	out := make(JointFrame, len(jf))
	for j, p := range jf {
		out[j] = pose.Apply(p)
	}
	return out
}

// Mirrored returns the frame with left and right labels swapped.
func (jf JointFrame) Mirrored() JointFrame {
	out := make(JointFrame, len(jf))
	for j, p := range jf {
		out[j.Mirror()] = p
	}
	return out
}

// MeanDistance is the mean Euclidean distance over the joints both frames share.
func (jf JointFrame) MeanDistance(other JointFrame) (float64, int) {
	var sum float64
	var n int
	for j, p := range jf {
		q, ok := other[j]
		if !ok {
			continue
		}
		sum += p.Distance(q)
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
