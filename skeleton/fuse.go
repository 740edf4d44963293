package skeleton

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/spatialmath"
	"go.viam.com/mocap/utils"
)

// DefaultReliabilityHalfLife is the time offset at which an observation's reliability halves.
const DefaultReliabilityHalfLife = 200 * time.Millisecond

// Reliability scores an observation made at frameTime for use at queryTime. It decays by half
// every halfLife and is scaled by the mean over joints of 1/(1+ρ⁴), where ρ is the joint's
// radial ratio in the camera's field of view. An empty frame scores 0.
func Reliability(frameTime, queryTime time.Duration, joints JointFrame, profile transform.SensorProfile, halfLife time.Duration) float64 {
	if len(joints) == 0 {
		return 0
	}
	temporal := 1.0
	if halfLife > 0 {
		temporal = math.Pow(0.5, math.Abs(float64(frameTime-queryTime))/float64(halfLife))
	}
	var spatial float64
	for _, p := range joints {
		rho := profile.RadialRatio(p)
		spatial += 1 / (1 + math.Pow(rho, 4))
	}
	return temporal * spatial / float64(len(joints))
}

// CorrectMirrorAmbiguity decides whether a camera-local observation had its left and right
// sides swapped by the tracker. The observation is moved to world space with pose and compared
// with pivot both directly and with left/right swapped, using the median squared joint distance
// over the joints both mappings share with the pivot. The swapped local frame is returned when
// it matches better.
func CorrectMirrorAmbiguity(local JointFrame, pose spatialmath.RigidTransform, pivot JointFrame) (JointFrame, bool) {
	if len(pivot) == 0 {
		return local, false
	}
	world := local.Transform(pose)
	var direct, mirrored []float64
	for j, p := range world {
		target, ok := pivot[j]
		if !ok {
			continue
		}
		mirrorTarget, ok := pivot[j.Mirror()]
		if !ok {
			continue
		}
		direct = append(direct, p.Sub(target).Norm2())
		mirrored = append(mirrored, p.Sub(mirrorTarget).Norm2())
	}
	if len(direct) == 0 {
		return local, false
	}
	directMedian, err := stats.Median(direct)
	if err != nil {
		return local, false
	}
	mirroredMedian, err := stats.Median(mirrored)
	if err != nil {
		return local, false
	}
	if mirroredMedian < directMedian {
		return local.Mirrored(), true
	}
	return local, false
}

// Fuse combines observations of one body into a single frame. Each coordinate of each joint is
// the weighted median of the observations that contain the joint; joints whose total weight
// is zero are left out. Negative weights count as zero.
func Fuse(frames []JointFrame, weights []float64) (JointFrame, error) {
	if len(frames) != len(weights) {
		return nil, utils.NewInconsistentDimensionsError("fusion weights", len(frames), len(weights))
	}
	out := JointFrame{}
	xs := make([]float64, 0, len(frames))
	ys := make([]float64, 0, len(frames))
	zs := make([]float64, 0, len(frames))
	ws := make([]float64, 0, len(frames))
	for j := JointLabel(0); j < JointCount; j++ {
		xs, ys, zs, ws = xs[:0], ys[:0], zs[:0], ws[:0]
		for i, f := range frames {
			p, ok := f[j]
			if !ok || weights[i] <= 0 {
				continue
			}
			xs = append(xs, p.X)
			ys = append(ys, p.Y)
			zs = append(zs, p.Z)
			ws = append(ws, weights[i])
		}
		if len(ws) == 0 {
			continue
		}
		out[j] = r3.Vector{X: weightedMedian(xs, ws), Y: weightedMedian(ys, ws), Z: weightedMedian(zs, ws)}
	}
	return out, nil
}

// weightedMedian returns the first value, in ascending order, at which the cumulative weight
// reaches half the total. values is sorted in place; weights is left untouched.
func weightedMedian(values, weights []float64) float64 {
	inds := make([]int, len(values))
	floats.Argsort(values, inds)
	sorted := make([]float64, len(weights))
	for i, idx := range inds {
		sorted[i] = weights[idx]
	}
	return stat.Quantile(0.5, stat.Empirical, values, sorted)
}

// CameraConfidence maps a camera's jitter to a fusion weight, max(0, 1/(1+jitter) − baseline).
func CameraConfidence(jitter, baseline float64) float64 {
	return math.Max(0, 1/(1+jitter)-baseline)
}

// CameraJitter is the mean second difference of joint positions over consecutive frames of
// every user track, in metres. Steady tracking gives values near zero.
func CameraJitter(r *Recording) float64 {
	var sum float64
	var n int
	for i := 2; i < len(r.Frames); i++ {
		a, b, c := r.Frames[i-2], r.Frames[i-1], r.Frames[i]
		for user, jc := range c.Bodies {
			jb, okB := b.Bodies[user]
			ja, okA := a.Bodies[user]
			if !okA || !okB {
				continue
			}
			for j, pc := range jc {
				pb, okB := jb[j]
				pa, okA := ja[j]
				if !okA || !okB {
					continue
				}
				sum += pc.Sub(pb.Mul(2)).Add(pa).Norm() / 1000
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
