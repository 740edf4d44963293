package skeleton

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/utils"
)

// UserID is a tracker-assigned id, unique only within one camera.
type UserID int

// BodyFrame holds every body one camera saw at one instant.
type BodyFrame struct {
	Timestamp time.Duration        `json:"timestamp"`
	Bodies    map[UserID]JointFrame `json:"bodies"`
}

// Recording is one camera's skeleton stream, ordered by time.
type Recording struct {
	Camera int                     `json:"camera"`
	Profile transform.SensorProfile `json:"profile"`
	// Segmented is false when the tracker could not separate users, in which case its ids
	// carry no identity information.
	Segmented bool        `json:"segmented"`
	Frames    []BodyFrame `json:"frames"`
}

// Validate checks that frames are strictly ordered and joint labels are known.
func (r *Recording) Validate() error {
	if err := r.Profile.CheckValid(); err != nil {
		return errors.Wrapf(err, "camera %d", r.Camera)
	}
	for i, f := range r.Frames {
		if i > 0 && f.Timestamp <= r.Frames[i-1].Timestamp {
			return errors.Errorf("camera %d: frame %d at %v is not after %v", r.Camera, i, f.Timestamp, r.Frames[i-1].Timestamp)
		}
		for user, body := range f.Bodies {
			for j := range body {
				if !j.Valid() {
					return errors.Errorf("camera %d: user %d has invalid joint %d", r.Camera, user, int(j))
				}
			}
		}
	}
	return nil
}

// Users returns every user id seen, ascending.
func (r *Recording) Users() []UserID {
	seen := map[UserID]struct{}{}
	for _, f := range r.Frames {
		for u := range f.Bodies {
			seen[u] = struct{}{}
		}
	}
	users := make([]UserID, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// NearestFrame returns the index of the frame closest to t, if within tolerance.
func (r *Recording) NearestFrame(t, tolerance time.Duration) (int, bool) {
	if len(r.Frames) == 0 {
		return -1, false
	}
	i := sort.Search(len(r.Frames), func(i int) bool { return r.Frames[i].Timestamp >= t })
	best := -1
	bestGap := time.Duration(-1)
	for _, c := range []int{i - 1, i} {
		if c < 0 || c >= len(r.Frames) {
			continue
		}
		gap := absDuration(r.Frames[c].Timestamp - t)
		if best < 0 || gap < bestGap {
			best, bestGap = c, gap
		}
	}
	if bestGap > tolerance {
		return -1, false
	}
	return best, true
}

// TrackSample is a user's joints interpolated at a query time, with the timestamp of the
// closest real observation used.
type TrackSample struct {
	Joints    JointFrame
	FrameTime time.Duration
}

// TrackAt interpolates user's joints at t from the nearest frames before and after t that
// contain the user. Observations further than maxGap from t are not used.
func (r *Recording) TrackAt(user UserID, t, maxGap time.Duration, omitIncomplete bool) (TrackSample, bool) {
	i := sort.Search(len(r.Frames), func(i int) bool { return r.Frames[i].Timestamp >= t })
	prev, next := -1, -1
	for k := i - 1; k >= 0; k-- {
		if t-r.Frames[k].Timestamp > maxGap {
			break
		}
		if _, ok := r.Frames[k].Bodies[user]; ok {
			prev = k
			break
		}
	}
	for k := i; k < len(r.Frames); k++ {
		if r.Frames[k].Timestamp-t > maxGap {
			break
		}
		if _, ok := r.Frames[k].Bodies[user]; ok {
			next = k
			break
		}
	}
	switch {
	case prev < 0 && next < 0:
		return TrackSample{}, false
	case prev < 0:
		prev = next
	case next < 0:
		next = prev
	}
	a, b := r.Frames[prev], r.Frames[next]
	frameTime := a.Timestamp
	if absDuration(b.Timestamp-t) < absDuration(a.Timestamp-t) {
		frameTime = b.Timestamp
	}
	joints := Interpolate(a.Timestamp, a.Bodies[user], b.Timestamp, b.Bodies[user], t, omitIncomplete)
	if len(joints) == 0 {
		return TrackSample{}, false
	}
	return TrackSample{Joints: joints, FrameTime: frameTime}, true
}

// Interpolate blends two observations of a body linearly in time. The blend fraction is
// clamped to [0, 1]. A joint present in only one frame is copied when omitIncomplete is false
// and dropped otherwise.
func Interpolate(
	prevTime time.Duration, prev JointFrame,
	nextTime time.Duration, next JointFrame,
	t time.Duration, omitIncomplete bool,
) JointFrame {
	var alpha float64
	if nextTime != prevTime {
		alpha = utils.Clamp(float64(t-prevTime)/float64(nextTime-prevTime), 0, 1)
	}
	out := make(JointFrame, len(prev))
	for j, a := range prev {
		b, ok := next[j]
		if !ok {
			if !omitIncomplete {
				out[j] = a
			}
			continue
		}
		out[j] = a.Mul(1 - alpha).Add(b.Mul(alpha))
	}
	if !omitIncomplete {
		for j, b := range next {
			if _, ok := prev[j]; !ok {
				out[j] = b
			}
		}
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
