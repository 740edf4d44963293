package skeleton

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/spatialmath"
	"go.viam.com/mocap/utils"
)

// ReconcileConfig controls cross-camera identity matching.
type ReconcileConfig struct {
	// MaxDistanceMM is the largest median joint distance at which two tracks are merged.
	MaxDistanceMM float64 `json:"max_distance_mm"`
	// Tolerance is how far apart two frames may be and still count as simultaneous.
	Tolerance time.Duration `json:"tolerance"`
	// MinMatches is the number of simultaneous observations a pair of tracks needs before it
	// is considered at all.
	MinMatches int `json:"min_matches"`
}

// DefaultReconcileConfig returns the default matching thresholds.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		MaxDistanceMM: 300,
		Tolerance:     40 * time.Millisecond,
		MinMatches:    5,
	}
}

type trackMatch struct {
	a, b     UserKey
	distance float64
}

// Reconcile assigns global identities to every per-camera user. Users seen together by one
// camera are kept apart; remaining cross-camera pairs are merged greedily, closest first, by
// the median over simultaneous frames of their mean world-space joint distance. A mirrored
// match counts as a match. When any recording is unsegmented its ids are meaningless and every
// user keeps its own identity. Every recording must come from a different camera.
func Reconcile(
	ctx context.Context,
	logger logging.Logger,
	recordings []*Recording,
	poses []spatialmath.RigidTransform,
	cfg ReconcileConfig,
) (*IdentitySet, error) {
	if len(recordings) != len(poses) {
		return nil, utils.NewInconsistentDimensionsError("camera poses", len(recordings), len(poses))
	}
	var keys []UserKey
	seen := make(map[int]bool, len(recordings))
	for _, rec := range recordings {
		if seen[rec.Camera] {
			return nil, errors.Errorf("camera %d has more than one recording", rec.Camera)
		}
		seen[rec.Camera] = true
		for _, u := range rec.Users() {
			keys = append(keys, UserKey{Camera: rec.Camera, User: u})
		}
	}
	set := NewIdentitySet(keys)
	for _, rec := range recordings {
		if !rec.Segmented {
			logger.Warnw("recording is not user segmented, keeping raw user ids", "camera", rec.Camera)
			return set, nil
		}
	}

	for _, rec := range recordings {
		for _, f := range rec.Frames {
			users := sortedUsers(f.Bodies)
			for i := 0; i < len(users); i++ {
				for j := i + 1; j < len(users); j++ {
					a := UserKey{Camera: rec.Camera, User: users[i]}
					b := UserKey{Camera: rec.Camera, User: users[j]}
					if set.Exclusive(a, b) {
						continue
					}
					if err := set.SetExclusive(a, b); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	var (
		mu      sync.Mutex
		matches []trackMatch
	)
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(utils.ParallelFactor)
	for ai := range recordings {
		for bi := ai + 1; bi < len(recordings); bi++ {
			ai, bi := ai, bi
			group.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				found := matchTracks(recordings[ai], poses[ai], recordings[bi], poses[bi], cfg)
				mu.Lock()
				matches = append(matches, found...)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		return lessKeyPair(matches[i], matches[j])
	})
	for _, m := range matches {
		if m.distance > cfg.MaxDistanceMM {
			break
		}
		merged, err := set.Union(m.a, m.b)
		if err != nil {
			return nil, err
		}
		if merged {
			logger.Debugw("merged identities", "a", m.a, "b", m.b, "distance_mm", m.distance)
		}
	}
	logger.Infow("reconciled identities", "users", len(keys), "identities", set.Count())
	return set, nil
}

// matchTracks scores every pairing of a user in recording a with a user in recording b.
func matchTracks(
	a *Recording, poseA spatialmath.RigidTransform,
	b *Recording, poseB spatialmath.RigidTransform,
	cfg ReconcileConfig,
) []trackMatch {
	samples := map[[2]UserID][]float64{}
	for _, fa := range a.Frames {
		idx, ok := b.NearestFrame(fa.Timestamp, cfg.Tolerance)
		if !ok {
			continue
		}
		fb := b.Frames[idx]
		for ua, ja := range fa.Bodies {
			wa := ja.Transform(poseA)
			for ub, jb := range fb.Bodies {
				wb := jb.Transform(poseB)
				direct, n := wa.MeanDistance(wb)
				if n == 0 {
					continue
				}
				if mirrored, m := wa.MeanDistance(wb.Mirrored()); m > 0 && mirrored < direct {
					direct = mirrored
				}
				key := [2]UserID{ua, ub}
				samples[key] = append(samples[key], direct)
			}
		}
	}
	var out []trackMatch
	for key, ds := range samples {
		if len(ds) < cfg.MinMatches {
			continue
		}
		median, err := stats.Median(ds)
		if err != nil {
			continue
		}
		out = append(out, trackMatch{
			a:        UserKey{Camera: a.Camera, User: key[0]},
			b:        UserKey{Camera: b.Camera, User: key[1]},
			distance: median,
		})
	}
	return out
}

func sortedUsers(bodies map[UserID]JointFrame) []UserID {
	users := make([]UserID, 0, len(bodies))
	for u := range bodies {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func lessKeyPair(x, y trackMatch) bool {
	kx := [4]int{x.a.Camera, int(x.a.User), x.b.Camera, int(x.b.User)}
	ky := [4]int{y.a.Camera, int(y.a.User), y.b.Camera, int(y.b.User)}
	for i := range kx {
		if kx[i] != ky[i] {
			return kx[i] < ky[i]
		}
	}
	return false
}
