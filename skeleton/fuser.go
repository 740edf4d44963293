package skeleton

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/spatialmath"
	"go.viam.com/mocap/utils"
)

// FuserConfig controls skeleton fusion.
type FuserConfig struct {
	HalfLife time.Duration `json:"half_life"`
	// MaxGap bounds how far from a query time an observation may be and still be used.
	MaxGap         time.Duration `json:"max_gap"`
	OmitIncomplete bool          `json:"omit_incomplete"`
	// ConfidenceBaseline is subtracted from each camera's jitter confidence.
	ConfidenceBaseline float64 `json:"confidence_baseline"`
}

// DefaultFuserConfig returns the default fusion settings.
func DefaultFuserConfig() FuserConfig {
	return FuserConfig{
		HalfLife:           DefaultReliabilityHalfLife,
		MaxGap:             100 * time.Millisecond,
		OmitIncomplete:     true,
		ConfidenceBaseline: 0,
	}
}

// FusedFrame is one world-space skeleton of a global identity.
type FusedFrame struct {
	Timestamp time.Duration `json:"timestamp"`
	Joints    JointFrame    `json:"joints"`
}

// FusedTrack is the fused skeleton sequence of one global identity.
type FusedTrack struct {
	Identity int          `json:"identity"`
	Members  []UserKey    `json:"members"`
	Frames   []FusedFrame `json:"frames"`
	// MirrorCorrections counts observations whose sides were swapped before fusion.
	MirrorCorrections int `json:"mirror_corrections"`
}

// Fuser merges every camera's observations of each identity into world-space skeletons.
type Fuser struct {
	logger     logging.Logger
	cfg        FuserConfig
	recordings map[int]*Recording
	poses      map[int]spatialmath.RigidTransform
	confidence map[int]float64
	identities *IdentitySet
}

// NewFuser validates its inputs and computes each camera's confidence from its jitter.
func NewFuser(
	logger logging.Logger,
	recordings []*Recording,
	poses []spatialmath.RigidTransform,
	identities *IdentitySet,
	cfg FuserConfig,
) (*Fuser, error) {
	if len(recordings) != len(poses) {
		return nil, utils.NewInconsistentDimensionsError("camera poses", len(recordings), len(poses))
	}
	if identities == nil {
		return nil, errors.New("identity set is required")
	}
	f := &Fuser{
		logger:     logger,
		cfg:        cfg,
		recordings: make(map[int]*Recording, len(recordings)),
		poses:      make(map[int]spatialmath.RigidTransform, len(recordings)),
		confidence: make(map[int]float64, len(recordings)),
		identities: identities,
	}
	for i, rec := range recordings {
		if _, dup := f.recordings[rec.Camera]; dup {
			return nil, errors.Errorf("camera %d has more than one recording", rec.Camera)
		}
		f.recordings[rec.Camera] = rec
		f.poses[rec.Camera] = poses[i]
		jitter := CameraJitter(rec)
		f.confidence[rec.Camera] = CameraConfidence(jitter, cfg.ConfidenceBaseline)
		logger.Debugw("camera confidence", "camera", rec.Camera, "jitter_m", jitter, "confidence", f.confidence[rec.Camera])
	}
	return f, nil
}

// Confidence returns the fusion weight of a camera.
func (f *Fuser) Confidence(camera int) float64 {
	return f.confidence[camera]
}

// Run fuses every identity at each of the given times. Identities are processed concurrently;
// within one identity the previous fused frame is the pivot for mirror correction.
func (f *Fuser) Run(ctx context.Context, times []time.Duration) ([]FusedTrack, error) {
	sorted := append([]time.Duration(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	tracks := make([]FusedTrack, f.identities.Count())
	var mu sync.Mutex
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(utils.ParallelFactor)
	for g := range tracks {
		g := g
		group.Go(func() error {
			track, err := f.fuseIdentity(ctx, g, sorted)
			if err != nil {
				return errors.Wrapf(err, "identity %d", g)
			}
			mu.Lock()
			tracks[g] = track
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return tracks, nil
}

func (f *Fuser) fuseIdentity(ctx context.Context, g int, times []time.Duration) (FusedTrack, error) {
	track := FusedTrack{Identity: g, Members: f.identities.Members(g)}
	var pivot JointFrame
	frames := make([]JointFrame, 0, len(track.Members))
	weights := make([]float64, 0, len(track.Members))
	for _, t := range times {
		if err := ctx.Err(); err != nil {
			return FusedTrack{}, err
		}
		frames, weights = frames[:0], weights[:0]
		for _, m := range track.Members {
			rec, ok := f.recordings[m.Camera]
			if !ok {
				continue
			}
			sample, ok := rec.TrackAt(m.User, t, f.cfg.MaxGap, f.cfg.OmitIncomplete)
			if !ok {
				continue
			}
			local := sample.Joints
			pose := f.poses[m.Camera]
			corrected, swapped := CorrectMirrorAmbiguity(local, pose, pivot)
			if swapped {
				track.MirrorCorrections++
			}
			weight := Reliability(sample.FrameTime, t, corrected, rec.Profile, f.cfg.HalfLife) * f.confidence[m.Camera]
			frames = append(frames, corrected.Transform(pose))
			weights = append(weights, weight)
		}
		if len(frames) == 0 {
			continue
		}
		fused, err := Fuse(frames, weights)
		if err != nil {
			return FusedTrack{}, err
		}
		if len(fused) == 0 {
			continue
		}
		track.Frames = append(track.Frames, FusedFrame{Timestamp: t, Joints: fused})
		pivot = fused
	}
	return track, nil
}

// FrameTimes returns the union of every recording's frame timestamps, deduplicated within
// tolerance and in ascending order.
func FrameTimes(recordings []*Recording, tolerance time.Duration) []time.Duration {
	var all []time.Duration
	for _, rec := range recordings {
		for _, fr := range rec.Frames {
			all = append(all, fr.Timestamp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	out := make([]time.Duration, 0, len(all))
	for _, t := range all {
		if len(out) > 0 && t-out[len(out)-1] <= tolerance {
			continue
		}
		out = append(out, t)
	}
	return out
}
