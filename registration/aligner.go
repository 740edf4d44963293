package registration

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/pointcloud"
	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/spatialmath"
	"go.viam.com/mocap/utils"
)

// WeightFunc weighs a correspondence by its squared colour-augmented distance.
type WeightFunc func(sqDist float64) float64

// UniformWeight gives every correspondence the same weight.
func UniformWeight(float64) float64 { return 1 }

// CauchyWeight returns 1/(1+d²/scaleSq), which downweights far matches smoothly.
func CauchyWeight(scaleSq float64) WeightFunc {
	return func(sqDist float64) float64 {
		return 1 / (1 + sqDist/scaleSq)
	}
}

// AlignerConfig controls point cloud alignment.
type AlignerConfig struct {
	// ColorScale multiplies Lab colour coordinates before they join the position in the
	// nearest-neighbour search.
	ColorScale float64 `json:"color_scale"`
	// MinCorrespondences is the least number of matches for which a camera pose is updated.
	MinCorrespondences int `json:"min_correspondences"`
	// The matching threshold anneals geometrically from MaxSqDistStart towards MaxSqDistFloor
	// by AnnealRatio every round.
	MaxSqDistStart float64 `json:"max_sq_dist_start"`
	MaxSqDistFloor float64 `json:"max_sq_dist_floor"`
	AnnealRatio    float64 `json:"anneal_ratio"`
	Seed           int64   `json:"seed"`
}

// DefaultAlignerConfig returns the default alignment settings.
func DefaultAlignerConfig() AlignerConfig {
	return AlignerConfig{
		ColorScale:         100,
		MinCorrespondences: 10,
		MaxSqDistStart:     100 * 100,
		MaxSqDistFloor:     5 * 5,
		AnnealRatio:        0.8,
		Seed:               1,
	}
}

// Aligner refines camera poses by iteratively matching every camera's cloud against the clouds
// of all other cameras. Poses are published through a TransformTable so they can be read while
// alignment runs; alignment itself must be driven from one goroutine.
type Aligner struct {
	logger   logging.Logger
	cfg      AlignerConfig
	clouds   []pointcloud.Cloud
	indices  []*pointcloud.ColoredIndex
	profiles []transform.SensorProfile
	poses    *spatialmath.TransformTable
	rng      *rand.Rand
}

// NewAligner indexes every camera-local cloud. All slices are indexed by camera.
func NewAligner(
	logger logging.Logger,
	clouds []pointcloud.Cloud,
	profiles []transform.SensorProfile,
	initial []spatialmath.RigidTransform,
	cfg AlignerConfig,
) (*Aligner, error) {
	if len(clouds) != len(profiles) {
		return nil, utils.NewInconsistentDimensionsError("sensor profiles", len(clouds), len(profiles))
	}
	if len(clouds) != len(initial) {
		return nil, utils.NewInconsistentDimensionsError("initial poses", len(clouds), len(initial))
	}
	for i, p := range profiles {
		if err := p.CheckValid(); err != nil {
			return nil, errors.Wrapf(err, "camera %d", i)
		}
	}
	if cfg.AnnealRatio <= 0 || cfg.AnnealRatio > 1 {
		return nil, errors.Errorf("anneal ratio must be in (0, 1], got %v", cfg.AnnealRatio)
	}
	a := &Aligner{
		logger:   logger,
		cfg:      cfg,
		clouds:   clouds,
		indices:  make([]*pointcloud.ColoredIndex, len(clouds)),
		profiles: profiles,
		poses:    spatialmath.NewTransformTableFrom(initial),
		//nolint:gosec
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	for i, c := range clouds {
		a.indices[i] = pointcloud.NewColoredIndex(c, cfg.ColorScale)
	}
	return a, nil
}

// Poses returns the current pose of every camera.
func (a *Aligner) Poses() []spatialmath.RigidTransform {
	return a.poses.Snapshot()
}

// Table exposes the published poses to concurrent readers.
func (a *Aligner) Table() *spatialmath.TransformTable {
	return a.poses
}

// AlignOneCamera matches a random subset of the target camera's points, each against its best
// match over all other cameras within maxSqDist, and moves the target by the rigid transform
// that best explains the matches. Each match is weighted by weight(d²) divided by the depth
// uncertainty of both points. With fewer than MinCorrespondences matches the pose is left as is.
func (a *Aligner) AlignOneCamera(
	ctx context.Context,
	target int,
	samplingRatio, maxSqDist float64,
	weight WeightFunc,
) (spatialmath.RigidTransform, error) {
	if weight == nil {
		return spatialmath.RigidTransform{}, errors.New("weight function is required")
	}
	if target < 0 || target >= len(a.clouds) {
		return spatialmath.RigidTransform{}, utils.NewIndexOutOfRangeError("camera", target, len(a.clouds))
	}
	poses := a.poses.Snapshot()
	toOther := make([]spatialmath.RigidTransform, len(poses))
	for j := range poses {
		toOther[j] = poses[j].Inverse().Compose(poses[target])
	}
	samples := a.clouds[target].Sample(samplingRatio, a.rng)
	targetProfile := a.profiles[target]

	solver := spatialmath.NewHornSolver()
	var (
		mu      sync.Mutex
		sumDist float64
	)
	err := utils.GroupWorkParallel(ctx, len(samples), nil, func(_, _, _, _ int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
		var groupDist float64
		return func(_, i int) {
				s := samples[i]
				best := pointcloud.Neighbor{SqDist: math.Inf(1)}
				bestCam := -1
				for j, idx := range a.indices {
					if j == target {
						continue
					}
					nb, ok := idx.Nearest(s.Transform(toOther[j]), maxSqDist)
					if ok && nb.SqDist < best.SqDist {
						best, bestCam = nb, j
					}
				}
				if bestCam < 0 {
					return
				}
				w := weight(best.SqDist) /
					(targetProfile.DepthUncertainty(s.Position.Z) * a.profiles[bestCam].DepthUncertainty(best.Sample.Position.Z))
				solver.PutCorrespondence(poses[target].Apply(s.Position), poses[bestCam].Apply(best.Sample.Position), w)
				groupDist += best.SqDist
			}, func() {
				mu.Lock()
				sumDist += groupDist
				mu.Unlock()
			}
	})
	if err != nil {
		return spatialmath.RigidTransform{}, err
	}

	logger := a.logger.With("camera", target)
	count := solver.PointCount()
	if count < a.cfg.MinCorrespondences {
		logger.CDebugw(ctx, "too few correspondences, keeping pose", "matches", count)
		return poses[target], nil
	}
	delta, err := solver.Solve()
	if err != nil {
		return spatialmath.RigidTransform{}, errors.Wrapf(err, "aligning camera %d", target)
	}
	updated := delta.Compose(poses[target])
	if err := a.poses.With(target, updated); err != nil {
		return spatialmath.RigidTransform{}, err
	}
	logger.CDebugw(ctx, "aligned camera", "matches", count, "mean_sq_dist", sumDist/float64(count), "rotation", delta.RotationAngle())
	return updated, nil
}

// AlignSequentially runs rounds of AlignOneCamera over every camera in turn, annealing the
// matching threshold each round, and returns the final poses.
func (a *Aligner) AlignSequentially(
	ctx context.Context,
	samplingRatio float64,
	rounds int,
	weight WeightFunc,
) ([]spatialmath.RigidTransform, error) {
	if len(a.clouds) < 2 {
		return nil, utils.NewInsufficientDataError("alignment needs at least two cameras, got %d", len(a.clouds))
	}
	for round := 0; round < rounds; round++ {
		maxSqDist := utils.Geometric(a.cfg.MaxSqDistStart, a.cfg.MaxSqDistFloor, a.cfg.AnnealRatio, round)
		for c := range a.clouds {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if _, err := a.AlignOneCamera(ctx, c, samplingRatio, maxSqDist, weight); err != nil {
				return nil, err
			}
		}
		a.logger.CDebugw(ctx, "alignment round done", "round", round, "max_sq_dist", maxSqDist)
	}
	return a.Poses(), nil
}
