package registration

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/skeleton"
	"go.viam.com/mocap/spatialmath"
	"go.viam.com/mocap/utils"
)

// SkeletonRegistrationConfig controls coarse registration from skeletons.
type SkeletonRegistrationConfig struct {
	// Tolerance is how far apart two frames may be and still count as simultaneous.
	Tolerance time.Duration `json:"tolerance"`
	// MinCorrespondences is the least number of shared joints an edge needs to be solved.
	MinCorrespondences int `json:"min_correspondences"`
	// HalfLife weighs correspondences by how far apart in time the two frames were.
	HalfLife time.Duration `json:"half_life"`
	// NewSolver returns the solver used for every edge. Nil uses the closed-form solver.
	NewSolver func() spatialmath.CorrespondenceSolver `json:"-"`
}

// DefaultSkeletonRegistrationConfig returns the default settings.
func DefaultSkeletonRegistrationConfig() SkeletonRegistrationConfig {
	return SkeletonRegistrationConfig{
		Tolerance:          20 * time.Millisecond,
		MinCorrespondences: 10,
		HalfLife:           skeleton.DefaultReliabilityHalfLife,
	}
}

// SkeletonRegistration is the result of coarse registration.
type SkeletonRegistration struct {
	Tree *DependencyTree `json:"tree"`
	// Relative maps each camera into its parent's frame; the root's entry is the identity.
	Relative []spatialmath.RigidTransform `json:"relative"`
	World    []spatialmath.RigidTransform `json:"world"`
	// Correspondences counts the joints used for each camera's edge.
	Correspondences []int `json:"correspondences"`
}

// RegisterFromSkeletons estimates every camera's world pose from the joints of a single person
// seen by several cameras at once. recordings[i] is camera i. The cameras are arranged in a
// dependency tree by co-visibility and every edge is solved concurrently.
func RegisterFromSkeletons(
	ctx context.Context,
	logger logging.Logger,
	recordings []*skeleton.Recording,
	cfg SkeletonRegistrationConfig,
) (*SkeletonRegistration, error) {
	if len(recordings) == 0 {
		return nil, utils.NewInsufficientDataError("no recordings")
	}
	for i, rec := range recordings {
		if err := rec.Validate(); err != nil {
			return nil, errors.Wrapf(err, "recording %d", i)
		}
	}
	newSolver := cfg.NewSolver
	if newSolver == nil {
		newSolver = func() spatialmath.CorrespondenceSolver { return spatialmath.NewHornSolver() }
	}

	cv := CoVisibilityFromRecordings(recordings, cfg.Tolerance)
	tree, err := BuildDependencyTree(len(recordings), cv, SumAggregator)
	if err != nil {
		return nil, err
	}
	logger.Infow("built camera dependency tree", "root", tree.Root, "parents", tree.Parent)

	relative := make([]spatialmath.RigidTransform, len(recordings))
	counts := make([]int, len(recordings))
	relative[tree.Root] = spatialmath.NewIdentityTransform()

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(utils.ParallelFactor)
	for _, edge := range tree.PropagationOrder() {
		edge := edge
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			solver := newSolver()
			child, parent := recordings[edge.Child], recordings[edge.Parent]
			forEachSharedJoint(child, parent, cfg.Tolerance, func(fc, fp skeleton.BodyFrame, j skeleton.JointLabel) {
				jc, _ := singleBody(fc)
				jp, _ := singleBody(fp)
				w := skeleton.Reliability(fc.Timestamp, fp.Timestamp, skeleton.JointFrame{j: jc[j]}, child.Profile, cfg.HalfLife) *
					skeleton.Reliability(fp.Timestamp, fp.Timestamp, skeleton.JointFrame{j: jp[j]}, parent.Profile, cfg.HalfLife)
				solver.PutCorrespondence(jc[j], jp[j], w)
			})
			counts[edge.Child] = solver.PointCount()
			if counts[edge.Child] < cfg.MinCorrespondences {
				return utils.NewInsufficientDataError(
					"camera %d shares %d joints with camera %d, need %d",
					edge.Child, counts[edge.Child], edge.Parent, cfg.MinCorrespondences)
			}
			rel, err := solver.Solve()
			if err != nil {
				return errors.Wrapf(err, "solving camera %d against camera %d", edge.Child, edge.Parent)
			}
			relative[edge.Child] = rel
			logger.Debugw("solved camera edge", "child", edge.Child, "parent", edge.Parent, "joints", counts[edge.Child])
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	world, err := ComposeWorldTransforms(tree, relative)
	if err != nil {
		return nil, err
	}
	return &SkeletonRegistration{Tree: tree, Relative: relative, World: world, Correspondences: counts}, nil
}
