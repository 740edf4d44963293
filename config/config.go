// Package config defines the configuration of a capture rig's calibration and registration runs.
package config

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/mocap/calibration"
	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/registration"
	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/skeleton"
	"go.viam.com/mocap/spatialmath"
)

// Duration is a time.Duration written as a string such as "200ms" in configuration files.
type Duration time.Duration

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Errorf("duration must be a string or an integer, got %s", data)
	}
	*d = Duration(n)
	return nil
}

// SkeletonRegistration configures coarse registration from skeletons.
type SkeletonRegistration struct {
	Tolerance          Duration `json:"tolerance"`
	MinCorrespondences int      `json:"min_correspondences"`
	HalfLife           Duration `json:"half_life"`
	// Solver is "horn" or "iterative".
	Solver string `json:"solver,omitempty"`
}

// Alignment configures point cloud registration.
type Alignment struct {
	registration.AlignerConfig
	SamplingRatio float64 `json:"sampling_ratio"`
	Rounds        int     `json:"rounds"`
	// CauchyScaleSq sets the correspondence weighting; zero weighs every match equally.
	CauchyScaleSq float64 `json:"cauchy_scale_sq"`
	// CloudStride keeps every CloudStride-th pixel when frames are turned into clouds.
	CloudStride int `json:"cloud_stride"`
	// OutlierMeanK and OutlierStdDev configure the statistical outlier filter; a zero
	// OutlierMeanK disables it.
	OutlierMeanK  int     `json:"outlier_mean_k"`
	OutlierStdDev float64 `json:"outlier_std_dev"`
	// VoxelSizeMM downsamples each filtered cloud to one sample per cell; zero keeps every sample.
	VoxelSizeMM float64 `json:"voxel_size_mm"`
}

// Fusion configures skeleton fusion.
type Fusion struct {
	HalfLife           Duration `json:"half_life"`
	MaxGap             Duration `json:"max_gap"`
	OmitIncomplete     bool     `json:"omit_incomplete"`
	ConfidenceBaseline float64  `json:"confidence_baseline"`
	// FrameTolerance merges frame times closer than this into one fused instant.
	FrameTolerance Duration `json:"frame_tolerance"`
}

// Identity configures cross-camera identity reconciliation.
type Identity struct {
	MaxDistanceMM float64  `json:"max_distance_mm"`
	Tolerance     Duration `json:"tolerance"`
	MinMatches    int      `json:"min_matches"`
}

// RigConfig is the whole configuration of a calibration and registration run.
type RigConfig struct {
	// ConfigFilePath is where the configuration was read from, if anywhere.
	ConfigFilePath string `json:"-"`

	Sensor               transform.SensorProfile      `json:"sensor"`
	Board                calibration.Board            `json:"board"`
	Intrinsics           calibration.IntrinsicsConfig `json:"intrinsics"`
	DepthField           calibration.DepthFieldConfig `json:"depth_field"`
	RealScale            calibration.RealScaleConfig  `json:"real_scale"`
	SkeletonRegistration SkeletonRegistration         `json:"skeleton_registration"`
	Alignment            Alignment                    `json:"alignment"`
	Fusion               Fusion                       `json:"fusion"`
	Identity             Identity                     `json:"identity"`
	Log                  []logging.LoggerPatternConfig `json:"log,omitempty"`
}

// Default returns the configuration used when no file overrides it. The sensor constants are
// those of a 57°×43° structured-light sensor.
func Default() *RigConfig {
	skel := registration.DefaultSkeletonRegistrationConfig()
	fuser := skeleton.DefaultFuserConfig()
	identity := skeleton.DefaultReconcileConfig()
	return &RigConfig{
		Sensor:     transform.DefaultSensorProfile(),
		Board:      calibration.Board{Cols: 9, Rows: 6, SquareMM: 25},
		Intrinsics: calibration.DefaultIntrinsicsConfig(),
		DepthField: calibration.DefaultDepthFieldConfig(),
		RealScale:  calibration.DefaultRealScaleConfig(),
		SkeletonRegistration: SkeletonRegistration{
			Tolerance:          Duration(skel.Tolerance),
			MinCorrespondences: skel.MinCorrespondences,
			HalfLife:           Duration(skel.HalfLife),
			Solver:             "horn",
		},
		Alignment: Alignment{
			AlignerConfig: registration.DefaultAlignerConfig(),
			SamplingRatio: 0.25,
			Rounds:        20,
			CauchyScaleSq: 400,
			CloudStride:   2,
			OutlierMeanK:  8,
			OutlierStdDev: 2,
		},
		Fusion: Fusion{
			HalfLife:           Duration(fuser.HalfLife),
			MaxGap:             Duration(fuser.MaxGap),
			OmitIncomplete:     fuser.OmitIncomplete,
			ConfidenceBaseline: fuser.ConfidenceBaseline,
			FrameTolerance:     Duration(5 * time.Millisecond),
		},
		Identity: Identity{
			MaxDistanceMM: identity.MaxDistanceMM,
			Tolerance:     Duration(identity.Tolerance),
			MinMatches:    identity.MinMatches,
		},
	}
}

// Validate checks every section and returns all problems found.
func (c *RigConfig) Validate() error {
	var errs error
	if err := c.Sensor.CheckValid(); err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError("sensor", err))
	}
	if err := c.Board.CheckValid(); err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError("board", err))
	}
	if c.Intrinsics.MaxFrames < 0 || c.Intrinsics.RefineIterations < 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("intrinsics",
			errors.New("frame and iteration limits must not be negative")))
	}
	if c.Intrinsics.ImageScaleGridStep <= 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("intrinsics", errors.New("image_scale_grid_step must be positive")))
	}
	if c.DepthField.Degree < 1 || c.DepthField.Degree > transform.MaxDepthFieldDegree {
		errs = multierr.Append(errs, utils.NewConfigValidationError("depth_field",
			errors.Errorf("degree must be in [1, %d], got %d", transform.MaxDepthFieldDegree, c.DepthField.Degree)))
	}
	if c.DepthField.FieldOfViewLimit <= 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("depth_field", errors.New("field_of_view_limit must be positive")))
	}
	if c.RealScale.StepShrink <= 0 || c.RealScale.StepShrink >= 1 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("real_scale",
			errors.Errorf("step_shrink must be in (0, 1), got %v", c.RealScale.StepShrink)))
	}
	if c.SkeletonRegistration.Tolerance < 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("skeleton_registration", errors.New("tolerance must not be negative")))
	}
	switch c.SkeletonRegistration.Solver {
	case "", "horn", "iterative":
	default:
		errs = multierr.Append(errs, utils.NewConfigValidationError("skeleton_registration",
			errors.Errorf("unknown solver %q", c.SkeletonRegistration.Solver)))
	}
	a := c.Alignment
	if a.SamplingRatio <= 0 || a.SamplingRatio > 1 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("alignment",
			errors.Errorf("sampling_ratio must be in (0, 1], got %v", a.SamplingRatio)))
	}
	if a.AnnealRatio <= 0 || a.AnnealRatio > 1 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("alignment",
			errors.Errorf("anneal_ratio must be in (0, 1], got %v", a.AnnealRatio)))
	}
	if a.MaxSqDistStart < a.MaxSqDistFloor || a.MaxSqDistFloor <= 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("alignment",
			errors.New("max_sq_dist_start must be at least max_sq_dist_floor, which must be positive")))
	}
	if a.VoxelSizeMM < 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("alignment", errors.New("voxel_size_mm must not be negative")))
	}
	if a.CloudStride < 1 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("alignment", errors.New("cloud_stride must be positive")))
	}
	if c.Fusion.HalfLife <= 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("fusion", errors.New("half_life must be positive")))
	}
	if c.Identity.MaxDistanceMM <= 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError("identity", errors.New("max_distance_mm must be positive")))
	}
	for i, p := range c.Log {
		if err := p.Validate(); err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError("log", errors.Wrapf(err, "pattern %d", i)))
		}
	}
	return errs
}

// SkeletonRegistrationConfig converts the section to the registration package's settings.
func (c *RigConfig) SkeletonRegistrationConfig() registration.SkeletonRegistrationConfig {
	cfg := registration.SkeletonRegistrationConfig{
		Tolerance:          time.Duration(c.SkeletonRegistration.Tolerance),
		MinCorrespondences: c.SkeletonRegistration.MinCorrespondences,
		HalfLife:           time.Duration(c.SkeletonRegistration.HalfLife),
	}
	if c.SkeletonRegistration.Solver == "iterative" {
		cfg.NewSolver = func() spatialmath.CorrespondenceSolver { return spatialmath.NewIterativeSolver() }
	}
	return cfg
}

// Weight returns the correspondence weighting for alignment.
func (a Alignment) Weight() registration.WeightFunc {
	if a.CauchyScaleSq <= 0 {
		return registration.UniformWeight
	}
	return registration.CauchyWeight(a.CauchyScaleSq)
}

// FuserConfig converts the section to the skeleton package's settings.
func (c *RigConfig) FuserConfig() skeleton.FuserConfig {
	return skeleton.FuserConfig{
		HalfLife:           time.Duration(c.Fusion.HalfLife),
		MaxGap:             time.Duration(c.Fusion.MaxGap),
		OmitIncomplete:     c.Fusion.OmitIncomplete,
		ConfidenceBaseline: c.Fusion.ConfidenceBaseline,
	}
}

// ReconcileConfig converts the section to the skeleton package's settings.
func (c *RigConfig) ReconcileConfig() skeleton.ReconcileConfig {
	return skeleton.ReconcileConfig{
		MaxDistanceMM: c.Identity.MaxDistanceMM,
		Tolerance:     time.Duration(c.Identity.Tolerance),
		MinMatches:    c.Identity.MinMatches,
	}
}
