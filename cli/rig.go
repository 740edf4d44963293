package cli

import (
	"context"
	"image"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/mocap/calibration"
	"go.viam.com/mocap/pointcloud"
	"go.viam.com/mocap/registration"
	"go.viam.com/mocap/rimage/transform"
	"go.viam.com/mocap/session"
	"go.viam.com/mocap/skeleton"
	"go.viam.com/mocap/spatialmath"
)

// IntrinsicsAction is the corresponding Action for 'intrinsics'.
func IntrinsicsAction(c *cli.Context) error {
	rc, err := newRunContext(c, "intrinsics")
	if err != nil {
		return err
	}
	defer rc.close()
	cameras, err := rc.selectedCameras(c)
	if err != nil {
		return err
	}
	board := rc.cfg.Board
	if rc.session.Board != nil {
		board = *rc.session.Board
	}
	//nolint:gosec
	rng := rand.New(rand.NewSource(c.Int64(calibrateFlagSeed)))

	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Camera", "Views", "Initial RMS", "RMS", "fx", "fy", "Scale X", "Scale Y", "Depth offset"})
	for _, i := range cameras {
		cam := &rc.session.Cameras[i]
		if len(cam.BoardObservations) == 0 {
			warningf(c.App.ErrWriter, "camera %d (%s) has no board detections, skipping", i, cam.Name)
			continue
		}
		model, report, err := calibration.CalibrateIntrinsics(
			rc.ctx, rc.logger, cam.BoardObservations, board,
			image.Pt(cam.Width, cam.Height), rc.cfg.Sensor, rc.cfg.Intrinsics, rng)
		if err != nil {
			return errors.Wrapf(err, "camera %d (%s)", i, cam.Name)
		}
		scale := calibration.ScaleOffset{ScaleX: 1, ScaleY: 1}
		if len(cam.BoardDepthObservations) > 0 {
			scale, err = calibration.CalibrateRealScaleAndOffset(rc.logger, cam.BoardDepthObservations, model, board, rc.cfg.RealScale)
			if err != nil {
				return errors.Wrapf(err, "camera %d (%s) real scale", i, cam.Name)
			}
			if model, err = scale.Apply(model); err != nil {
				return err
			}
		}
		cam.Model = model
		in := model.Intrinsics()
		t.AppendRow(table.Row{
			i, cam.Name, report.Views, fmtFloat(report.InitialRMS), fmtFloat(report.RMS),
			fmtFloat(in.Fx), fmtFloat(in.Fy), fmtFloat(scale.ScaleX), fmtFloat(scale.ScaleY), fmtFloat(scale.DepthOffset),
		})
	}
	printf(c.App.Writer, "%s", t.Render())
	return rc.save(c)
}

// DepthFieldAction is the corresponding Action for 'depth-field'.
func DepthFieldAction(c *cli.Context) error {
	rc, err := newRunContext(c, "depth-field")
	if err != nil {
		return err
	}
	defer rc.close()
	cameras, err := rc.selectedCameras(c)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Camera", "Frames", "Solved pixels", "Degree"})
	for _, i := range cameras {
		cam := &rc.session.Cameras[i]
		if cam.Model == nil {
			warningf(c.App.ErrWriter, "camera %d (%s) has no intrinsics, skipping", i, cam.Name)
			continue
		}
		frames := lo.Filter(rc.session.DepthFrames, func(df session.DepthFrame, _ int) bool { return df.Camera == i })
		if len(frames) == 0 {
			warningf(c.App.ErrWriter, "camera %d (%s) has no depth frames, skipping", i, cam.Name)
			continue
		}
		acc, err := calibration.NewDepthFieldAccumulator(cam.Model, rc.cfg.DepthField)
		if err != nil {
			return err
		}
		for _, df := range frames {
			frame, err := df.Frame()
			if err != nil {
				return err
			}
			if err := acc.AddFrame(rc.ctx, frame.Depth); err != nil {
				rc.logger.Warnw("skipping depth frame", "camera", i, "timestamp", df.Timestamp, "error", err)
			}
		}
		field, solved, err := acc.Solve(rc.ctx)
		if err != nil {
			return errors.Wrapf(err, "camera %d (%s)", i, cam.Name)
		}
		if cam.Model, err = cam.Model.WithDepthField(field); err != nil {
			return err
		}
		t.AppendRow(table.Row{i, cam.Name, acc.FrameCount(), solved, field.Degree})
	}
	printf(c.App.Writer, "%s", t.Render())
	return rc.save(c)
}

// RegisterAction is the corresponding Action for 'register'.
func RegisterAction(c *cli.Context) error {
	rc, err := newRunContext(c, "register")
	if err != nil {
		return err
	}
	defer rc.close()
	recordings, err := rc.session.RecordingsByCamera()
	if err != nil {
		return err
	}
	coarse, err := registration.RegisterFromSkeletons(rc.ctx, rc.logger, recordings, rc.cfg.SkeletonRegistrationConfig())
	if err != nil {
		return err
	}
	poses := coarse.World
	rc.exportPCD = c.Path(registerFlagExportPCD)
	if !c.Bool(registerFlagSkipClouds) {
		if poses, err = rc.alignClouds(rc.ctx, poses); err != nil {
			return err
		}
	}
	if err := rc.session.SetPoses(poses); err != nil {
		return err
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Camera", "Parent", "Joints", "Translation (mm)", "Rotation (deg)"})
	for i, pose := range poses {
		parent := "world"
		if p := coarse.Tree.Parent[i]; p >= 0 {
			parent = rc.session.Cameras[p].Name
		}
		tr := pose.Translation()
		t.AppendRow(table.Row{
			i, rc.session.Cameras[i].Name, parent, coarse.Correspondences[i],
			fmtVector(tr.X, tr.Y, tr.Z), fmtFloat(pose.RotationAngle() * 180 / math.Pi),
		})
	}
	printf(c.App.Writer, "%s", t.Render())
	return rc.save(c)
}

// alignClouds refines poses by aligning every camera's filtered point cloud.
func (rc *runContext) alignClouds(ctx context.Context, poses []spatialmath.RigidTransform) ([]spatialmath.RigidTransform, error) {
	align := rc.cfg.Alignment
	clouds, err := rc.session.Clouds(ctx, align.CloudStride)
	if err != nil {
		return nil, err
	}
	if align.OutlierMeanK > 0 {
		filter, err := pointcloud.StatisticalOutlierFilter(align.OutlierMeanK, align.OutlierStdDev)
		if err != nil {
			return nil, err
		}
		for i := range clouds {
			if clouds[i], err = filter(ctx, clouds[i]); err != nil {
				return nil, err
			}
		}
	}
	if align.VoxelSizeMM > 0 {
		for i := range clouds {
			before := len(clouds[i])
			clouds[i] = pointcloud.VoxelDownsample(clouds[i], align.VoxelSizeMM)
			rc.logger.Debugw("downsampled cloud", "camera", i, "before", before, "after", len(clouds[i]))
		}
	}
	models, err := rc.session.Models()
	if err != nil {
		return nil, err
	}
	profiles := lo.Map(models, func(m *transform.CameraModel, _ int) transform.SensorProfile { return m.Profile() })
	aligner, err := registration.NewAligner(rc.sublogger("aligner"), clouds, profiles, poses, align.AlignerConfig)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	refined, err := aligner.AlignSequentially(ctx, align.SamplingRatio, align.Rounds, align.Weight())
	if err != nil {
		return nil, err
	}
	rc.logger.Infow("aligned point clouds", "rounds", align.Rounds, "elapsed", time.Since(start))
	if rc.exportPCD != "" {
		var world pointcloud.Cloud
		for i, cloud := range clouds {
			world = append(world, cloud.Transform(refined[i])...)
		}
		if err := pointcloud.WriteToPCDFile(world, rc.exportPCD); err != nil {
			return nil, errors.Wrap(err, "exporting world cloud")
		}
		rc.logger.Infow("exported world cloud", "path", rc.exportPCD, "points", len(world))
	}
	return refined, nil
}

// ReconcileAction is the corresponding Action for 'reconcile'.
func ReconcileAction(c *cli.Context) error {
	rc, err := newRunContext(c, "reconcile")
	if err != nil {
		return err
	}
	defer rc.close()
	recordings, err := rc.session.RecordingsByCamera()
	if err != nil {
		return err
	}
	poses := rc.session.Poses()
	identities, err := skeleton.Reconcile(rc.ctx, rc.logger, recordings, poses, rc.cfg.ReconcileConfig())
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Identity", "Members"})
	for g := 0; g < identities.Count(); g++ {
		members := lo.Map(identities.Members(g), func(k skeleton.UserKey, _ int) string {
			return rc.session.Cameras[k.Camera].Name + ":" + strconv.Itoa(int(k.User))
		})
		t.AppendRow(table.Row{g, strings.Join(members, ", ")})
	}
	printf(c.App.Writer, "%s", t.Render())

	if !c.Bool(reconcileFlagFuse) {
		return nil
	}
	fuser, err := skeleton.NewFuser(rc.logger, recordings, poses, identities, rc.cfg.FuserConfig())
	if err != nil {
		return err
	}
	tracks, err := fuser.Run(rc.ctx, skeleton.FrameTimes(recordings, time.Duration(rc.cfg.Fusion.FrameTolerance)))
	if err != nil {
		return err
	}
	topology := skeleton.DefaultTopology()
	ft := table.NewWriter()
	ft.AppendHeader(table.Row{"Identity", "Frames", "Mirror corrections", "Mean bone (mm)", "Bone spread (mm)"})
	for _, track := range tracks {
		mean, spread := boneStatistics(topology, track)
		ft.AppendRow(table.Row{track.Identity, len(track.Frames), track.MirrorCorrections, fmtFloat(mean), fmtFloat(spread)})
	}
	printf(c.App.Writer, "%s", ft.Render())
	return nil
}

// boneStatistics is the mean bone length of a fused track and the mean over bones of each bone's
// length range, which is near zero for a consistent skeleton.
func boneStatistics(topology *skeleton.Topology, track skeleton.FusedTrack) (float64, float64) {
	lengths := map[skeleton.Bone][]float64{}
	for _, f := range track.Frames {
		for bone, l := range topology.BoneLengths(f.Joints) {
			lengths[bone] = append(lengths[bone], l)
		}
	}
	if len(lengths) == 0 {
		return 0, 0
	}
	var mean, spread float64
	for _, ls := range lengths {
		mean += lo.Sum(ls) / float64(len(ls))
		spread += lo.Max(ls) - lo.Min(ls)
	}
	return mean / float64(len(lengths)), spread / float64(len(lengths))
}
