// Package cli contains the rigcal command line application, which calibrates and registers a
// recorded capture session.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	generalFlagConfig  = "config"
	generalFlagDebug   = "debug"
	generalFlagLogFile = "log-file"

	sessionFlagInput  = "session"
	sessionFlagOutput = "output"

	registerFlagSkipClouds = "skip-clouds"
	registerFlagExportPCD  = "export-pcd"
	reconcileFlagFuse      = "fuse"
	calibrateFlagCameras   = "cameras"
	calibrateFlagSeed      = "seed"
)

var sessionFlags = []cli.Flag{
	&cli.PathFlag{
		Name:     sessionFlagInput,
		Aliases:  []string{"s"},
		Required: true,
		Usage:    "recorded session `FILE`",
	},
	&cli.PathFlag{
		Name:    sessionFlagOutput,
		Aliases: []string{"o"},
		Usage:   "write the updated session to `FILE`",
	},
}

var app = &cli.App{
	Name:            "rigcal",
	Usage:           "calibrate and register a multi-camera capture rig",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.PathFlag{
			Name:    generalFlagConfig,
			Aliases: []string{"c"},
			Usage:   "load rig configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.PathFlag{
			Name:  generalFlagLogFile,
			Usage: "also write logs to `FILE`, rotated every 64MB",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "intrinsics",
			Usage:     "calibrate camera intrinsics and real scale from checkerboard detections",
			UsageText: "rigcal intrinsics --session <session.json> [--cameras 0,1] [--output <out.json>]",
			Flags: append([]cli.Flag{
				&cli.IntSliceFlag{
					Name:  calibrateFlagCameras,
					Usage: "only calibrate these camera indices",
				},
				&cli.Int64Flag{
					Name:  calibrateFlagSeed,
					Value: 1,
					Usage: "seed for the choice of calibration views",
				},
			}, sessionFlags...),
			Action: IntrinsicsAction,
		},
		{
			Name:      "depth-field",
			Usage:     "fit per-pixel depth correction fields from recorded frames of a flat wall",
			UsageText: "rigcal depth-field --session <session.json> [--cameras 0,1] [--output <out.json>]",
			Flags: append([]cli.Flag{
				&cli.IntSliceFlag{
					Name:  calibrateFlagCameras,
					Usage: "only fit these camera indices",
				},
			}, sessionFlags...),
			Action: DepthFieldAction,
		},
		{
			Name:      "register",
			Usage:     "estimate every camera's world pose from skeletons and refine it with point clouds",
			UsageText: "rigcal register --session <session.json> [--skip-clouds] [--export-pcd <world.pcd>] [--output <out.json>]",
			Flags: append([]cli.Flag{
				&cli.BoolFlag{
					Name:  registerFlagSkipClouds,
					Usage: "only run skeleton registration",
				},
				&cli.PathFlag{
					Name:  registerFlagExportPCD,
					Usage: "write the aligned clouds of every camera in world coordinates to `FILE`",
				},
			}, sessionFlags...),
			Action: RegisterAction,
		},
		{
			Name:      "reconcile",
			Usage:     "assign global identities to every camera's tracked users",
			UsageText: "rigcal reconcile --session <session.json> [--fuse]",
			Flags: append([]cli.Flag{
				&cli.BoolFlag{
					Name:  reconcileFlagFuse,
					Usage: "also fuse every identity's skeletons and summarize them",
				},
			}, sessionFlags...),
			Action: ReconcileAction,
		},
	},
}

// NewApp returns the rigcal application writing to the given streams.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
