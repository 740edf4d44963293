package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/mocap/config"
	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/session"
	"go.viam.com/mocap/utils"
)

// printf prints a message with a newline.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "Warning: "+format+"\n", a...)
}

// runContext is what every command needs: a logger, the rig config and the session.
type runContext struct {
	// ctx has debug mode enabled when --debug is set.
	ctx     context.Context
	logger  logging.Logger
	cfg     *config.RigConfig
	session *session.Session
	logFile *logging.FileAppender

	// exportPCD is where register writes the aligned world cloud, if anywhere.
	exportPCD string
}

func newRunContext(c *cli.Context, name string) (*runContext, error) {
	rc := &runContext{ctx: c.Context, cfg: config.Default()}
	if c.Bool(generalFlagDebug) {
		rc.ctx = logging.EnableDebugMode(c.Context, "")
		rc.logger = logging.NewDebugLogger("rigcal." + name)
	} else {
		rc.logger = logging.NewLogger("rigcal." + name)
	}
	if path := c.Path(generalFlagLogFile); path != "" {
		rc.logFile = logging.NewFileAppender(path, 64, 3)
		rc.logger.AddAppender(rc.logFile)
	}
	if path := c.Path(generalFlagConfig); path != "" {
		cfg, err := config.Read(path, rc.logger)
		if err != nil {
			rc.close()
			return nil, err
		}
		rc.cfg = cfg
	}
	rc.cfg.ApplyLogPatterns(rc.logger)
	s, err := session.Load(c.Path(sessionFlagInput))
	if err != nil {
		rc.close()
		return nil, err
	}
	rc.session = s
	rc.logger.Infow("loaded session", "id", s.ID, "cameras", len(s.Cameras))
	return rc, nil
}

func (rc *runContext) close() {
	if rc.logFile == nil {
		return
	}
	if err := rc.logFile.Close(); err != nil {
		rc.logger.Warnw("closing log file", "error", err)
	}
}

// sublogger returns a named child logger with the config's log patterns applied.
func (rc *runContext) sublogger(name string) logging.Logger {
	logger := rc.logger.Sublogger(name)
	rc.cfg.ApplyLogPatterns(logger)
	return logger
}

// save writes the session when an output path was given.
func (rc *runContext) save(c *cli.Context) error {
	out := c.Path(sessionFlagOutput)
	if out == "" {
		return nil
	}
	if err := session.Save(out, rc.session); err != nil {
		return err
	}
	printf(c.App.Writer, "wrote session %s to %s", rc.session.ID, out)
	return nil
}

// selectedCameras returns the cameras named by the flag, or every camera.
func (rc *runContext) selectedCameras(c *cli.Context) ([]int, error) {
	requested := c.IntSlice(calibrateFlagCameras)
	if len(requested) == 0 {
		return lo.Range(len(rc.session.Cameras)), nil
	}
	for _, i := range requested {
		if i < 0 || i >= len(rc.session.Cameras) {
			return nil, utils.NewIndexOutOfRangeError("camera", i, len(rc.session.Cameras))
		}
	}
	return lo.Uniq(requested), nil
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func fmtVector(x, y, z float64) string {
	return "(" + fmtFloat(x) + ", " + fmtFloat(y) + ", " + fmtFloat(z) + ")"
}
