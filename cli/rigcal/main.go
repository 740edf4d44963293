// Package main is the rigcal command itself.
package main

import (
	"os"

	"go.viam.com/mocap/cli"
	"go.viam.com/mocap/logging"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logging.NewLogger("rigcal").Error(err)
		os.Exit(1)
	}
}
