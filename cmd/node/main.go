// Command node is the urfave/cli entrypoint for a dBFT consensus
// participant. It only wires up the commands this repo actually
// implements: preparing a consensus participant from a config file
// (without starting it) and inspecting validator key material.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/vireonet/vireo/pkg/config"
)

const version = "0.1.0"

func main() {
	ctl := newApp()

	if err := ctl.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	ctl := cli.NewApp()
	ctl.Name = "vireo-node"
	ctl.Version = version
	ctl.Usage = "dual-primary/pre-commit dBFT consensus participant"
	ctl.ErrWriter = os.Stderr

	ctl.Commands = append(ctl.Commands, newServerCommands()...)
	ctl.Commands = append(ctl.Commands, newInspectCommands()...)

	return ctl
}

var configFlag = cli.StringFlag{
	Name:  "config, c",
	Usage: "path to the node's yaml configuration",
	Value: "./config.yml",
}

func loadConfig(ctx *cli.Context) (config.ApplicationConfiguration, error) {
	path := ctx.GlobalString("config")
	if path == "" {
		path = ctx.String("config")
	}

	return readConfigFile(path)
}
