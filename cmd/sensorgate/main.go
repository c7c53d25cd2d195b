package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/sensorgate/cmd/sensorgate/console"
	"github.com/temoto/sensorgate/cmd/sensorgate/ports"
	"github.com/temoto/sensorgate/cmd/sensorgate/probe"
	"github.com/temoto/sensorgate/cmd/sensorgate/run"
	"github.com/temoto/sensorgate/cmd/sensorgate/subcmd"
	"github.com/temoto/sensorgate/internal/config"
	"github.com/temoto/sensorgate/internal/state"
	"github.com/temoto/sensorgate/internal/supervisor"
	"github.com/temoto/sensorgate/log2"
)

var log = log2.NewStderr(log2.LInfo)

var BuildVersion string = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	run.Mod,
	ports.Mod,
	probe.Mod,
	console.Mod,
}

const (
	exitError    = 1
	exitNoDevice = 2
)

func main() {
	flagConfig := flag.String("config", "sensorgate.hcl", "config file, HCL or YAML")
	flagDebug := flag.Bool("debug", false, "debug logging, overrides log.debug")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [command]\n\ncommands:\n%s\nflags:\n", os.Args[0], subcmd.Help(modules))
		flag.PrintDefaults()
	}
	flag.Parse()

	if subcmd.SdNotify(log, "start") || !isatty.IsTerminal(os.Stderr.Fd()) {
		// we're under systemd, assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	command := flag.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	cfg := config.MustRead(log, config.NewOsFullReader(), *flagConfig)
	if *flagDebug {
		cfg.Log.Debug = true
	}
	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion
	log.Debugf("command=%s config=%s", mod.Name, *flagConfig)

	if err := mod.Main(ctx, cfg); err != nil && errors.Cause(err) != context.Canceled {
		log.Error(errors.ErrorStack(err))
		if supervisor.IsNoDeviceFound(err) {
			os.Exit(exitNoDevice)
		}
		os.Exit(exitError)
	}
}
