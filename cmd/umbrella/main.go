package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/McEntropy/Umbrella/server"
	"github.com/itzg/go-flagsfiller"
	"github.com/sirupsen/logrus"
)

type CliConfig struct {
	Version bool `usage:"Output version and exit"`

	ServerConfig server.Config `flatten:"true"`
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func showVersion() {
	fmt.Printf("%v, commit %v, built at %v", version, commit, date)
}

func main() {
	var cliConfig CliConfig
	err := flagsfiller.Parse(&cliConfig, flagsfiller.WithEnv("Umbrella"))
	if err != nil {
		logrus.WithError(err).Fatal("Unable to parse flags")
	}

	if cliConfig.Version {
		showVersion()
		os.Exit(0)
	}

	config := &cliConfig.ServerConfig
	if config.CpuProfile != "" {
		cpuProfileFile, err := os.Create(config.CpuProfile)
		if err != nil {
			logrus.WithError(err).Fatal("trying to create cpu profile file")
		}
		//goland:noinspection GoUnhandledErrorResult
		defer cpuProfileFile.Close()

		logrus.WithField("file", config.CpuProfile).Info("Starting cpu profiling")
		err = pprof.StartCPUProfile(cpuProfileFile)
		if err != nil {
			logrus.WithError(err).Fatal("trying to start cpu profile")
		}
		defer pprof.StopCPUProfile()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := server.NewServer(ctx, config)
	if err != nil {
		logrus.WithError(err).Fatal("Could not set up server")
	}

	if err := s.Run(); err != nil {
		logrus.WithError(err).Error("Server failed")
	}
}
