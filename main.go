package main

import (
	"io"
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"

	"github.com/coresim/coresim/internal/console"
	"github.com/coresim/coresim/internal/facade"
	"github.com/coresim/coresim/internal/logger"
)

var Logger *slog.Logger

func main() {
	optConfig := getopt.StringLong("config", 'c', "config.txt", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Mirror log output to stderr")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var logFile io.Writer
	if *optLogFile != "" {
		f, err := os.Create(*optLogFile)
		if err != nil {
			slog.Error("could not create log file", "path", *optLogFile, "err", err)
			os.Exit(1)
		}
		logFile = f
	}

	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	handler := logger.New(logFile, os.Stderr, &slog.HandlerOptions{Level: programLevel})
	handler.SetDebug(*optDebug)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)

	Logger.Info("CoreSim started", "config", *optConfig)

	sys := facade.New()
	c := console.New(sys, *optConfig)
	c.Run()

	Logger.Info("CoreSim exiting")
}
