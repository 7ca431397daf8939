package main

import "github.com/urfave/cli/v3"

var (
	logLevel   string
	logFormat  string
	debug      bool
	configFile string

	deviceName    string
	solverName    string
	memoryMargin  float64
	memoryReserve string
	memoryBudget  string
	maxChunkSize  int
	workers       int
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config file (default ~/.config/lmfit/config.yaml)",
			Sources:     cli.EnvVars(envConfig),
			Destination: &configFile,
		},
	}
}

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "device",
			Usage:       "execution device (auto, host, cuda)",
			Value:       "auto",
			Destination: &deviceName,
		},
		&cli.StringFlag{
			Name:        "solver",
			Usage:       "linear solver (factor, gaussjordan)",
			Value:       "factor",
			Destination: &solverName,
		},
		&cli.Float64Flag{
			Name:        "memory-margin",
			Usage:       "fraction of free device memory left unused",
			Value:       0.1,
			Destination: &memoryMargin,
		},
		&cli.StringFlag{
			Name:        "memory-reserve",
			Usage:       "device memory kept free after the margin (eg 64MiB)",
			Destination: &memoryReserve,
		},
		&cli.StringFlag{
			Name:        "memory-budget",
			Usage:       "host device memory budget (eg 2GiB, default free system memory)",
			Destination: &memoryBudget,
		},
		&cli.IntFlag{
			Name:        "max-chunk-size",
			Usage:       "upper bound on fits per chunk (0 = memory bound only)",
			Destination: &maxChunkSize,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "host device workers (0 = GOMAXPROCS)",
			Destination: &workers,
		},
	}
}
