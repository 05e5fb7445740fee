package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shaderdump/internal/shaderdump"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool

	cacheCapacity      int64
	maxCachedGroupSize int64
	strictIDs          bool
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
	}
}

func cacheFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "cache-capacity",
			Usage:       "decompressed groups kept per dump (0 or negative disables the cache)",
			Value:       shaderdump.DefaultCacheCapacity,
			Destination: &cacheCapacity,
		},
		&cli.Int64Flag{
			Name:        "max-cached-group",
			Usage:       "largest decompressed group in bytes that may be cached (0 = no limit)",
			Destination: &maxCachedGroupSize,
		},
		&cli.BoolFlag{
			Name:        "strict-ids",
			Usage:       "panic on program ids missing from the dump",
			Destination: &strictIDs,
		},
	}
}
