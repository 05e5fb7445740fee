package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shaderdump/internal/api"
	"github.com/samcharles93/shaderdump/internal/logger"
	"github.com/samcharles93/shaderdump/internal/shaderdump"
)

var errDebugAPIDisabled = errors.New("serve exposes dump internals; enable it with --debug-api or debug_api: true")

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		dumps       []string
		debugAPI    bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve a read-only debug API over loaded dumps",
		Flags: append(cacheFlags(),
			&cli.StringSliceFlag{
				Name:        "dump",
				Aliases:     []string{"d"},
				Usage:       "slot=path of a dump to load (repeatable; a bare path loads the main slot)",
				Destination: &dumps,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.BoolFlag{
				Name:        "debug-api",
				Usage:       "allow the debug API to start",
				Destination: &debugAPI,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFrom(ctx)
			applyServeConfig(cmd, cfg, &addr, &debugAPI)
			if !debugAPI {
				return errDebugAPIDisabled
			}

			slots, err := slotPaths(cfg.Slots, dumps)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				return errors.New("no dumps to serve: pass --dump or set slots in the config file")
			}

			reg := shaderdump.NewRegistry(ownerOptions(log))
			defer reg.Close()
			for _, slot := range slices.Sorted(maps.Keys(slots)) {
				if err := reg.Open(slot, slots[slot]); err != nil {
					return fmt.Errorf("slot %s: %w", slot, err)
				}
			}

			server := api.NewServer(reg, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "slots", len(slots))
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

// slotPaths merges config slots with --dump values; flags win.
func slotPaths(fromConfig map[string]string, flags []string) (map[shaderdump.Slot]string, error) {
	out := make(map[shaderdump.Slot]string, len(fromConfig)+len(flags))
	for name, path := range fromConfig {
		if name == "" || path == "" {
			return nil, fmt.Errorf("config slot %q: empty name or path", name)
		}
		out[shaderdump.Slot(name)] = path
	}
	for _, v := range flags {
		name, path, ok := strings.Cut(v, "=")
		if !ok {
			name, path = string(shaderdump.SlotMain), v
		}
		if name == "" || path == "" {
			return nil, fmt.Errorf("invalid --dump %q: want slot=path", v)
		}
		out[shaderdump.Slot(name)] = path
	}
	return out, nil
}
