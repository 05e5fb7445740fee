package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shaderdump/internal/logger"
	"github.com/samcharles93/shaderdump/pkg/bindump"
)

func packCmd() *cli.Command {
	return &cli.Command{
		Name:  "pack",
		Usage: "Pack SPIR-V or WGSL programs described by a YAML manifest into a dump",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "manifest",
				Aliases:  []string{"in"},
				Usage:    "manifest .yaml path",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"out"},
				Usage:    "output dump path",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "format-version",
				Usage: "override the manifest format version (1, 2 or 3)",
			},
			&cli.StringFlag{
				Name:  "codec",
				Usage: "override the default group codec: none|lz4|zstd",
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "accept programs without a SPIR-V header",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			manifestPath := cmd.String("manifest")
			outPath := cmd.String("output")

			m, err := LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			if cmd.IsSet("format-version") {
				m.Version = uint16(cmd.Int("format-version"))
			}
			if cmd.IsSet("codec") {
				if m.Codec, err = bindump.ParseCodec(cmd.String("codec")); err != nil {
					return err
				}
			}

			img, err := m.Image(filepath.Dir(manifestPath), cmd.Bool("raw"))
			if err != nil {
				return err
			}
			data, err := bindump.Build(img)
			if err != nil {
				return fmt.Errorf("build %s: %w", manifestPath, err)
			}
			if err := bindump.WriteFile(outPath, data); err != nil {
				return err
			}

			log.Info("packed dump",
				"output", outPath,
				"version", img.Version,
				"vertex", len(img.Vertex),
				"pixel", len(img.Pixel),
				"classes", len(img.Classes),
				"bytes", len(data),
			)
			return nil
		},
	}
}
