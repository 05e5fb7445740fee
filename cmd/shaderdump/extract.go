package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shaderdump/internal/logger"
	"github.com/samcharles93/shaderdump/internal/shaderdump"
	"github.com/samcharles93/shaderdump/pkg/bindump"
)

func extractCmd() *cli.Command {
	var (
		dumpPath string
		codeType string
		ids      []int64
		outPath  string
	)

	return &cli.Command{
		Name:  "extract",
		Usage: "Extract program bytecode from a dump",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "dump",
				Aliases:     []string{"d"},
				Usage:       "path to dump file",
				Destination: &dumpPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "type",
				Aliases:     []string{"t"},
				Usage:       "program type: vertex|pixel",
				Value:       "vertex",
				Destination: &codeType,
			},
			&cli.Int64SliceFlag{
				Name:        "id",
				Usage:       "program id (repeatable; output is concatenated)",
				Destination: &ids,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o", "out"},
				Usage:       "output path (default: stdout)",
				Destination: &outPath,
			},
		}, cacheFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyCacheConfig(cmd, configFrom(ctx))

			typ, err := bindump.ParseCodeType(codeType)
			if err != nil {
				return err
			}

			o := shaderdump.New(ownerOptions(log))
			if err := o.Open(dumpPath); err != nil {
				return err
			}
			defer o.Clear()

			out, err := extractPrograms(o, typ, ids)
			if err != nil {
				return err
			}

			if outPath == "" {
				_, err := os.Stdout.Write(out)
				return err
			}
			if err := bindump.WriteFile(outPath, out); err != nil {
				return err
			}
			log.Info("extracted programs",
				"type", typ,
				"count", len(ids),
				"bytes", len(out),
				"output", outPath,
				"cache", o.CacheStats(),
			)
			return nil
		},
	}
}

// extractPrograms concatenates the little-endian words of each program.
func extractPrograms(o *shaderdump.Owner, typ bindump.CodeType, ids []int64) ([]byte, error) {
	var (
		tmp shaderdump.Bytecode
		out []byte
	)
	for _, id := range ids {
		if id < 0 || id > int64(^uint32(0)) {
			return nil, fmt.Errorf("program id %d out of range", id)
		}
		code, err := o.GetCode(uint32(id), typ, &tmp)
		if err != nil {
			return nil, fmt.Errorf("%s program %d: %w", typ, id, err)
		}
		for _, w := range code {
			out = binary.LittleEndian.AppendUint32(out, w)
		}
	}
	return out, nil
}
