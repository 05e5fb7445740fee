package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shaderdump/internal/shaderdump"
	"github.com/samcharles93/shaderdump/pkg/bindump"
)

type inspectReport struct {
	Path     string          `json:"path"`
	Version  uint16          `json:"version"`
	Minor    uint16          `json:"minor"`
	Size     int             `json:"size"`
	Flags    uint64          `json:"flags"`
	Sections []sectionReport `json:"sections"`

	Vars      []bindump.Var         `json:"vars"`
	Intervals []intervalReport      `json:"intervals"`
	Classes   []classReport         `json:"classes,omitempty"`
	Blocks    []bindump.ShaderBlock `json:"blocks"`

	VertexPrograms int           `json:"vertex_programs"`
	PixelPrograms  int           `json:"pixel_programs"`
	Groups         []groupReport `json:"groups,omitempty"`
	DictionaryID   uint32        `json:"dictionary_id,omitempty"`
	DictionarySize int           `json:"dictionary_size,omitempty"`
}

type sectionReport struct {
	Type    string `json:"type"`
	Version uint32 `json:"version"`
	Offset  uint64 `json:"offset"`
	Size    uint64 `json:"size"`
}

type intervalReport struct {
	bindump.Interval
	// Norm is the bucket of the bound var's default value.
	Norm uint8 `json:"norm"`
}

type classReport struct {
	Name  string               `json:"name"`
	Flags uint32               `json:"flags"`
	Codes []bindump.ShaderCode `json:"codes"`
}

type groupReport struct {
	ID         uint16 `json:"id"`
	Codec      string `json:"codec"`
	Entries    uint16 `json:"entries"`
	StoredSize uint32 `json:"stored_size"`
	RawSize    uint32 `json:"raw_size"`
	Digest     string `json:"digest,omitempty"`
}

func inspectCmd() *cli.Command {
	var (
		dumpPath    string
		asJSON      bool
		showClasses bool
		showGroups  bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of a shader dump",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dump",
				Aliases:     []string{"d"},
				Usage:       "path to dump file",
				Destination: &dumpPath,
				Required:    true,
			},
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "classes", Usage: "list shader classes and their codes", Destination: &showClasses},
			&cli.BoolFlag{Name: "groups", Usage: "list bytecode groups", Destination: &showGroups},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			o := shaderdump.New(shaderdump.Options{CacheCapacity: -1})
			if err := o.Open(dumpPath); err != nil {
				return err
			}
			defer o.Clear()

			rep, err := buildReport(dumpPath, o, showClasses || asJSON, showGroups || asJSON)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printReport(os.Stdout, rep)
			return nil
		},
	}
}

func buildReport(path string, o *shaderdump.Owner, classes, groups bool) (*inspectReport, error) {
	d := o.Dump()
	hdr := d.Header()
	rep := &inspectReport{
		Path:           path,
		Version:        hdr.Version,
		Minor:          hdr.Minor,
		Size:           o.DumpSize(),
		Flags:          hdr.Flags,
		VertexPrograms: d.NumPrograms(bindump.CodeVertex),
		PixelPrograms:  d.NumPrograms(bindump.CodePixel),
	}
	for _, s := range d.Sections() {
		rep.Sections = append(rep.Sections, sectionReport{
			Type: s.Type.String(), Version: s.Version, Offset: s.Offset, Size: s.Size,
		})
	}
	for i := range d.NumVars() {
		v, err := d.Var(i)
		if err != nil {
			return nil, err
		}
		rep.Vars = append(rep.Vars, v)
	}
	norm := o.GlobIntervalNormValues()
	for i := range d.NumIntervals() {
		iv, err := d.Interval(i)
		if err != nil {
			return nil, err
		}
		rep.Intervals = append(rep.Intervals, intervalReport{Interval: iv, Norm: norm[i]})
	}
	for i := range d.NumBlocks() {
		b, err := d.Block(i)
		if err != nil {
			return nil, err
		}
		rep.Blocks = append(rep.Blocks, b)
	}

	if classes {
		for i := range d.NumClasses() {
			cls, err := d.Class(i)
			if err != nil {
				return nil, err
			}
			codes, err := d.ClassCodes(i)
			if err != nil {
				return nil, err
			}
			rep.Classes = append(rep.Classes, classReport{Name: cls.Name, Flags: cls.Flags, Codes: codes})
		}
	}

	if v3 := o.V3(); v3 != nil {
		id, dict := v3.Dictionary()
		rep.DictionaryID = id
		rep.DictionarySize = len(dict)
	}
	if src := groupSource(o); groups && src != nil {
		for gid := range src.NumGroups() {
			e, err := src.Group(uint16(gid))
			if err != nil {
				return nil, err
			}
			g := groupReport{
				ID:         uint16(gid),
				Codec:      e.Codec.String(),
				Entries:    e.EntryCount,
				StoredSize: e.StoredSize,
				RawSize:    e.RawSize,
			}
			if o.V3() != nil {
				g.Digest = fmt.Sprintf("%016x", e.Digest)
			}
			rep.Groups = append(rep.Groups, g)
		}
	}
	return rep, nil
}

func groupSource(o *shaderdump.Owner) bindump.GroupSource {
	switch {
	case o.V2() != nil:
		return o.V2()
	case o.V3() != nil:
		return o.V3()
	default:
		return nil
	}
}

func printReport(w io.Writer, rep *inspectReport) {
	_, _ = fmt.Fprintf(w, "dump:      %s\n", rep.Path)
	_, _ = fmt.Fprintf(w, "version:   %d.%d\n", rep.Version, rep.Minor)
	_, _ = fmt.Fprintf(w, "size:      %d bytes\n", rep.Size)
	_, _ = fmt.Fprintf(w, "programs:  %d vertex, %d pixel\n", rep.VertexPrograms, rep.PixelPrograms)
	if rep.DictionarySize > 0 {
		_, _ = fmt.Fprintf(w, "dictionary: id %d, %d bytes\n", rep.DictionaryID, rep.DictionarySize)
	}

	_, _ = fmt.Fprintln(w, "\nsections:")
	for _, s := range rep.Sections {
		_, _ = fmt.Fprintf(w, "  %-16s v%d  off=%-8d size=%d\n", s.Type, s.Version, s.Offset, s.Size)
	}

	_, _ = fmt.Fprintln(w, "\nintervals:")
	for _, iv := range rep.Intervals {
		varName := "-"
		if iv.Var != bindump.None && int(iv.Var) < len(rep.Vars) {
			varName = rep.Vars[iv.Var].Name
		}
		_, _ = fmt.Fprintf(w, "  %-24s var=%-20s bounds=%v norm=%d\n", iv.Name, varName, iv.Bounds, iv.Norm)
	}

	if len(rep.Classes) > 0 {
		_, _ = fmt.Fprintln(w, "\nclasses:")
		for _, c := range rep.Classes {
			_, _ = fmt.Fprintf(w, "  %-24s codes=%d flags=%#x\n", c.Name, len(c.Codes), c.Flags)
		}
	}
	if len(rep.Groups) > 0 {
		_, _ = fmt.Fprintln(w, "\ngroups:")
		for _, g := range rep.Groups {
			_, _ = fmt.Fprintf(w, "  %5d %-5s entries=%-4d stored=%-8d raw=%d %s\n",
				g.ID, g.Codec, g.Entries, g.StoredSize, g.RawSize, g.Digest)
		}
	}
}
