package version

import (
	"runtime"
	"runtime/debug"
	"time"

	"github.com/samcharles93/shaderdump/pkg/bindump"
)

var (
	// Version is the release version (set via -ldflags).
	Version = ""
	// Commit is the git commit hash (set via -ldflags).
	Commit = ""
	// BuildTime is the build timestamp (set via -ldflags).
	BuildTime = ""
)

// Info describes the running binary. FormatVersions lists the dump layouts
// it can read.
type Info struct {
	Version        string   `json:"version"`
	Commit         string   `json:"commit,omitempty"`
	BuildTime      string   `json:"build_time,omitempty"`
	GoVersion      string   `json:"go_version"`
	FormatVersions []uint16 `json:"format_versions"`
}

// Resolve fills Info from linker flags, falling back to the VCS stamp Go
// embeds in the build info.
func Resolve() Info {
	return resolve(debug.ReadBuildInfo)
}

func resolve(readBuildInfo func() (*debug.BuildInfo, bool)) Info {
	resolved := Info{
		Version:        Version,
		Commit:         Commit,
		BuildTime:      BuildTime,
		GoVersion:      runtime.Version(),
		FormatVersions: []uint16{bindump.Version1, bindump.Version2, bindump.Version3},
	}

	if bi, ok := readBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if resolved.Commit == "" {
					resolved.Commit = s.Value
				}
			case "vcs.time":
				if resolved.BuildTime == "" {
					resolved.BuildTime = s.Value
				}
			}
		}
		if resolved.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			resolved.Version = bi.Main.Version
		}
	}

	if resolved.Version == "" {
		if resolved.BuildTime != "" {
			resolved.Version = resolved.BuildTime
		} else {
			resolved.Version = time.Now().UTC().Format("20060102T150405Z")
		}
	}

	return resolved
}

func String() string {
	info := Resolve()
	if info.Commit == "" {
		return info.Version
	}
	return info.Version + " (" + shortCommit(info.Commit) + ")"
}

func shortCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}
