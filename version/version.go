package version

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// Build-time variables set via -ldflags
var (
	Version   = "unknown"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info represents version information
type Info struct {
	Version   string    `json:"version" yaml:"version"`
	Commit    string    `json:"commit" yaml:"commit"`
	BuildDate time.Time `json:"build_date" yaml:"build_date"`
	Modified  bool      `json:"modified,omitempty" yaml:"modified,omitempty"`
	GoVersion string    `json:"go_version,omitempty" yaml:"go_version,omitempty"`
}

// GetInfo returns the current version information. Values not provided
// through ldflags are filled in from the binary's embedded build info.
func GetInfo() Info {
	info := Info{
		Version: Version,
		Commit:  Commit,
	}

	if BuildDate != "unknown" && BuildDate != "" {
		if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
			info.BuildDate = t.UTC()
		}
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fromBuildInfo(bi)
	}

	return info
}

func (i *Info) fromBuildInfo(bi *debug.BuildInfo) {
	i.GoVersion = bi.GoVersion

	if i.Version == "unknown" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "unknown" {
				i.Commit = s.Value
			}
		case "vcs.time":
			if i.BuildDate.IsZero() {
				if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
					i.BuildDate = t.UTC()
				}
			}
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
}

// ShortCommit returns the first 12 characters of the commit.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 12 {
		return i.Commit[:12]
	}
	return i.Commit
}

// String returns the version info as a formatted string
func (i Info) String() string {
	if i.Version == "unknown" && i.Commit == "unknown" {
		return "unknown"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Version: %s", i.Version)
	if i.Commit != "unknown" && i.Commit != "" {
		fmt.Fprintf(&sb, "\nCommit:  %s", i.ShortCommit())
		if i.Modified {
			sb.WriteString(" (modified)")
		}
	}
	if !i.BuildDate.IsZero() {
		fmt.Fprintf(&sb, "\nBuilt:   %s", i.BuildDate.Format("2006-01-02 15:04:05 UTC"))
	}
	if i.GoVersion != "" {
		fmt.Fprintf(&sb, "\nGo:      %s", i.GoVersion)
	}
	return sb.String()
}

// JSON returns the version info as JSON
func (i Info) JSON() (string, error) {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
