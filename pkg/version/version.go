// Package version provides build and version information for repoindex.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the current version of repoindex.
// Set via ldflags at build time:
// -X github.com/Aman-CERP/repoindex/pkg/version.Version=$(VERSION)
var Version = "dev"

// Build information set via ldflags at build time. When unset, Commit and
// Date fall back to the VCS stamp embedded by the Go toolchain.
var (
	Commit = "unknown"
	Date   = "unknown"

	// GoVersion is the Go version used to build the binary.
	GoVersion = runtime.Version()
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns a formatted version string with all build info.
func String() string {
	info := GetInfo()
	return fmt.Sprintf("repoindex %s (commit: %s, built: %s, go: %s)",
		info.Version, info.Commit, info.Date, info.GoVersion)
}

// Short returns just the version string.
func Short() string {
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	commit, date := Commit, Date
	if commit == "unknown" || date == "unknown" {
		c, d := vcsStamp()
		if commit == "unknown" && c != "" {
			commit = c
		}
		if date == "unknown" && d != "" {
			date = d
		}
	}
	return BuildInfo{
		Version:   Version,
		Commit:    commit,
		Date:      date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// vcsStamp reads vcs.revision and vcs.time from the embedded build info.
func vcsStamp() (commit, date string) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
			if len(commit) > 12 {
				commit = commit[:12]
			}
		case "vcs.time":
			date = s.Value
		}
	}
	return commit, date
}
