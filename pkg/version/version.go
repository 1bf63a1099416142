// Package version exposes the build metadata stamped into the mediamind
// binary.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time via -ldflags, e.g.
//
//	-X github.com/mediamind/mediamind/pkg/version.Version=v1.2.0
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// BuildInfo is the structured form, used for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns the complete build metadata.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// String formats the metadata as a single human-readable line.
func String() string {
	return fmt.Sprintf("mediamind %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, runtime.Version())
}

// Short returns just the version number.
func Short() string {
	return Version
}
