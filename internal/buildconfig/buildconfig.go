package buildconfig

import (
	"runtime"
	"runtime/debug"
)

// Build-time variables injected via ldflags:
//
//	-X github.com/Harshitk-cp/inquest/internal/buildconfig.version=v1.2.0
var (
	version = "dev"
	commit  = ""
)

func Version() string {
	return version
}

// Commit returns the ldflags commit, falling back to the VCS revision the Go
// toolchain stamps into the binary.
func Commit() string {
	if commit != "" {
		return commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "unknown"
}

// VersionInfo returns full version information
func VersionInfo() map[string]string {
	return map[string]string{
		"service":    "inquest",
		"version":    Version(),
		"commit":     Commit(),
		"go_version": runtime.Version(),
	}
}
