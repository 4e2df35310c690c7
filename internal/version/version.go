package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables injected via ldflags
var (
	// Version is the semantic version, injected at build time
	Version = "dev"

	// GitCommit is the git commit hash, injected at build time
	GitCommit = "unknown"

	// BuildDate is the build date, injected at build time
	BuildDate = "unknown"

	// GoVersion is the Go version used to build
	GoVersion = runtime.Version()
)

// Info returns the short version string.
func Info() string {
	return Version
}

// Full returns the version string with the commit hash appended when known.
func Full() string {
	info := Info()
	if GitCommit != "" && GitCommit != "unknown" && !strings.Contains(info, shortCommit()) {
		info += fmt.Sprintf(" (%s)", shortCommit())
	}
	return info
}

func shortCommit() string {
	if len(GitCommit) > 7 {
		return GitCommit[:7]
	}
	return GitCommit
}
