package version

import (
	"fmt"
	"runtime"
)

// Version contains the application version information.
// Set via ldflags in release builds:
// go build -ldflags "-X git.home.luguber.info/inful/focusguard/internal/version.Version=v0.3.0".
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version line printed by `focusguard version`.
func String() string {
	return fmt.Sprintf("focusguard %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, runtime.Version())
}
