// Package version exposes build version information, injected at build
// time via -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version, set via -ldflags.
	Version = "dev"
	// Commit is the git commit hash, set via -ldflags.
	Commit = "unknown"
	// Date is the build date, set via -ldflags.
	Date = "unknown"
)

// Short returns just the version string.
func Short() string {
	return Version
}

// Info returns a human-readable version line.
func Info() string {
	return fmt.Sprintf("sidekick %s (commit %s, built %s)", Version, Commit, Date)
}
