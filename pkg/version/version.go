// Package version holds build information for chatmem, set at build time via ldflags.
package version

import "fmt"

// Example: go build -ldflags "-X chatmemory/pkg/version.Version=v0.3.0".
//
//nolint:gochecknoglobals // These must be package-level vars for ldflags injection.
var (
	// Version is the semantic version, or "dev" for development builds.
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)

// String renders the build information on one line.
func String() string {
	return fmt.Sprintf("chatmem %s (commit %s, built %s)", Version, Commit, Date)
}
