// Package version carries build metadata stamped in with -ldflags, e.g.
//
//	go build -ldflags "\
//	  -X github.com/dkrauss/wirefeed/internal/version.Version=$(git describe --tags) \
//	  -X github.com/dkrauss/wirefeed/internal/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/dkrauss/wirefeed/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import "fmt"

var (
	// Version is the release tag; "dev" for local builds.
	Version = "dev"

	// Commit is the short git revision.
	Commit = "unknown"

	// BuildTime is when the binary was produced, RFC 3339 UTC.
	BuildTime = "unknown"
)

// String renders the build metadata as a single log-friendly line.
func String() string {
	return fmt.Sprintf("wirefeed %s (%s, built %s)", Version, Commit, BuildTime)
}
