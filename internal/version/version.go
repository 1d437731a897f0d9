// Package version exposes the build identity stamped into the binary.
// Release builds overwrite the defaults with -ldflags -X, e.g.
//
//	go build -ldflags "-X github.com/jstrand/league-live/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String renders the identity for startup logs and the health endpoint.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
