// Package version identifies the kivups build.
package version

// VERSION and Commit are set at build time via:
//
//	go build -ldflags "-X github.com/kivups/kivups-client/internal/version.VERSION=0.1.0 -X github.com/kivups/kivups-client/internal/version.Commit=abc123" ./cmd/kivups
var (
	VERSION = "dev"
	Commit  = "dev"
)

// String is the version line printed by kivups --version.
func String() string {
	return "kivups " + VERSION + " (" + Commit + ")"
}
