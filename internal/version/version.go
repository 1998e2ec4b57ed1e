package version

import "fmt"

// Build metadata, overridden through ldflags by the release pipeline.
// The defaults identify a local development build.
var (
	// Version is the semantic version of the build.
	Version = "0.1.0"
	// Commit is the short git SHA of the build.
	Commit = "none"
	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// Short returns the bare semantic version.
func Short() string {
	return Version
}

// Full renders the version with commit and build time for the version subcommand.
func Full() string {
	return fmt.Sprintf("kiosk-agent %s (commit %s, built %s)", Version, Commit, BuildTime)
}

// UserAgent is the User-Agent value the agent's HTTP clients send, so backend
// and registry logs can tell agent versions apart.
func UserAgent() string {
	return fmt.Sprintf("kiosk-agent/%s", Version)
}
