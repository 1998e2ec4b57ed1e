// Package version holds the build metadata stamped into the binary and the
// User-Agent string the agent's HTTP clients identify themselves with.
package version
