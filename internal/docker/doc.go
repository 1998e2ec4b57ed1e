// Package docker drives the container runtime on the device.
//
// Most operations shell out to the docker CLI with per-operation timeouts.
// Operations that would kill the agent's own container mid-flight go through
// the Docker Engine API on the unix socket instead: a short-lived helper
// container is created there and runs docker compose on the agent's behalf,
// so the work survives the agent being recreated.
package docker
