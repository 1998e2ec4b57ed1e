// Package registry implements a minimal container registry client for
// digest checks against ghcr.io-style registries.
//
// Authentication follows the token dance: the device's PAT is exchanged for a
// repository-scoped bearer token, which is cached per image path. SetToken
// replaces the PAT and drops every cached bearer token, so a rotated PAT
// takes effect on the next request.
package registry
