// Package compose reads the device compose file to discover which services
// the agent supervises and which containers they run as.
//
// The agent's own service is excluded from the managed set: the agent never
// restarts itself through the liveness loop, only through a staged self-update.
package compose
