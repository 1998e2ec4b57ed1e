// Package agent implements the kiosk-agent service: a reconciliation loop
// that keeps the device workload and the agent itself on the latest published
// images, keeps the compose stack running, and reports applied versions to
// the fleet backend.
package agent
