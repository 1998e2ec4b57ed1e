// Package backend implements the client for the fleet backend HTTP API.
//
// Every request authenticates with Basic auth using the device identity.
// The API is best-effort from the agent's point of view: update windows
// degrade to "allowed" when the backend is unreachable, and failed version
// reports are logged and retried on the next cycle rather than blocking
// updates.
package backend
