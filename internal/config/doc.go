// Package config reads agent settings from environment variables, with an
// optional .env file for development, and validates them.
//
// The Config type covers backend access, image references, file locations and
// the three loop cadences. Debug mode shortens the update and reconciliation
// cadences and defaults the log level to debug.
package config
