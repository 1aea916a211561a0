// Package api defines the wire types served by the daemon's HTTP API and a
// client used by the CLI to talk to it.
package api
