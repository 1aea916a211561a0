// Package daemon hosts the long-running process: single-instance locking,
// the workflow manager lifecycle, and the HTTP API the CLI talks to.
package daemon
