// Package logging centralizes slog construction and the structured field
// vocabulary used across the daemon. Components receive a *slog.Logger from
// the caller; helpers here add standardized attribute keys and propagate
// correlation fields through contexts so job, scene, and request identifiers
// appear on every record without each call site restating them.
package logging
