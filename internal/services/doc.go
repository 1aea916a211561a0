// Package services holds cross-cutting helpers shared by orchestrator
// components: sentinel error markers with wrapping utilities for failure
// classification, and context carriers for correlation identifiers.
package services
