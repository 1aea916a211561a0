// Package provider abstracts external generation backends. A Provider takes
// an opaque job payload and returns an asset URL or a classified error;
// workers hold an ordered chain of providers per job type and fall through
// the chain on failure. The bundled HTTP client speaks a minimal generic
// submit/poll protocol; vendor-specific adapters live outside this
// repository.
package provider
