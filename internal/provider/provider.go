package provider

import (
	"context"
	"errors"
	"fmt"
)

// Asset is the product of a successful provider invocation.
type Asset struct {
	URL             string  `json:"assetUrl"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	MimeType        string  `json:"mimeType,omitempty"`
}

// Provider is one concrete external generator. Invoke blocks until the
// backend produces an asset or fails; the context carries the per-provider
// timeout, after which the call counts as a transient failure.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, payload []byte) (*Asset, error)
}

// Error is a classified provider failure. Transient errors (network, 5xx)
// and permanent errors (validation, 4xx) both let the fallback chain
// continue, since a different provider may accept the same payload. The
// classification is recorded on the job's attempt trail.
type Error struct {
	Provider  string
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("provider %s: %s failure: %v", e.Provider, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retriable provider failure.
func Transient(name string, err error) error {
	return &Error{Provider: name, Err: err}
}

// Permanent wraps err as a non-retriable provider failure.
func Permanent(name string, err error) error {
	return &Error{Provider: name, Permanent: true, Err: err}
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Permanent
	}
	return false
}
