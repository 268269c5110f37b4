package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors of the adapter layer. Adapters wrap these with cluster and
// job context via fmt.Errorf("...: %w", ...); handlers match with errors.Is.
var (
	// ErrNotFound marks an absent cluster or job.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks a connection or authentication failure.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrNotImplemented marks an operation a backend variant does not
	// support. Use NotImplementedf so the message names the alternative.
	ErrNotImplemented = errors.New("not implemented")
)

// NotImplementedf builds an ErrNotImplemented for the given operation and
// backend, pointing the caller at the mock backend.
func NotImplementedf(op, backendType string) error {
	return fmt.Errorf("%w: %s is not implemented for the %s backend, use the mock backend (useMockBackends: true) for testing", ErrNotImplemented, op, backendType)
}
