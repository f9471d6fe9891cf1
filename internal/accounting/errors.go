package accounting

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigMissing means the provider base URL or realm is not set up.
	// Operator action required; retrying will not help.
	ErrConfigMissing = errors.New("accounting: configuration missing")
	// ErrNotConnected means no usable credential exists for the provider.
	ErrNotConnected = errors.New("accounting: provider not connected")
	// ErrNotFound means the provider has no entity with the given id.
	ErrNotFound = errors.New("accounting: entity not found")
)

// UpstreamError is a non-2xx provider response that is neither an auth nor a
// not-found condition. Typically transient; callers may retry.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("accounting: upstream status %d: %s", e.StatusCode, e.Body)
}
