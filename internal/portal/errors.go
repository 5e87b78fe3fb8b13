package portal

import (
	"errors"
	"fmt"
)

// ErrEmptyResult is returned by SearchProperty when no invoice rows match
// the property after the wait budget is exhausted. It is property-scoped,
// never batch-fatal.
var ErrEmptyResult = errors.New("portal: property search returned no rows")

// AuthenticationError means the shared portal login failed. It is fatal to
// the whole batch and is never retried.
type AuthenticationError struct {
	Cause error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("portal authentication failed: %v", e.Cause)
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

// IsAuthenticationError reports whether err is (or wraps) an
// AuthenticationError.
func IsAuthenticationError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// UIError means a portal operation failed after every fallback strategy was
// exhausted. It carries the operation name and the last underlying cause so
// callers can surface it verbatim.
type UIError struct {
	Op       string
	Attempts int
	Cause    error
}

func (e *UIError) Error() string {
	return fmt.Sprintf("portal %s failed after %d strategies: %v", e.Op, e.Attempts, e.Cause)
}

func (e *UIError) Unwrap() error { return e.Cause }

// DownloadError means an invoice file could not be retrieved or was not a
// readable document. It is non-fatal; the property result still completes
// with a reduced downloaded_files_count.
type DownloadError struct {
	InvoiceNumber string
	Cause         error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download of invoice %s failed: %v", e.InvoiceNumber, e.Cause)
}

func (e *DownloadError) Unwrap() error { return e.Cause }
