package objstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by object stores.
var (
	// ErrNotFound indicates the object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrRefNotFound indicates the ref does not exist (usually a wrong target branch).
	ErrRefNotFound = errors.New("ref not found")

	// ErrConflict indicates a compare-and-swap on a ref failed because another
	// writer moved it.
	ErrConflict = errors.New("ref was changed concurrently")

	// ErrPathConflict indicates a path cannot be written into the tree.
	ErrPathConflict = errors.New("path conflict")

	// ErrForbidden indicates the credential lacks permission on the target.
	ErrForbidden = errors.New("access to object store forbidden")

	// ErrRateLimited indicates the store's rate limit was exceeded.
	ErrRateLimited = errors.New("object store rate limit exceeded")

	// ErrNetwork indicates a transport failure.
	ErrNetwork = errors.New("network error communicating with object store")

	// ErrInvalidResponse indicates an unexpected response body.
	ErrInvalidResponse = errors.New("invalid response from object store")
)

// PathConflictError reports a path that cannot be written, either because it
// collides with a file/directory of the other kind or because it is malformed.
type PathConflictError struct {
	Path   string
	Reason string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("path conflict at %q: %s", e.Path, e.Reason)
}

// Is makes errors.Is(err, ErrPathConflict) match.
func (e *PathConflictError) Is(target error) bool {
	return target == ErrPathConflict
}

// APIError is a non-success response not covered by a sentinel.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("object store error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("object store error (status %d): %s", e.StatusCode, e.Message)
}

// IsConflict returns true if the error is a failed ref compare-and-swap.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsTransient reports whether retrying the same request may succeed.
// Credential, not-found, conflict and caller-cancellation errors are never transient.
// A per-call deadline that expired while the parent context is still alive
// is reported as context.DeadlineExceeded and counts as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusRequestTimeout
	}
	return false
}
