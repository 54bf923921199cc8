package push

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/matsen/atomicpush/internal/credential"
	"github.com/matsen/atomicpush/internal/objstore"
)

// Kind classifies why a push failed.
type Kind string

// Failure kinds.
const (
	KindInvalid            Kind = "invalid_request"
	KindNotConnected       Kind = "not_connected"
	KindExpired            Kind = "expired"
	KindRefNotFound        Kind = "ref_not_found"
	KindPathConflict       Kind = "path_conflict"
	KindPartialBlobFailure Kind = "partial_blob_failure"
	KindConflict           Kind = "conflict"
	KindNetwork            Kind = "network"
	KindCanceled           Kind = "canceled"
)

var (
	// ErrInvalidRequest indicates a malformed push request.
	ErrInvalidRequest = errors.New("invalid push request")

	// ErrIndeterminate indicates the ref update may or may not have been
	// applied and the ref could not be re-read to find out.
	ErrIndeterminate = errors.New("ref update outcome unknown")
)

// BlobFailureError reports the paths whose blobs could not be written after
// all retry rounds.
type BlobFailureError struct {
	Failed []string
	Causes map[string]error
}

func (e *BlobFailureError) Error() string {
	return fmt.Sprintf("failed to write %d blob(s) after retries: %s", len(e.Failed), strings.Join(e.Failed, ", "))
}

// Error is returned by Push on any failure. Nothing is ever partially
// committed, so NotCommitted lists every requested path. The exception is an
// Indeterminate failure, where the ref could not be re-read after an update
// of unknown outcome: NotCommitted is then empty and the caller must check
// the ref.
type Error struct {
	State         State    `json:"state"`
	Kind          Kind     `json:"kind"`
	Paths         []string `json:"paths,omitempty"`
	NotCommitted  []string `json:"not_committed"`
	Indeterminate bool     `json:"indeterminate,omitempty"`
	Err           error    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("push failed while %s (%s): %v", e.State, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify maps an underlying error to a Kind.
func classify(err error) Kind {
	var blobErr *BlobFailureError
	switch {
	case errors.Is(err, credential.ErrNotConnected), errors.Is(err, objstore.ErrForbidden):
		return KindNotConnected
	case errors.Is(err, credential.ErrExpired):
		return KindExpired
	case errors.Is(err, objstore.ErrRefNotFound):
		return KindRefNotFound
	case errors.Is(err, objstore.ErrPathConflict):
		return KindPathConflict
	case errors.As(err, &blobErr):
		return KindPartialBlobFailure
	case errors.Is(err, objstore.ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalid
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindNetwork
}

// offendingPaths extracts the paths an error is about, if any.
func offendingPaths(err error) []string {
	var pc *objstore.PathConflictError
	if errors.As(err, &pc) {
		return []string{pc.Path}
	}
	var blobErr *BlobFailureError
	if errors.As(err, &blobErr) {
		return blobErr.Failed
	}
	return nil
}

// KindOf returns the failure kind of an error returned by Push.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pushErr *Error
	if errors.As(err, &pushErr) {
		return pushErr.Kind
	}
	return classify(err)
}

// IsConflict reports whether a push lost a compare-and-swap race. The caller
// should refresh and decide whether to push again.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// IsExpired reports whether the credential must be renewed.
func IsExpired(err error) bool {
	return KindOf(err) == KindExpired
}

// IsPathConflict reports whether a requested path could not be written.
func IsPathConflict(err error) bool {
	return KindOf(err) == KindPathConflict
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
