package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/matsen/atomicpush/internal/push"
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputHuman writes a human-readable string to stdout.
func outputHuman(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error         string    `json:"error"`
	Kind          push.Kind `json:"kind,omitempty"`
	State         string    `json:"state,omitempty"`
	Paths         []string  `json:"paths,omitempty"`
	NotCommitted  []string  `json:"not_committed,omitempty"`
	Indeterminate bool      `json:"indeterminate,omitempty"`
}

// exitCodeForKind maps a push failure kind to an exit code.
func exitCodeForKind(kind push.Kind) int {
	switch kind {
	case push.KindNotConnected, push.KindExpired:
		return ExitAuthError
	case push.KindConflict:
		return ExitConflict
	case push.KindPartialBlobFailure:
		return ExitPartialBlobs
	case push.KindPathConflict:
		return ExitPathConflict
	case push.KindRefNotFound:
		return ExitRefNotFound
	case push.KindNetwork:
		return ExitNetworkError
	}
	return ExitError
}

// hintForKind suggests what to do next after a failed push.
func hintForKind(kind push.Kind) string {
	switch kind {
	case push.KindNotConnected:
		return "Set a token for the remote (token, token_env or APUSH_TOKEN)."
	case push.KindExpired:
		return "The token was rejected. Reconnect and push again."
	case push.KindConflict:
		return "Someone else changed the branch. Refresh and push again."
	case push.KindRefNotFound:
		return "Check the branch name and remote."
	case push.KindPartialBlobFailure, push.KindNetwork:
		return "Nothing was committed. It is safe to push again."
	}
	return ""
}

// hintForError is hintForKind with advice specific to the failed paths.
func hintForError(err error) string {
	if push.IsPathConflict(err) {
		return "A file and a directory cannot share a path. Rename or drop the listed path."
	}
	return hintForKind(push.KindOf(err))
}

// errorResponse builds the JSON error for any error from push or the store.
func errorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), Kind: push.KindOf(err)}
	var pushErr *push.Error
	if errors.As(err, &pushErr) {
		resp.State = pushErr.State.String()
		resp.Paths = pushErr.Paths
		resp.NotCommitted = pushErr.NotCommitted
		resp.Indeterminate = pushErr.Indeterminate
	}
	return resp
}

// exitWithPushError reports a push or store failure and exits with the code for its kind.
func exitWithPushError(err error) {
	resp := errorResponse(err)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.Error)
		if len(resp.Paths) > 0 {
			fmt.Fprintf(os.Stderr, "  paths: %s\n", strings.Join(resp.Paths, ", "))
		}
		if len(resp.NotCommitted) > 0 {
			fmt.Fprintf(os.Stderr, "  not committed: %s\n", strings.Join(resp.NotCommitted, ", "))
		}
		if resp.Indeterminate {
			fmt.Fprintln(os.Stderr, "  the branch may or may not have moved; check it before pushing again")
		}
		if hint := hintForError(err); hint != "" {
			fmt.Fprintf(os.Stderr, "\n%s\n", hint)
		}
	} else {
		outputJSON(resp)
	}
	os.Exit(exitCodeForKind(resp.Kind))
}
