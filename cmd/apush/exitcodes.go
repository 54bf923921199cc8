package main

// Exit codes
const (
	ExitSuccess      = 0 // Success
	ExitError        = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError  = 2 // Configuration error (no remote, invalid workspace)
	ExitAuthError    = 3 // Missing, rejected or expired credential
	ExitConflict     = 4 // The branch moved during the push; refresh and retry
	ExitPartialBlobs = 5 // Some blobs could not be written after retries
	ExitPathConflict = 6 // A path is invalid or collides with a file or directory
	ExitRefNotFound  = 7 // The target branch does not exist
	ExitNetworkError = 8 // Network failure, timeout or server error
)
