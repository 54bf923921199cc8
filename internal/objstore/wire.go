package objstore

import "fmt"

// Wire types shared by the HTTP client and the reference server.

// ErrorBody is the JSON error document returned by the store.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Path  string `json:"path,omitempty"`
}

// Error codes used in ErrorBody.Code.
const (
	CodeNotFound     = "not_found"
	CodeRefNotFound  = "ref_not_found"
	CodeConflict     = "conflict"
	CodePathConflict = "path_conflict"
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal"
)

// HashResponse is returned by every create call.
type HashResponse struct {
	Hash Hash `json:"hash"`
}

// Check returns the hash or ErrInvalidResponse if it is missing.
func (r HashResponse) Check() (Hash, error) {
	if r.Hash.IsZero() {
		return "", fmt.Errorf("%w: missing hash", ErrInvalidResponse)
	}
	return r.Hash, nil
}

// TreeResponse is the body of GET /trees/{hash}.
type TreeResponse struct {
	Hash    Hash        `json:"hash"`
	Entries []TreeEntry `json:"entries"`
}

// BlobBody is the body of GET /blobs/{hash} and POST /blobs.
type BlobBody struct {
	Hash    Hash   `json:"hash,omitempty"`
	Content string `json:"content"`
}

// CreateTreeRequest is the body of POST /trees.
type CreateTreeRequest struct {
	BaseTree Hash        `json:"base_tree_hash,omitempty"`
	Entries  []TreeEntry `json:"entries"`
}

// UpdateRefRequest is the body of PATCH /refs/{name}.
type UpdateRefRequest struct {
	ExpectedOld Hash `json:"expected_old_hash"`
	New         Hash `json:"new_hash"`
}
