package objstore

import (
	"github.com/go-git/go-git/v5/plumbing"
)

// BlobHash computes the Git blob hash of content without contacting the store.
// It matches the hash a Git-compatible store assigns, so it can be used to skip
// uploading content that the base tree already holds.
func BlobHash(content string) Hash {
	return Hash(plumbing.ComputeHash(plumbing.BlobObject, []byte(content)).String())
}
