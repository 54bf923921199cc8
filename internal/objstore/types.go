// Package objstore defines the content-addressed object model and a client for
// the remote object-store protocol.
package objstore

import (
	"context"
	"time"
)

// Hash is an opaque object identifier. Git-compatible stores use 40-hex SHA-1.
type Hash string

// String returns the hash as a string.
func (h Hash) String() string { return string(h) }

// IsZero reports whether the hash is empty.
func (h Hash) IsZero() bool { return h == "" }

// Short returns an abbreviated hash for display.
func (h Hash) Short() string {
	if len(h) > 7 {
		return string(h[:7])
	}
	return string(h)
}

// Mode is a Git file mode in its octal text form.
type Mode string

// File modes.
const (
	ModeRegular    Mode = "100644"
	ModeExecutable Mode = "100755"
	ModeSymlink    Mode = "120000"
	ModeTree       Mode = "040000"
	ModeSubmodule  Mode = "160000"
)

// ObjectType is the kind of object a tree entry points at.
type ObjectType string

// Object types.
const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

// TreeEntry is one row of a tree listing. Paths are slash-separated and relative
// to the root of the tree being listed.
type TreeEntry struct {
	Path string     `json:"path"`
	Mode Mode       `json:"mode"`
	Type ObjectType `json:"type"`
	Hash Hash       `json:"hash"`
}

// IsDir reports whether the entry is a directory.
func (e TreeEntry) IsDir() bool {
	return e.Type == TypeTree || e.Mode == ModeTree
}

// Signature identifies the author of a commit.
type Signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	When  time.Time `json:"when"`
}

// Commit is an immutable commit object.
type Commit struct {
	Hash    Hash      `json:"hash"`
	Tree    Hash      `json:"tree_hash"`
	Parents []Hash    `json:"parent_hashes"`
	Message string    `json:"message"`
	Author  Signature `json:"author"`
}

// NewCommit describes a commit to be created.
type NewCommit struct {
	Tree    Hash      `json:"tree_hash"`
	Parents []Hash    `json:"parent_hashes"`
	Message string    `json:"message"`
	Author  Signature `json:"author"`
}

// Ref is a named, mutable pointer to a commit.
type Ref struct {
	Name string `json:"name"`
	Hash Hash   `json:"hash"`
}

// Store is the object-store contract consumed by the push pipeline.
//
// Create operations are idempotent by content: creating the same content twice
// returns the same hash. Nothing is ever deleted through this interface; objects
// that end up unreferenced are left for the store's garbage collection.
type Store interface {
	// ReadRef returns the commit a ref points at, or ErrRefNotFound.
	ReadRef(ctx context.Context, name string) (Hash, error)
	// ReadCommit returns a commit, or ErrNotFound.
	ReadCommit(ctx context.Context, hash Hash) (*Commit, error)
	// ReadTree returns the recursive listing of a tree with full paths.
	ReadTree(ctx context.Context, hash Hash) ([]TreeEntry, error)
	// ReadBlob returns the content of a blob.
	ReadBlob(ctx context.Context, hash Hash) (string, error)

	// CreateBlob stores content and returns its hash.
	CreateBlob(ctx context.Context, content string) (Hash, error)
	// CreateTree stores a tree made of base overridden by entries.
	// An empty base creates a tree from entries alone.
	CreateTree(ctx context.Context, base Hash, entries []TreeEntry) (Hash, error)
	// CreateCommit stores a commit and returns its hash.
	CreateCommit(ctx context.Context, c NewCommit) (Hash, error)

	// UpdateRef moves name from expectedOld to newHash, or returns ErrConflict
	// when the ref no longer points at expectedOld.
	UpdateRef(ctx context.Context, name string, expectedOld, newHash Hash) error
}
