package push

import (
	"context"
	"time"

	"github.com/matsen/atomicpush/internal/objstore"
)

// DefaultAuthor signs commits when no author is configured.
var DefaultAuthor = objstore.Signature{Name: "atomicpush", Email: "atomicpush@localhost"}

// signature returns the author for one push. The timestamp is taken once, so
// every attempt at creating the commit hashes identically.
func (p *Pusher) signature() objstore.Signature {
	sig := p.author
	if sig.Name == "" {
		sig.Name = DefaultAuthor.Name
	}
	if sig.Email == "" {
		sig.Email = DefaultAuthor.Email
	}
	sig.When = p.now().UTC().Truncate(time.Second)
	return sig
}

// assembleCommit creates a single-parent commit. Retrying it after a transient
// failure is safe: identical input yields the identical commit.
func (p *Pusher) assembleCommit(ctx context.Context, treeHash, parent objstore.Hash, message string, author objstore.Signature) (objstore.Hash, error) {
	nc := objstore.NewCommit{
		Tree:    treeHash,
		Parents: []objstore.Hash{parent},
		Message: message,
		Author:  author,
	}

	var hash objstore.Hash
	err := p.retry(ctx, func(cctx context.Context) error {
		var err error
		hash, err = p.store.CreateCommit(cctx, nc)
		return err
	})
	return hash, err
}
