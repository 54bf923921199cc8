package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/matsen/atomicpush/internal/objstore"
)

// updateRef compare-and-swaps name from old to newHash.
//
// A conflict is returned as-is: the new tree is never rebased onto a moved
// tip. When the request fails without a definite answer (a transient error,
// or ctx ending while the request is in flight) it may still have been
// applied, so the ref is re-read: at newHash means success, at old means
// nothing was committed and the update can be retried, anywhere else means
// another writer won. If the ref cannot be re-read the error wraps
// ErrIndeterminate.
func (p *Pusher) updateRef(ctx context.Context, name string, old, newHash objstore.Hash) error {
	for attempt := 1; ; attempt++ {
		err := p.call(ctx, func(cctx context.Context) error {
			return p.store.UpdateRef(cctx, name, old, newHash)
		})
		if err == nil || !outcomeUnknown(err) {
			return err
		}

		current, verr := p.verifyRef(ctx, name)
		if verr != nil {
			return fmt.Errorf("%w: %v (re-reading ref: %v)", ErrIndeterminate, err, verr)
		}

		switch current {
		case newHash:
			return nil
		case old:
			if !p.retryable(ctx, err) || attempt >= p.maxAttempts {
				return err
			}
			if err := p.sleep(ctx, attempt); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s moved to %s", objstore.ErrConflict, name, current.Short())
		}
	}
}

// outcomeUnknown reports whether a failed UpdateRef may still have been
// applied by the store.
func outcomeUnknown(err error) bool {
	return objstore.IsTransient(err) || errors.Is(err, context.Canceled)
}

// verifyRef re-reads a ref after an update with an unknown outcome. It still
// runs once ctx is done, as a single read bounded by the call timeout.
func (p *Pusher) verifyRef(ctx context.Context, name string) (objstore.Hash, error) {
	var current objstore.Hash
	read := func(cctx context.Context) error {
		var err error
		current, err = p.store.ReadRef(cctx, name)
		return err
	}

	var err error
	if ctx.Err() != nil {
		err = p.call(context.WithoutCancel(ctx), read)
	} else {
		err = p.retry(ctx, read)
	}
	return current, err
}
