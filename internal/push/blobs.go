package push

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/matsen/atomicpush/internal/objstore"
)

// writeBlobs uploads every file not listed in known and returns the hash of
// every file. Uploads run on a bounded pool; transient failures are collected
// and only the failed subset is retried in the next round. A non-transient
// failure (for example an expired credential) cancels the in-flight uploads
// and is returned as-is. If some paths still fail after maxAttempts rounds the
// result is a *BlobFailureError and nothing else is written.
func (p *Pusher) writeBlobs(ctx context.Context, files map[string]string, known map[string]objstore.Hash) (map[string]objstore.Hash, int, error) {
	hashes := make(map[string]objstore.Hash, len(files))
	var pending []string
	for path := range files {
		if h, ok := known[path]; ok {
			hashes[path] = h
			continue
		}
		pending = append(pending, path)
	}
	sort.Strings(pending)
	uploaded := len(pending)

	for attempt := 1; len(pending) > 0; attempt++ {
		failed, err := p.blobRound(ctx, pending, files, hashes)
		if err != nil {
			return nil, 0, err
		}
		if len(failed) == 0 {
			break
		}
		if attempt >= p.maxAttempts {
			return nil, 0, &BlobFailureError{Failed: keys(failed), Causes: failed}
		}
		if err := p.sleep(ctx, attempt); err != nil {
			return nil, 0, err
		}
		pending = keys(failed)
	}

	return hashes, uploaded, nil
}

// blobRound uploads paths once and returns the transient failures by path.
func (p *Pusher) blobRound(ctx context.Context, paths []string, files map[string]string, hashes map[string]objstore.Hash) (map[string]error, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	var mu sync.Mutex
	failed := make(map[string]error)

	for _, path := range paths {
		if gctx.Err() != nil {
			break
		}
		content := files[path]
		g.Go(func() error {
			var h objstore.Hash
			err := p.call(gctx, func(cctx context.Context) error {
				var err error
				h, err = p.store.CreateBlob(cctx, content)
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				hashes[path] = h
				return nil
			case p.retryable(gctx, err):
				failed[path] = err
				return nil
			default:
				return fmt.Errorf("writing blob for %s: %w", path, err)
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The loop may have stopped early on cancellation without any goroutine failing.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return failed, nil
}

func keys(m map[string]error) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
