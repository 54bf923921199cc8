package push

import (
	"context"
	"time"

	"github.com/matsen/atomicpush/internal/objstore"
)

// call runs one store operation under its own timeout derived from ctx.
func (p *Pusher) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return fn(cctx)
}

// retryable reports whether err is worth another attempt. Nothing is retried
// once the caller's context is done.
func (p *Pusher) retryable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && objstore.IsTransient(err)
}

// retry runs fn until it succeeds, fails permanently, or maxAttempts is reached.
// Only safe for reads and content-addressed creates.
func (p *Pusher) retry(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := p.call(ctx, fn)
		if err == nil || !p.retryable(ctx, err) || attempt >= p.maxAttempts {
			return err
		}
		if err := p.sleep(ctx, attempt); err != nil {
			return err
		}
	}
}

// sleep waits before retry round attempt+1, doubling the delay each round.
func (p *Pusher) sleep(ctx context.Context, attempt int) error {
	d := p.backoff << (attempt - 1)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
