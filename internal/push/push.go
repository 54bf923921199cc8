// Package push publishes a set of files as a single commit on a remote
// content-addressed store.
//
// A push reads the branch tip, uploads blobs in parallel, composes a tree on top
// of the tip's tree, creates a commit and finally compare-and-swaps the branch.
// Nothing is visible until the last step, so a failed or cancelled push leaves
// the branch untouched. Objects created before a failure are left behind for
// the store to collect.
package push

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/matsen/atomicpush/internal/credential"
	"github.com/matsen/atomicpush/internal/objstore"
	"github.com/matsen/atomicpush/internal/tree"
)

// Defaults for a Pusher.
const (
	DefaultWorkers     = 4
	DefaultMaxAttempts = 3
	DefaultCallTimeout = 30 * time.Second
	DefaultBackoff     = 500 * time.Millisecond
)

// Request is one unit of work: files keyed by slash-separated path, the ref to
// move, and the commit message.
type Request struct {
	Files   map[string]string
	Ref     string
	Message string
}

// Result describes a successful push.
type Result struct {
	Ref          string        `json:"ref"`
	CommitHash   objstore.Hash `json:"commit"`
	ParentHash   objstore.Hash `json:"parent"`
	TreeHash     objstore.Hash `json:"tree"`
	PathsWritten []string      `json:"paths_written"`
	Excluded     []string      `json:"excluded,omitempty"`
	Uploaded     int           `json:"blobs_uploaded"`
	// Unchanged is set when every file already matched the tip; no commit was
	// created and the ref was not touched.
	Unchanged bool `json:"unchanged,omitempty"`
}

// Option configures a Pusher.
type Option func(*Pusher)

// WithCredentials checks the credential before anything is read, so a missing
// or expired session fails without a network call.
func WithCredentials(a *credential.Accessor) Option {
	return func(p *Pusher) {
		p.creds = a
	}
}

// WithWorkers bounds the number of concurrent blob uploads.
func WithWorkers(n int) Option {
	return func(p *Pusher) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithMaxAttempts sets how many times a transient failure is tried.
func WithMaxAttempts(n int) Option {
	return func(p *Pusher) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithCallTimeout sets the timeout applied to each store call.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pusher) {
		if d > 0 {
			p.callTimeout = d
		}
	}
}

// WithBackoff sets the delay before the first retry; it doubles each round.
func WithBackoff(d time.Duration) Option {
	return func(p *Pusher) {
		p.backoff = d
	}
}

// WithExclude drops matching paths from every request.
func WithExclude(f *Filter) Option {
	return func(p *Pusher) {
		p.exclude = f
	}
}

// WithAuthor sets the commit author. Its timestamp is ignored.
func WithAuthor(name, email string) Option {
	return func(p *Pusher) {
		p.author = objstore.Signature{Name: name, Email: email}
	}
}

// WithClock overrides time.Now for commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pusher) {
		p.now = now
	}
}

// WithObserver registers fn to be called on every state transition.
func WithObserver(fn func(State)) Option {
	return func(p *Pusher) {
		p.observe = fn
	}
}

// Pusher runs pushes against one store. It holds no per-push state and may be
// used concurrently.
type Pusher struct {
	store       objstore.Store
	creds       *credential.Accessor
	workers     int
	maxAttempts int
	callTimeout time.Duration
	backoff     time.Duration
	exclude     *Filter
	author      objstore.Signature
	now         func() time.Time
	observe     func(State)
}

// New creates a Pusher for store.
func New(store objstore.Store, opts ...Option) *Pusher {
	p := &Pusher{
		store:       store,
		workers:     DefaultWorkers,
		maxAttempts: DefaultMaxAttempts,
		callTimeout: DefaultCallTimeout,
		backoff:     DefaultBackoff,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run tracks the state of one push.
type run struct {
	p     *Pusher
	state State
	paths []string
}

func (r *run) enter(s State) {
	r.state = s
	if r.p.observe != nil {
		r.p.observe(s)
	}
}

// fail records the failure and wraps err into an *Error.
func (r *run) fail(ctx context.Context, err error) error {
	failedIn := r.state
	r.enter(StateFailed)

	kind := classify(err)
	if ctx.Err() != nil && kind == KindNetwork {
		kind = KindCanceled
	}
	indeterminate := errors.Is(err, ErrIndeterminate)
	notCommitted := r.paths
	if notCommitted == nil || indeterminate {
		notCommitted = []string{}
	}
	return &Error{
		State:         failedIn,
		Kind:          kind,
		Paths:         offendingPaths(err),
		NotCommitted:  notCommitted,
		Indeterminate: indeterminate,
		Err:           err,
	}
}

// Push publishes req.Files as one commit on req.Ref. On success every
// requested path (minus excluded ones) is in the tip's tree. On failure the
// ref has not moved, and the returned *Error says where and why.
func (p *Pusher) Push(ctx context.Context, req Request) (*Result, error) {
	r := &run{p: p, paths: sortedPaths(req.Files)}
	r.enter(StateIdle)

	files, excluded := p.exclude.Split(req.Files)
	if err := validate(req, files); err != nil {
		return nil, r.fail(ctx, err)
	}

	r.enter(StateReadingRef)
	if p.creds != nil {
		if _, err := p.creds.Credential(); err != nil {
			return nil, r.fail(ctx, err)
		}
	}
	parent, baseTree, base, err := p.readTip(ctx, req.Ref)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	// Skip uploading content that is already at the same path in the tip.
	known := make(map[string]objstore.Hash)
	baseByPath := make(map[string]objstore.TreeEntry, len(base))
	for _, e := range base {
		baseByPath[e.Path] = e
	}
	for path, content := range files {
		if e, ok := baseByPath[path]; ok && !e.IsDir() {
			if h := objstore.BlobHash(content); h == e.Hash {
				known[path] = h
			}
		}
	}

	r.enter(StateWritingBlobs)
	hashes, uploaded, err := p.writeBlobs(ctx, files, known)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	r.enter(StateComposingTree)
	blobs := make([]objstore.TreeEntry, 0, len(hashes))
	for path, h := range hashes {
		mode := objstore.ModeRegular
		if e, ok := baseByPath[path]; ok && e.Type == objstore.TypeBlob {
			mode = e.Mode
		}
		blobs = append(blobs, objstore.TreeEntry{Path: path, Mode: mode, Type: objstore.TypeBlob, Hash: h})
	}
	comp, err := tree.Compose(base, blobs)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	written := make([]string, 0, len(files))
	for path := range files {
		written = append(written, path)
	}
	sort.Strings(written)

	result := &Result{
		Ref:          req.Ref,
		ParentHash:   parent,
		PathsWritten: written,
		Excluded:     excluded,
		Uploaded:     uploaded,
	}

	if len(comp.Changed) == 0 {
		r.enter(StateDone)
		result.CommitHash = parent
		result.TreeHash = baseTree
		result.Unchanged = true
		return result, nil
	}

	newTree, err := p.createTree(ctx, baseTree, comp.Changed)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	result.TreeHash = newTree

	r.enter(StateWritingCommit)
	commit, err := p.assembleCommit(ctx, newTree, parent, req.Message, p.signature())
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	result.CommitHash = commit

	r.enter(StateUpdatingRef)
	if err := p.updateRef(ctx, req.Ref, parent, commit); err != nil {
		return nil, r.fail(ctx, err)
	}

	r.enter(StateDone)
	return result, nil
}

// readTip returns the commit a ref points at, its tree and the tree's listing.
func (p *Pusher) readTip(ctx context.Context, ref string) (objstore.Hash, objstore.Hash, []objstore.TreeEntry, error) {
	var tip objstore.Hash
	err := p.retry(ctx, func(cctx context.Context) error {
		var err error
		tip, err = p.store.ReadRef(cctx, ref)
		return err
	})
	if err != nil {
		return "", "", nil, fmt.Errorf("reading ref %s: %w", ref, err)
	}

	var commit *objstore.Commit
	err = p.retry(ctx, func(cctx context.Context) error {
		var err error
		commit, err = p.store.ReadCommit(cctx, tip)
		return err
	})
	if err != nil {
		return "", "", nil, fmt.Errorf("reading commit %s: %w", tip.Short(), err)
	}

	var entries []objstore.TreeEntry
	err = p.retry(ctx, func(cctx context.Context) error {
		var err error
		entries, err = p.store.ReadTree(cctx, commit.Tree)
		return err
	})
	if err != nil {
		return "", "", nil, fmt.Errorf("reading tree %s: %w", commit.Tree.Short(), err)
	}

	return tip, commit.Tree, entries, nil
}

func (p *Pusher) createTree(ctx context.Context, base objstore.Hash, changed []objstore.TreeEntry) (objstore.Hash, error) {
	var hash objstore.Hash
	err := p.retry(ctx, func(cctx context.Context) error {
		var err error
		hash, err = p.store.CreateTree(cctx, base, changed)
		return err
	})
	return hash, err
}

// validate rejects requests that could never be committed.
func validate(req Request, files map[string]string) error {
	switch {
	case req.Ref == "":
		return fmt.Errorf("%w: no target ref", ErrInvalidRequest)
	case req.Message == "":
		return fmt.Errorf("%w: empty commit message", ErrInvalidRequest)
	case len(req.Files) == 0:
		return fmt.Errorf("%w: no files", ErrInvalidRequest)
	case len(files) == 0:
		return fmt.Errorf("%w: every file is excluded", ErrInvalidRequest)
	}
	for _, path := range sortedPaths(files) {
		if err := tree.ValidatePath(path); err != nil {
			return err
		}
	}
	return nil
}
