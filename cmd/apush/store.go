package main

import (
	"fmt"
	"time"

	"github.com/matsen/atomicpush/internal/config"
	"github.com/matsen/atomicpush/internal/credential"
	"github.com/matsen/atomicpush/internal/github"
	"github.com/matsen/atomicpush/internal/objstore"
)

// credentialsFor returns the accessor for a remote's token. A store remote
// without a token talks to an unauthenticated server and gets none; GitHub
// always needs one.
func credentialsFor(remote config.Remote) *credential.Accessor {
	token := remote.ResolveToken()
	if token == "" && remote.DialectOrDefault() == config.DialectStore {
		return nil
	}
	return credential.NewAccessor(credential.Static(token, time.Time{}))
}

// newStore builds the store client for a resolved target.
func newStore(target *config.Target, settings config.PushSettings) (objstore.Store, error) {
	remote := target.Remote
	creds := credentialsFor(remote)

	switch remote.DialectOrDefault() {
	case config.DialectStore:
		var opts []objstore.ClientOption
		if creds != nil {
			opts = append(opts, objstore.WithCredentials(creds))
		}
		if settings.RateLimit != 0 {
			opts = append(opts, objstore.WithRateLimit(settings.RateLimit))
		}
		return objstore.NewClient(remote.URL, opts...), nil

	case config.DialectGitHub:
		owner, repo, err := github.ParseGitHubURL(remote.Repo)
		if err != nil {
			return nil, err
		}
		opts := []github.Option{github.WithCredentials(creds)}
		if remote.URL != "" {
			opts = append(opts, github.WithBaseURL(remote.URL))
		}
		if settings.RateLimit != 0 {
			opts = append(opts, github.WithRateLimit(settings.RateLimit))
		}
		return github.NewClient(owner, repo, opts...), nil
	}

	return nil, fmt.Errorf("%w: unknown dialect %q", config.ErrInvalidRemote, remote.Dialect)
}

// mustOpenStore resolves the target and opens its store, exits on error.
func mustOpenStore(o config.Overrides) (*config.Target, objstore.Store) {
	g := mustLoadGlobalConfig()
	target, _ := mustResolveTarget(g, o)
	store, err := newStore(target, g.Push)
	if err != nil {
		exitWithError(ExitConfigError, "opening remote %s: %v", target.RemoteName, err)
	}
	return target, store
}
