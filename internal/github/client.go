// Package github implements the object store on top of the GitHub Git Data API.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/matsen/atomicpush/internal/credential"
	"github.com/matsen/atomicpush/internal/objstore"
)

const (
	// DefaultBaseURL is the public GitHub API.
	DefaultBaseURL = "https://api.github.com"

	// DefaultRateLimit stays well under GitHub's secondary rate limits for
	// content creation.
	DefaultRateLimit = 5.0

	maxErrorBody = 64 * 1024
)

// Errors.
var (
	ErrInvalidURL    = errors.New("invalid GitHub URL format")
	ErrTruncatedTree = errors.New("GitHub returned a truncated tree")
)

// Client is an objstore.Store for one GitHub repository.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	creds      *credential.Accessor
	baseURL    string
	owner      string
	repo       string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithCredentials sets the accessor used to authenticate every request.
func WithCredentials(acc *credential.Accessor) Option {
	return func(c *Client) {
		c.creds = acc
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the request rate in requests per second. Zero or less disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewClient creates a client for owner/repo.
func NewClient(owner, repo string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: objstore.DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		baseURL:    DefaultBaseURL,
		owner:      owner,
		repo:       repo,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// urlPatterns for parsing GitHub URLs.
var (
	// Matches: https://github.com/owner/repo, https://github.com/owner/repo.git, github.com/owner/repo
	fullURLPattern = regexp.MustCompile(`^(?:https?://)?github\.com/([a-zA-Z0-9_.-]+)/([a-zA-Z0-9_.-]+?)(?:\.git)?$`)
	// Matches: owner/repo
	shorthandPattern = regexp.MustCompile(`^([a-zA-Z0-9_.-]+)/([a-zA-Z0-9_.-]+)$`)
)

// ParseGitHubURL parses a GitHub URL or owner/repo shorthand and returns (owner, repo).
// Supported formats:
//   - https://github.com/owner/repo
//   - https://github.com/owner/repo.git
//   - github.com/owner/repo
//   - owner/repo
func ParseGitHubURL(input string) (owner, repo string, err error) {
	input = strings.TrimSpace(input)

	if matches := fullURLPattern.FindStringSubmatch(input); matches != nil {
		return matches[1], matches[2], nil
	}
	if matches := shorthandPattern.FindStringSubmatch(input); matches != nil {
		return matches[1], matches[2], nil
	}

	return "", "", ErrInvalidURL
}

// NormalizeGitHubURL normalizes a GitHub URL input to the canonical https form.
func NormalizeGitHubURL(input string) (string, error) {
	owner, repo, err := ParseGitHubURL(input)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://github.com/%s/%s", owner, repo), nil
}

// errorBody is GitHub's error response.
type errorBody struct {
	Message string `json:"message"`
}

// checkHTTPErrors maps a GitHub error response to an objstore error.
func checkHTTPErrors(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var body errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", credential.ErrExpired, body.Message)
	case http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return fmt.Errorf("%w: %s", objstore.ErrRateLimited, body.Message)
		}
		return fmt.Errorf("%w: %s", objstore.ErrForbidden, body.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", objstore.ErrRateLimited, body.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", objstore.ErrNotFound, body.Message)
	}

	return &objstore.APIError{StatusCode: resp.StatusCode, Message: body.Message}
}

// do sends a JSON request to the repository API and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var tokenHeader string
	if c.creds != nil {
		tok, err := c.creds.Credential()
		if err != nil {
			return err
		}
		tokenHeader = "Bearer " + tok.AccessToken
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	apiURL := fmt.Sprintf("%s/repos/%s/%s/git%s", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo), path)
	req, err := http.NewRequestWithContext(ctx, method, apiURL, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", objstore.DefaultUserAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tokenHeader != "" {
		req.Header.Set("Authorization", tokenHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", objstore.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := checkHTTPErrors(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: decoding response: %v", objstore.ErrInvalidResponse, err)
	}
	return nil
}

// qualifyRef turns a branch name into the ref path GitHub expects.
// "main" becomes "heads/main"; "refs/tags/v1" becomes "tags/v1".
func qualifyRef(name string) string {
	name = strings.TrimPrefix(name, "refs/")
	if strings.HasPrefix(name, "heads/") || strings.HasPrefix(name, "tags/") {
		return name
	}
	return "heads/" + name
}

func refPath(name string) string {
	parts := strings.Split(qualifyRef(name), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// ReadRef returns the commit the ref points at.
func (c *Client) ReadRef(ctx context.Context, name string) (objstore.Hash, error) {
	var ref refResponse
	if err := c.do(ctx, http.MethodGet, "/ref/"+refPath(name), nil, &ref); err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", objstore.ErrRefNotFound, name)
		}
		return "", err
	}
	if ref.Object.SHA == "" {
		return "", fmt.Errorf("%w: ref %s has no target", objstore.ErrInvalidResponse, name)
	}
	return ref.Object.SHA, nil
}

// ReadCommit fetches a commit.
func (c *Client) ReadCommit(ctx context.Context, hash objstore.Hash) (*objstore.Commit, error) {
	var commit commitObject
	if err := c.do(ctx, http.MethodGet, "/commits/"+url.PathEscape(hash.String()), nil, &commit); err != nil {
		return nil, err
	}
	if commit.Tree.SHA == "" {
		return nil, fmt.Errorf("%w: commit %s has no tree", objstore.ErrInvalidResponse, hash)
	}
	return commit.toCommit(), nil
}

// ReadTree fetches the recursive listing of a tree. A truncated listing is an
// error: without every path, file/directory collisions cannot be detected.
func (c *Client) ReadTree(ctx context.Context, hash objstore.Hash) ([]objstore.TreeEntry, error) {
	var tree treeResponse
	if err := c.do(ctx, http.MethodGet, "/trees/"+url.PathEscape(hash.String())+"?recursive=1", nil, &tree); err != nil {
		return nil, err
	}
	if tree.Truncated {
		return nil, fmt.Errorf("%w: %s", ErrTruncatedTree, hash)
	}
	entries := make([]objstore.TreeEntry, len(tree.Tree))
	for i, e := range tree.Tree {
		entries[i] = objstore.TreeEntry{Path: e.Path, Mode: e.Mode, Type: e.Type, Hash: e.SHA}
	}
	return entries, nil
}

// ReadBlob fetches the content of a blob.
func (c *Client) ReadBlob(ctx context.Context, hash objstore.Hash) (string, error) {
	var blob blobObject
	if err := c.do(ctx, http.MethodGet, "/blobs/"+url.PathEscape(hash.String()), nil, &blob); err != nil {
		return "", err
	}
	switch blob.Encoding {
	case "base64":
		data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(blob.Content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("%w: decoding blob %s: %v", objstore.ErrInvalidResponse, hash, err)
		}
		return string(data), nil
	case "utf-8", "":
		return blob.Content, nil
	default:
		return "", fmt.Errorf("%w: blob %s has encoding %q", objstore.ErrInvalidResponse, hash, blob.Encoding)
	}
}

// CreateBlob stores content.
func (c *Client) CreateBlob(ctx context.Context, content string) (objstore.Hash, error) {
	var resp shaResponse
	if err := c.do(ctx, http.MethodPost, "/blobs", blobObject{Content: content, Encoding: "utf-8"}, &resp); err != nil {
		return "", err
	}
	return resp.check()
}

// CreateTree stores base overridden by entries. GitHub creates the
// intermediate trees for nested paths itself.
func (c *Client) CreateTree(ctx context.Context, base objstore.Hash, entries []objstore.TreeEntry) (objstore.Hash, error) {
	req := createTreeRequest{BaseTree: base, Tree: make([]treeEntry, len(entries))}
	for i, e := range entries {
		if e.IsDir() {
			return "", &objstore.PathConflictError{Path: e.Path, Reason: "tree entries must be files"}
		}
		mode, typ := e.Mode, e.Type
		if mode == "" {
			mode = objstore.ModeRegular
		}
		if typ == "" {
			typ = objstore.TypeBlob
		}
		req.Tree[i] = treeEntry{Path: e.Path, Mode: mode, Type: typ, SHA: e.Hash}
	}

	var resp shaResponse
	if err := c.do(ctx, http.MethodPost, "/trees", req, &resp); err != nil {
		return "", err
	}
	return resp.check()
}

// CreateCommit stores a commit. The author is also the committer.
func (c *Client) CreateCommit(ctx context.Context, nc objstore.NewCommit) (objstore.Hash, error) {
	sig := signature{Name: nc.Author.Name, Email: nc.Author.Email, Date: nc.Author.When.UTC().Format(time.RFC3339)}
	req := createCommitRequest{
		Message:   nc.Message,
		Tree:      nc.Tree,
		Parents:   nc.Parents,
		Author:    sig,
		Committer: sig,
	}
	if req.Parents == nil {
		req.Parents = []objstore.Hash{}
	}

	var resp shaResponse
	if err := c.do(ctx, http.MethodPost, "/commits", req, &resp); err != nil {
		return "", err
	}
	return resp.check()
}

// UpdateRef moves the ref from expectedOld to newHash.
//
// GitHub has no compare-and-swap on refs. The ref is read first and must be at
// expectedOld; the update itself is sent with force=false, so GitHub rejects it
// unless newHash descends from the current tip. A new commit whose parent is
// expectedOld therefore only lands if nobody moved the ref forward in between.
//
// This is weaker than a true compare-and-swap. If another writer rewinds or
// force-moves the ref, between the read and the PATCH, to an ancestor of
// expectedOld, newHash still fast-forwards from it and the update is accepted,
// silently discarding the commits between that ancestor and expectedOld.
func (c *Client) UpdateRef(ctx context.Context, name string, expectedOld, newHash objstore.Hash) error {
	current, err := c.ReadRef(ctx, name)
	if err != nil {
		return err
	}
	if current != expectedOld {
		return fmt.Errorf("%w: %s is at %s, expected %s", objstore.ErrConflict, name, current.Short(), expectedOld.Short())
	}

	err = c.do(ctx, http.MethodPatch, "/refs/"+refPath(name), updateRefRequest{SHA: newHash, Force: false}, nil)
	var apiErr *objstore.APIError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, objstore.ErrNotFound):
		return fmt.Errorf("%w: %s", objstore.ErrRefNotFound, name)
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(apiErr.Message), "fast forward"):
		return fmt.Errorf("%w: %s", objstore.ErrConflict, apiErr.Message)
	}
	return err
}

var _ objstore.Store = (*Client)(nil)
