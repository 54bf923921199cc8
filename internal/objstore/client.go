package objstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/matsen/atomicpush/internal/credential"
)

const (
	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default number of requests per second.
	DefaultRateLimit = 10.0

	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "atomicpush-cli"

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 * 1024
)

// Client is a rate-limited HTTP client for the object-store protocol.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	creds      *credential.Accessor
	baseURL    string
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCredentials sets the accessor used to authenticate every request.
func WithCredentials(acc *credential.Accessor) ClientOption {
	return func(c *Client) {
		c.creds = acc
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the request rate in requests per second. Zero or less disables limiting.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for the store at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  DefaultUserAgent,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// checkHTTPErrors maps a non-success response to an error.
func checkHTTPErrors(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var body ErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			body.Error = strings.TrimSpace(string(data))
		}
	}
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: status %d", credential.ErrExpired, resp.StatusCode)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, body.Error)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound && body.Code == CodeRefNotFound:
		return fmt.Errorf("%w: %s", ErrRefNotFound, body.Error)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, body.Error)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, body.Error)
	case resp.StatusCode == http.StatusUnprocessableEntity && body.Code == CodePathConflict:
		return &PathConflictError{Path: body.Path, Reason: body.Error}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       body.Code,
		Message:    body.Error,
	}
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var tokenHeader string
	if c.creds != nil {
		tok, err := c.creds.Credential()
		if err != nil {
			return err
		}
		tokenHeader = tok.Type() + " " + tok.AccessToken
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

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tokenHeader != "" {
		req.Header.Set("Authorization", tokenHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Preserve caller cancellation and per-call deadlines so they are
		// classified correctly upstream.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
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
		return fmt.Errorf("%w: decoding response: %v", ErrInvalidResponse, err)
	}
	return nil
}

// refPath escapes each segment of a ref name, keeping the slashes.
func refPath(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/refs/" + strings.Join(parts, "/")
}

// ReadRef returns the commit the ref points at.
func (c *Client) ReadRef(ctx context.Context, name string) (Hash, error) {
	var ref Ref
	if err := c.do(ctx, http.MethodGet, refPath(name), nil, &ref); err != nil {
		// A bare 404 on a ref URL means the ref is missing.
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrRefNotFound, name)
		}
		return "", err
	}
	if ref.Hash.IsZero() {
		return "", fmt.Errorf("%w: ref %s has no target", ErrInvalidResponse, name)
	}
	return ref.Hash, nil
}

// ReadCommit fetches a commit.
func (c *Client) ReadCommit(ctx context.Context, hash Hash) (*Commit, error) {
	var commit Commit
	if err := c.do(ctx, http.MethodGet, "/commits/"+url.PathEscape(hash.String()), nil, &commit); err != nil {
		return nil, err
	}
	if commit.Tree.IsZero() {
		return nil, fmt.Errorf("%w: commit %s has no tree", ErrInvalidResponse, hash)
	}
	return &commit, nil
}

// ReadTree fetches the recursive listing of a tree.
func (c *Client) ReadTree(ctx context.Context, hash Hash) ([]TreeEntry, error) {
	var tree TreeResponse
	if err := c.do(ctx, http.MethodGet, "/trees/"+url.PathEscape(hash.String()), nil, &tree); err != nil {
		return nil, err
	}
	return tree.Entries, nil
}

// ReadBlob fetches the content of a blob.
func (c *Client) ReadBlob(ctx context.Context, hash Hash) (string, error) {
	var blob BlobBody
	if err := c.do(ctx, http.MethodGet, "/blobs/"+url.PathEscape(hash.String()), nil, &blob); err != nil {
		return "", err
	}
	return blob.Content, nil
}

// CreateBlob stores content.
func (c *Client) CreateBlob(ctx context.Context, content string) (Hash, error) {
	var resp HashResponse
	if err := c.do(ctx, http.MethodPost, "/blobs", BlobBody{Content: content}, &resp); err != nil {
		return "", err
	}
	return resp.Check()
}

// CreateTree stores base overridden by entries.
func (c *Client) CreateTree(ctx context.Context, base Hash, entries []TreeEntry) (Hash, error) {
	if entries == nil {
		entries = []TreeEntry{}
	}
	var resp HashResponse
	if err := c.do(ctx, http.MethodPost, "/trees", CreateTreeRequest{BaseTree: base, Entries: entries}, &resp); err != nil {
		return "", err
	}
	return resp.Check()
}

// CreateCommit stores a commit.
func (c *Client) CreateCommit(ctx context.Context, nc NewCommit) (Hash, error) {
	var resp HashResponse
	if err := c.do(ctx, http.MethodPost, "/commits", nc, &resp); err != nil {
		return "", err
	}
	return resp.Check()
}

// UpdateRef compare-and-swaps the ref from expectedOld to newHash.
func (c *Client) UpdateRef(ctx context.Context, name string, expectedOld, newHash Hash) error {
	req := UpdateRefRequest{ExpectedOld: expectedOld, New: newHash}
	if err := c.do(ctx, http.MethodPatch, refPath(name), req, nil); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRefNotFound, name)
		}
		return err
	}
	return nil
}

var _ Store = (*Client)(nil)
