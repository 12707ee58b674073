// Package client talks to the intake lease API over HTTP on behalf of one
// holder. Every call is bounded by the configured request timeout, and
// error responses are mapped back to lease sentinels and submission
// validation errors so callers can use errors.Is / errors.As exactly as they
// would against the in-process manager.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"intake/internal/api"
	"intake/internal/config"
	"intake/internal/submission"
)

// ErrAPIUnavailable reports that the daemon could not be reached.
var ErrAPIUnavailable = errors.New("lease API unavailable")

// Client is a holder-bound HTTP client for the lease API.
type Client struct {
	base    *url.URL
	holder  string
	token   string
	timeout time.Duration
	http    *http.Client
}

// New builds a client for the server at baseURL acting as holder. A zero
// timeout means no per-call deadline beyond the caller's context.
func New(baseURL, holder, token string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("server url is required")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{
		base:    base,
		holder:  strings.TrimSpace(holder),
		token:   token,
		timeout: timeout,
		http:    &http.Client{},
	}, nil
}

// NewFromConfig builds a client from the [operator] and [lease] sections.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	return New(cfg.Operator.ServerURL, cfg.Operator.Holder, cfg.Paths.APIToken, cfg.RequestTimeout())
}

// Holder returns the identity this client acts as.
func (c *Client) Holder() string { return c.holder }

// Sessions lists session names in order of first appearance.
func (c *Client) Sessions(ctx context.Context) ([]string, error) {
	var resp api.SessionListResponse
	if err := c.call(ctx, http.MethodGet, "/api/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Status reports occupancy for session.
func (c *Client) Status(ctx context.Context, session string) (api.SessionStatus, error) {
	var resp api.SessionStatus
	err := c.call(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(session)+"/status", nil, &resp)
	return resp, err
}

// AcquireNext leases the next item in session.
func (c *Client) AcquireNext(ctx context.Context, session string) (*api.Item, error) {
	var resp api.ItemResponse
	if err := c.call(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(session)+"/next", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

// Renew extends the lease on id.
func (c *Client) Renew(ctx context.Context, id int64) (api.Renewal, error) {
	var resp api.Renewal
	err := c.call(ctx, http.MethodPost, itemPath(id, "renew"), nil, &resp)
	return resp, err
}

// Release drops the lease on id. Releasing an item this holder does not
// lease succeeds.
func (c *Client) Release(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodPost, itemPath(id, "release"), nil, nil)
}

// Skip releases id and sends it behind never-skipped items.
func (c *Client) Skip(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodPost, itemPath(id, "skip"), nil, nil)
}

// Submit commits payload for id.
func (c *Client) Submit(ctx context.Context, id int64, payload submission.Payload) (*api.Item, error) {
	var resp api.ItemResponse
	if err := c.call(ctx, http.MethodPost, itemPath(id, "submit"), payload, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

// UpdateURL changes the source URL of a leased item.
func (c *Client) UpdateURL(ctx context.Context, id int64, rawURL string) (*api.Item, error) {
	var resp api.ItemResponse
	if err := c.call(ctx, http.MethodPatch, itemPath(id, "url"), api.UpdateURLRequest{URL: rawURL}, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

// Item fetches id.
func (c *Client) Item(ctx context.Context, id int64) (*api.Item, error) {
	var resp api.ItemResponse
	if err := c.call(ctx, http.MethodGet, itemPath(id, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

// Assets lists the images stored for id.
func (c *Client) Assets(ctx context.Context, id int64) ([]api.Asset, error) {
	var resp api.AssetListResponse
	if err := c.call(ctx, http.MethodGet, itemPath(id, "assets"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assets, nil
}

// Health fetches daemon diagnostics. A degraded daemon answers 503 with a
// body; that body is returned alongside the error.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.call(ctx, http.MethodGet, "/api/health", nil, &resp)
	return resp, err
}

func itemPath(id int64, action string) string {
	p := "/api/items/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

// endpoint resolves an already-escaped path against the server URL.
func (c *Client) endpoint(path string, query url.Values) string {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	ref.RawQuery = query.Encode()
	return c.base.ResolveReference(ref).String()
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, nil), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.holder != "" {
		req.Header.Set("X-Holder-ID", c.holder)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, wrapTransport(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var decoded api.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if len(data) > 0 {
			_ = json.Unmarshal(data, &decoded)
			if out != nil && resp.StatusCode == http.StatusServiceUnavailable {
				_ = json.Unmarshal(data, out)
			}
		}
		return remoteError(method, path, resp.StatusCode, decoded)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func wrapTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrAPIUnavailable, err)
	}
	return err
}

// IsAPIUnavailable reports whether err means the daemon could not be reached.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}
