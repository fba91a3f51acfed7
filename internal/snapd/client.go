// internal/snapd/client.go
// Package snapd provides a client for the snapd REST API and the Refresher backend built on it.
// snapd listens on a unix socket; requests are plain HTTP with a JSON envelope.
package snapd

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
	"time"
)

// DefaultSocket is where snapd listens on a standard install.
const DefaultSocket = "/run/snapd.socket"

// Client for interacting with the snapd daemon.
type Client struct {
	base string       // Base URL; "http://localhost" when talking over the socket
	hc   *http.Client // HTTP client, dialing the socket when configured for one
}

// ErrNotFound is returned when snapd reports that a snap or section does not exist.
var ErrNotFound = errors.New("snap not found")

// Error is a snapd error response.
type Error struct {
	StatusCode int    // HTTP status reported in the envelope
	Kind       string // snapd error kind, e.g. "snap-not-found"
	Message    string // Human readable message
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("snapd: %s (%s)", e.Message, e.Kind)
	}
	return fmt.Sprintf("snapd: %s", e.Message)
}

// Is lets errors.Is match ErrNotFound for not-found kinds.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && (e.Kind == "snap-not-found" || e.Kind == "snap-not-installed" || e.Kind == "section-not-found")
}

// New creates a client that talks to snapd over the unix socket at socketPath.
func New(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultSocket
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	// No client timeout: cancellation comes from the request context
	return &Client{
		base: "http://localhost",
		hc:   &http.Client{Transport: transport},
	}
}

// NewWithBaseURL creates a client for a snapd-compatible endpoint reachable over TCP.
func NewWithBaseURL(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: baseURL, hc: hc}
}

// envelope is the common snapd response wrapper.
type envelope struct {
	Type       string          `json:"type"`        // "sync", "async" or "error"
	StatusCode int             `json:"status-code"` // HTTP status
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result"`
	Change     string          `json:"change,omitempty"` // Change id for async responses
}

type errorResult struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// do performs a request and decodes the envelope, turning error envelopes into *Error.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, fmt.Errorf("invalid snapd base URL: %w", err)
	}
	u = u.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("snapd request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode snapd response (%s): %w", resp.Status, err)
	}

	if env.Type == "error" || resp.StatusCode >= 400 {
		var er errorResult
		_ = json.Unmarshal(env.Result, &er)
		if er.Message == "" {
			er.Message = resp.Status
		}
		return nil, &Error{StatusCode: resp.StatusCode, Kind: er.Kind, Message: er.Message}
	}

	return &env, nil
}

// Find searches the store.
// Exactly one of name (exact match) or section should be set; query may carry a free-text search.
func (c *Client) Find(ctx context.Context, opts FindOptions) ([]Snap, error) {
	q := url.Values{}
	switch {
	case opts.Name != "":
		q.Set("name", opts.Name)
	case opts.Section != "":
		q.Set("section", opts.Section)
	case opts.Query != "":
		q.Set("q", opts.Query)
	default:
		return nil, fmt.Errorf("find requires a name, section or query")
	}

	env, err := c.do(ctx, http.MethodGet, "/v2/find", q, nil)
	if err != nil {
		return nil, err
	}

	var snaps []Snap
	if err := json.Unmarshal(env.Result, &snaps); err != nil {
		return nil, fmt.Errorf("failed to decode find result: %w", err)
	}
	return snaps, nil
}

// FindOptions selects what Find searches for.
type FindOptions struct {
	Name    string // Exact snap name
	Section string // Store section
	Query   string // Free-text query
}

// ListInstalled returns the snaps installed on this machine.
func (c *Client) ListInstalled(ctx context.Context) ([]Snap, error) {
	env, err := c.do(ctx, http.MethodGet, "/v2/snaps", nil, nil)
	if err != nil {
		return nil, err
	}
	var snaps []Snap
	if err := json.Unmarshal(env.Result, &snaps); err != nil {
		return nil, fmt.Errorf("failed to decode installed snaps: %w", err)
	}
	return snaps, nil
}

// Sections returns the names of the store sections.
func (c *Client) Sections(ctx context.Context) ([]string, error) {
	env, err := c.do(ctx, http.MethodGet, "/v2/sections", nil, nil)
	if err != nil {
		return nil, err
	}
	var sections []string
	if err := json.Unmarshal(env.Result, &sections); err != nil {
		return nil, fmt.Errorf("failed to decode sections: %w", err)
	}
	return sections, nil
}

type snapAction struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}

// Install asks snapd to install a snap and returns the change id tracking it.
func (c *Client) Install(ctx context.Context, name, channel string) (string, error) {
	return c.action(ctx, name, snapAction{Action: "install", Channel: channel})
}

// Remove asks snapd to remove a snap and returns the change id tracking it.
func (c *Client) Remove(ctx context.Context, name string) (string, error) {
	return c.action(ctx, name, snapAction{Action: "remove"})
}

func (c *Client) action(ctx context.Context, name string, a snapAction) (string, error) {
	if name == "" {
		return "", fmt.Errorf("snap name is required")
	}
	env, err := c.do(ctx, http.MethodPost, "/v2/snaps/"+name, nil, a)
	if err != nil {
		return "", err
	}
	if env.Type != "async" || env.Change == "" {
		return "", fmt.Errorf("snapd returned %q response without a change id", env.Type)
	}
	return env.Change, nil
}
