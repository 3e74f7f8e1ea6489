// Package metadata reads the per-instance metadata service that every
// droplet can reach on a link-local address. The service requires no
// authentication and is only reachable from the instance itself.
package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the link-local metadata endpoint.
const DefaultBaseURL = "http://169.254.169.254"

// Client reads instance metadata.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the metadata endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a metadata client against the link-local endpoint.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InstanceID returns this instance's own provider ID as reported by the
// metadata service: one unauthenticated GET returning plain text.
func (c *Client) InstanceID(ctx context.Context) (string, error) {
	return c.get(ctx, "/metadata/v1/id")
}

// Region returns the region the instance was provisioned in.
func (c *Client) Region(ctx context.Context) (string, error) {
	return c.get(ctx, "/metadata/v1/region")
}

func (c *Client) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("metadata request %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata read %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata read %s: unexpected status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("metadata read %s: %w", path, err)
	}

	return strings.TrimSpace(string(body)), nil
}
