// Package fetch reads query keys from the upstream REST API.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pawsitivecheck/querycache/types"
)

// MaxBodySize bounds upstream response bodies.
const MaxBodySize = 10 << 20

// ErrUnauthorized is returned when the upstream answers 401.
var ErrUnauthorized = errors.New("upstream: unauthorized")

// StatusError is returned for non-2xx upstream answers other than 401.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, body)
}

// Retryable reports whether a failed Get is worth retrying: 5xx, 429 and
// transport errors are, cancellation and other statuses are not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrUnauthorized) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Options configures a Client.
type Options struct {
	// BaseURL is the upstream origin, e.g. "http://localhost:5000".
	BaseURL string

	// Timeout bounds each request when HTTPClient is nil.
	Timeout time.Duration

	// Header is sent with every request, e.g. a service credential.
	Header http.Header

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Client talks to the upstream REST API.
type Client struct {
	baseURL string
	header  http.Header
	client  *http.Client
}

// NewClient returns a Client for opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("invalid upstream base URL %q", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: base, header: opts.Header.Clone(), client: hc}, nil
}

// URL returns the upstream URL for key.
func (c *Client) URL(key types.QueryKey) string {
	path := key.Path()
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Get fetches key and returns the JSON body.
func (c *Client) Get(ctx context.Context, key types.QueryKey) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.applyHeader(req.Header)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key.Path(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key.Path(), err)
	}
	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("get %s: response is not JSON", key.Path())
	}
	return json.RawMessage(body), nil
}

// Fetch adapts Get to the cache fetcher signature.
func (c *Client) Fetch(ctx context.Context, key types.QueryKey) (any, error) {
	return c.Get(ctx, key)
}

// Response is a relayed upstream answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forward sends a request to path (including any query string) and returns
// the upstream answer whatever its status.
func (c *Client) Forward(ctx context.Context, method, path string, header http.Header, body io.Reader) (*Response, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for name, values := range header {
		if hopByHop[http.CanonicalHeaderKey(name)] {
			continue
		}
		req.Header[name] = append([]string(nil), values...)
	}
	c.applyHeader(req.Header)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) applyHeader(h http.Header) {
	for name, values := range c.header {
		h[name] = append([]string(nil), values...)
	}
}

func checkStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return &StatusError{StatusCode: status, Body: body}
	}
}

var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
	"Content-Length":      true,
}
