// Package httpds is the HTTP client behind API sources. It sends one request
// per call (there is no retry), optionally paced by a rate limiter, and can
// skip TLS verification for endpoints with self-signed certificates.
package httpds

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout is the per-request timeout when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// maxErrorBody bounds the response excerpt carried by a StatusError.
const maxErrorBody = 512

// Config configures the HTTP client.
type Config struct {
	// Timeout is the per-request timeout applied at the http.Client level.
	Timeout time.Duration

	// RequestsPerSecond paces requests; 0 disables pacing.
	RequestsPerSecond float64

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// BaseHeaders are headers added to every request. Callers can supply
	// additional headers per request; those take precedence.
	BaseHeaders http.Header

	// Transport is an optional custom RoundTripper. When nil, a default
	// *http.Transport is constructed based on the TLS settings.
	Transport http.RoundTripper
}

// Client wraps an http.Client with pacing and base headers.
type Client struct {
	httpClient  *http.Client
	baseHeaders http.Header
	limiter     *rate.Limiter
}

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpds: %s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// NewClient constructs a Client from Config, applying defaults for zero values.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
			},
		}
	}

	hdr := http.Header{}
	for k, vs := range cfg.BaseHeaders {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseHeaders: hdr,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// Do sends one request and returns the response whatever its status. The
// caller must close the response body.
func (c *Client) Do(ctx context.Context, method, rawURL string, body []byte, headers http.Header) (*http.Response, error) {
	if method == "" {
		return nil, fmt.Errorf("httpds: method must not be empty")
	}
	if rawURL == "" {
		return nil, fmt.Errorf("httpds: url must not be empty")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("httpds: rate limit: %w", err)
		}
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return nil, fmt.Errorf("httpds: build request: %w", err)
	}

	// Base headers first, then per-request headers (which override).
	for k, vs := range c.baseHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpds: %s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

// Fetch sends one request and returns the response body. A status outside
// 2xx is a *StatusError.
func (c *Client) Fetch(ctx context.Context, method, rawURL string, body []byte, headers http.Header) ([]byte, error) {
	resp, err := c.Do(ctx, method, rawURL, body, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpds: read %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := strings.TrimSpace(string(data))
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		return nil, &StatusError{Method: method, URL: rawURL, Code: resp.StatusCode, Body: excerpt}
	}
	return data, nil
}

// Get is a convenience wrapper over Fetch for HTTP GET.
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header) ([]byte, error) {
	return c.Fetch(ctx, http.MethodGet, rawURL, nil, headers)
}

// PostForm posts form values and returns the response body.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, headers http.Header) ([]byte, error) {
	h := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
	for k, vs := range headers {
		h[k] = vs
	}
	return c.Fetch(ctx, http.MethodPost, rawURL, []byte(form.Encode()), h)
}
