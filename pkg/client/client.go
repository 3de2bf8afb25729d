// Package client is the JSON/multipart request client used by queries and
// mutations. It resolves paths against a base URL, attaches session
// headers, and turns non-2xx responses into *APIError values.
package client

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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/pkg/session"
)

// DefaultTimeout bounds every request unless Config.Timeout says otherwise.
const DefaultTimeout = 30 * time.Second

// Header names the backend reads.
const (
	HeaderAuthorization  = "Authorization"
	HeaderOrganizationID = "X-Organization-ID"
	HeaderIfMatch        = "If-Match"
	HeaderETag           = "ETag"
)

// ErrBaseURL is returned by New when the base URL is missing or invalid.
var ErrBaseURL = errors.New("client: invalid base URL")

// Config holds connection settings.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Headers   map[string]string
	UserAgent string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying *http.Client. Its Timeout is kept as
// configured by the caller.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIdentity sets the identity used when a request context carries none.
func WithIdentity(id session.Identity) Option {
	return func(c *Client) {
		c.identity = &id
	}
}

// Client performs requests against one backend.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	logger     *zap.Logger
	identity   *session.Identity

	mu      sync.RWMutex
	headers map[string]string
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrBaseURL)
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBaseURL, raw)
	}
	base.Path = strings.TrimRight(base.Path, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		logger:     zap.NewNop(),
		headers: map[string]string{
			"Accept": "application/json",
		},
	}
	if ua := strings.TrimSpace(cfg.UserAgent); ua != "" {
		c.headers["User-Agent"] = ua
	}
	for k, v := range cfg.Headers {
		c.headers[k] = v
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Request describes one call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	// Body is encoded as JSON unless it is an io.Reader, which is sent as is
	// with the Content-Type from Headers.
	Body any
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	ETag       string
	Duration   time.Duration
}

// Decode unmarshals the body into out. Empty bodies are ignored.
func (r *Response) Decode(out any) error {
	if r == nil || out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

// Do executes req. Transport failures are wrapped with the method and path;
// non-2xx statuses return the response together with an *APIError. There is
// no automatic retry.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := ""
	switch typed := req.Body.(type) {
	case nil:
	case io.Reader:
		body = typed
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, fmt.Errorf("client: encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	c.setHeaders(ctx, httpReq, req.Headers)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("client: request failed",
			zap.String("method", method),
			zap.String("path", req.Path),
			zap.Error(err))
		return nil, &TransportError{Method: method, Path: req.Path, Err: err}
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, Path: req.Path, Err: fmt.Errorf("read response body: %w", err)}
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       payload,
		ETag:       httpResp.Header.Get(HeaderETag),
		Duration:   time.Since(start),
	}

	c.logger.Debug("client: request",
		zap.String("method", method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", resp.Duration))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, newAPIError(method, req.Path, resp.StatusCode, payload)
	}
	return resp, nil
}

// Get reads path into out.
func (c *Client) Get(ctx context.Context, path string, out any) (*Response, error) {
	return c.send(ctx, http.MethodGet, path, nil, out)
}

// Post creates a resource.
func (c *Client) Post(ctx context.Context, path string, body, out any) (*Response, error) {
	return c.send(ctx, http.MethodPost, path, body, out)
}

// Put replaces a resource.
func (c *Client) Put(ctx context.Context, path string, body, out any) (*Response, error) {
	return c.send(ctx, http.MethodPut, path, body, out)
}

// Patch partially updates a resource.
func (c *Client) Patch(ctx context.Context, path string, body, out any) (*Response, error) {
	return c.send(ctx, http.MethodPatch, path, body, out)
}

// Delete removes a resource.
func (c *Client) Delete(ctx context.Context, path string, out any) (*Response, error) {
	return c.send(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) (*Response, error) {
	resp, err := c.Do(ctx, Request{Method: method, Path: path, Body: body})
	if err != nil {
		return resp, err
	}
	return resp, resp.Decode(out)
}

// SetHeader sets a default header for later requests.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
}

// BaseURL returns the resolved base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) buildURL(path string, query url.Values) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("client: parse path %q: %w", path, err)
	}
	if parsed.IsAbs() {
		return nil, fmt.Errorf("client: path %q must be relative to the base URL", path)
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(parsed.Path, "/")
	q := parsed.Query()
	for key, values := range query {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return &u, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, custom map[string]string) {
	c.mu.RLock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.mu.RUnlock()

	id, ok := session.FromContext(ctx)
	if !ok && c.identity != nil {
		id, ok = *c.identity, true
	}
	if ok {
		if token := strings.TrimSpace(id.Token); token != "" {
			req.Header.Set(HeaderAuthorization, "Bearer "+token)
		}
		if org := strings.TrimSpace(id.OrganizationID); org != "" {
			req.Header.Set(HeaderOrganizationID, org)
		}
	}
	if etag, ok := ifMatchFromContext(ctx); ok {
		req.Header.Set(HeaderIfMatch, etag)
	}

	for k, v := range custom {
		req.Header.Set(k, v)
	}
}
