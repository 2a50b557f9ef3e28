// Package client is the HTTP adapter every conformance check talks through.
//
// A Client never turns an HTTP status into an error: 4xx and 5xx responses
// come back as ordinary Responses for the caller to assert on. Only a
// network failure or a timeout produces an error, always a *TransportError.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/wondertwin-ai/apiconform/internal/jsonutil"
)

// DefaultTimeout bounds a request that sets no timeout of its own.
const DefaultTimeout = 5 * time.Second

// Request describes one HTTP call. Path is joined to the client's base URL
// unless it is already absolute.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Query   map[string]string
	// Body is sent as JSON unless it is []byte, string or url.Values.
	Body    any
	Timeout time.Duration
}

// Response is the result of a completed HTTP exchange, whatever its status.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
	// JSON holds the decoded body, or nil when the body is not JSON.
	JSON    any
	Latency time.Duration
}

// Object returns the body as a JSON object, or nil.
func (r *Response) Object() map[string]any {
	return jsonutil.Object(r.JSON)
}

// Field looks up a top-level key of a JSON object body.
func (r *Response) Field(key string) (any, bool) {
	obj := r.Object()
	if obj == nil {
		return nil, false
	}
	v, ok := obj[key]
	return v, ok
}

// Header returns the first value of a response header.
func (r *Response) Header(name string) string {
	return r.Headers.Get(name)
}

// TransportError reports that no HTTP response was obtained.
type TransportError struct {
	Method  string
	URL     string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: timed out: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client sends Requests against a base URL.
type Client struct {
	baseURL string
	timeout time.Duration
	headers map[string]string
	http    *req.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for per-request debug lines.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(name, value string) Option {
	return func(c *Client) {
		c.headers[name] = value
	}
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q: missing host", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
		headers: map[string]string{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Timeouts are applied per request through the context.
	c.http = req.C().
		SetTimeout(0).
		SetCommonRetryCount(0).
		SetJsonMarshal(jsonutil.Marshal).
		SetJsonUnmarshal(jsonutil.Unmarshal)
	if len(c.headers) > 0 {
		c.http.SetCommonHeaders(c.headers)
	}
	return c, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path == "" {
		return c.baseURL
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Do performs r. The error is non-nil only when no response was received,
// and is then a *TransportError.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	target := c.URL(r.Path)

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rq := c.http.R().SetContext(ctx)
	if len(r.Headers) > 0 {
		rq.SetHeaders(r.Headers)
	}
	if len(r.Query) > 0 {
		rq.SetQueryParams(r.Query)
	}
	switch body := r.Body.(type) {
	case nil:
	case []byte:
		rq.SetBodyBytes(body)
		if _, ok := r.Headers["Content-Type"]; !ok {
			rq.SetContentType("application/json")
		}
	case string:
		rq.SetBodyString(body)
	case url.Values:
		rq.SetFormDataFromValues(body)
	default:
		rq.SetBodyJsonMarshal(body)
	}

	start := time.Now()
	resp, err := rq.Send(method, target)
	latency := time.Since(start)

	if err != nil {
		te := &TransportError{
			Method:  method,
			URL:     target,
			Timeout: isTimeout(err),
			Err:     err,
		}
		c.logger.Debug("request failed", "method", method, "url", target, "latency", latency, "timeout", te.Timeout, "error", err)
		return nil, te
	}

	body := resp.Bytes()
	out := &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    body,
		Latency: latency,
	}
	if len(body) > 0 {
		if doc, err := jsonutil.Decode(body); err == nil {
			out.JSON = doc
		}
	}

	c.logger.Debug("request", "method", method, "url", target, "status", out.Status, "latency", latency)
	return out, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Headers: headers})
}

// Post issues a POST request with a body.
func (c *Client) Post(ctx context.Context, path string, body any, headers map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body, Headers: headers})
}

// Put issues a PUT request with a body.
func (c *Client) Put(ctx context.Context, path string, body any, headers map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body, Headers: headers})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path, Headers: headers})
}

// Options issues an OPTIONS request.
func (c *Client) Options(ctx context.Context, path string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodOptions, Path: path, Headers: headers})
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
