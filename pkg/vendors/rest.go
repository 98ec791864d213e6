package vendors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/howtoharden/hth/pkg/resource"
	"github.com/howtoharden/hth/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds a single vendor request.
const DefaultTimeout = 30 * time.Second

// maxBody caps how much of a response is buffered.
const maxBody = 32 << 20

// Client is the JSON-over-HTTP handle shared by the REST vendors.
// It is safe for concurrent use once built.
type Client struct {
	Vendor  string
	BaseURL string
	HTTP    *http.Client
	Header  http.Header
	Logger  *slog.Logger
	Tracer  trace.Tracer

	// RateLimitDefault is the retry hint used when a 429 has no Retry-After.
	RateLimitDefault time.Duration

	classify func(*Response) error
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client (mTLS, oauth2 transports, tests).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.HTTP = h
		}
	}
}

// WithHeader adds a static header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.Header.Set(key, value)
	}
}

// WithBearer sets an Authorization: Bearer header.
func WithBearer(token string) ClientOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithTimeout sets the per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.HTTP.Timeout = d
		}
	}
}

// WithClassifier lets a vendor intercept responses before the default
// status mapping. Returning nil defers to the default.
func WithClassifier(fn func(*Response) error) ClientOption {
	return func(c *Client) {
		c.classify = fn
	}
}

// WithRateLimitDefault sets the retry hint for a bare 429.
func WithRateLimitDefault(d time.Duration) ClientOption {
	return func(c *Client) {
		c.RateLimitDefault = d
	}
}

// NewClient builds a Client for vendor rooted at baseURL.
func NewClient(vendorSlug, baseURL string, opts ...ClientOption) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("%s: invalid base url %q", vendorSlug, baseURL)
	}
	c := &Client{
		Vendor:  vendorSlug,
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		Header:  http.Header{},
		Logger:  slog.Default(),
		Tracer:  otel.Tracer("hth/vendor"),
	}
	c.Header.Set("User-Agent", version.UserAgent())
	c.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request describes one call relative to the client's base URL.
type Request struct {
	Method string
	// Path is appended to the base URL; it may carry its own query string.
	// Absolute http(s) URLs are used as-is.
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

// Response is a fully buffered vendor response.
type Response struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Resolve builds the absolute URL for path and query.
func (c *Client) Resolve(path string, query url.Values) (string, error) {
	raw := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		raw = c.BaseURL + "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%s: invalid request path %q: %w", c.Vendor, path, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Do executes req. Transport failures become TransientError; status codes
// are mapped by the vendor classifier and then by Classify.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := c.Resolve(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	ctx, span := c.Tracer.Start(ctx, "vendor.request", trace.WithAttributes(
		attribute.String("vendor", c.Vendor),
		attribute.String("http.method", method),
		attribute.String("http.path", req.Path),
	))
	defer span.End()

	var body io.Reader
	if req.Body != nil {
		switch b := req.Body.(type) {
		case []byte:
			body = bytes.NewReader(b)
		case string:
			body = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("%s: encode request body: %w", c.Vendor, err)
			}
			body = bytes.NewReader(data)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.Vendor, err)
	}
	for k, vs := range c.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if terr := tokenError(c.Vendor, err); terr != nil {
			return nil, terr
		}
		return nil, &TransientError{Vendor: c.Vendor, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &TransientError{Vendor: c.Vendor, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	out := &Response{
		Method:     method,
		URL:        target,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.Logger.Debug("vendor request", "vendor", c.Vendor, "method", method, "path", req.Path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if c.classify != nil {
		if err := c.classify(out); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return out, err
		}
	}
	if err := Classify(c.Vendor, method, target, resp.StatusCode, resp.Header, data, c.RateLimitDefault); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	return out, nil
}

// GetJSON issues a GET and decodes the body into out. Decode failures are
// reported as resource.DataShapeError for kind.
func (c *Client) GetJSON(ctx context.Context, kind resource.Kind, path string, query url.Values, out any) (*Response, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return resp, err
	}
	if err := resp.Decode(c.Vendor, kind, out); err != nil {
		return resp, err
	}
	return resp, nil
}

// Decode unmarshals the body into out.
func (r *Response) Decode(vendorSlug string, kind resource.Kind, out any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return resource.ShapeError(vendorSlug, kind, "empty response body", nil)
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return resource.ShapeError(vendorSlug, kind, "response is not the expected JSON", err)
	}
	return nil
}

// JSON decodes the body into a generic value. An empty body decodes to nil.
func (r *Response) JSON() (any, error) {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", r.URL, err)
	}
	return v, nil
}
