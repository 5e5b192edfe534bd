// Package httpclient is the authenticated transport to the OIC REST API. It
// attaches bearer tokens, retries transient failures and classifies responses.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/oic-target/internal/auth"
	"github.com/stacklok/oic-target/internal/telemetry"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	// DefaultUserAgent is the user agent string for HTTP requests
	DefaultUserAgent = "target-oic/1.0"

	// DefaultArchiveField is the multipart field carrying archive bytes
	DefaultArchiveField = "file"
)

// Request is one call to the OIC API
type Request struct {
	Method string
	// Path is appended to the base URL and must already be escaped
	Path string
	// Body is JSON-encoded when non-nil
	Body any
	// Archive turns the request into a multipart upload; Body is ignored
	Archive *Archive
	Header  http.Header
}

// Archive is a binary artifact sent as multipart/form-data
type Archive struct {
	FieldName string
	FileName  string
	Content   []byte
	// Fields are extra form fields sent before the file part
	Fields map[string]string
}

// Response is a 2xx response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Client sends authenticated requests to the OIC API.
// Non-2xx responses are returned as *HTTPError, transport failures as
// *ConnectionError and token failures as *auth.AuthenticationError.
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/stacklok/oic-target/internal/httpclient Client
type Client interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(dc *DefaultClient) {
		dc.client = c
	}
}

// WithRetryPolicy sets the retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(dc *DefaultClient) {
		dc.retry = p
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(dc *DefaultClient) {
		dc.userAgent = ua
	}
}

// WithMetrics counts every attempt
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(dc *DefaultClient) {
		dc.metrics = m
	}
}

// DefaultClient is the default Client implementation
type DefaultClient struct {
	baseURL   string
	client    *http.Client
	auth      auth.Authenticator
	retry     RetryPolicy
	userAgent string
	metrics   *telemetry.SyncMetrics
}

var _ Client = (*DefaultClient)(nil)

// NewDefaultClient creates a client for the OIC instance at baseURL
func NewDefaultClient(baseURL string, authenticator auth.Authenticator, opts ...Option) (*DefaultClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	c := &DefaultClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: DefaultTimeout},
		auth:      authenticator,
		retry:     DefaultRetryPolicy(),
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewTransport returns a transport sharing at most maxConns connections per
// host. Requests beyond that wait for a free connection.
func NewTransport(maxConns int) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if maxConns > 0 {
		t.MaxConnsPerHost = maxConns
		t.MaxIdleConnsPerHost = maxConns
	}
	return t
}

// Do sends req, retrying 429/5xx and transport failures per the retry policy
func (c *DefaultClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.baseURL + req.Path

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	resp, err := backoff.Retry(ctx, func() (*Response, error) {
		resp, err := c.attempt(ctx, method, target, body, contentType, req.Header)
		if err == nil {
			return resp, nil
		}
		if IsRetryable(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(c.retry.newBackOff()),
		backoff.WithMaxTries(c.retry.maxTries()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Retrying OIC request", "method", method, "url", target, "delay", next, "error", err)
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return nil, err
	}
	return resp, nil
}

// attempt sends once, and on 401 refreshes the token and sends exactly once more
func (c *DefaultClient) attempt(
	ctx context.Context, method, target string, body []byte, contentType string, header http.Header,
) (*Response, error) {
	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, method, target, body, contentType, header, token)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Kind != KindUnauthorized {
		return resp, err
	}

	slog.Info("OIC rejected access token, refreshing", "method", method, "url", target)
	c.auth.Invalidate(token)
	token, err = c.auth.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err = c.send(ctx, method, target, body, contentType, header, token)
	if errors.As(err, &httpErr) && httpErr.Kind == KindUnauthorized {
		return nil, &auth.AuthenticationError{StatusCode: httpErr.StatusCode, Body: httpErr.Message, Err: err}
	}
	return resp, err
}

func (c *DefaultClient) send(
	ctx context.Context, method, target string, body []byte, contentType string, header http.Header, token string,
) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordRequest(ctx, method, 0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ConnectionError{Method: method, URL: target, Timeout: isTimeout(err), Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.metrics.RecordRequest(ctx, method, resp.StatusCode)

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize)
	}

	// +1 to detect if limit exceeded
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, &ConnectionError{Method: method, URL: target, Timeout: isTimeout(err), Err: err}
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewHTTPError(resp.StatusCode, method, target, auth.Excerpt(data))
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func encodeBody(req *Request) ([]byte, string, error) {
	if req.Archive != nil {
		return req.Archive.encode()
	}
	if req.Body == nil {
		return nil, "", nil
	}
	data, err := json.Marshal(req.Body)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func (a *Archive) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := w.WriteField(k, a.Fields[k]); err != nil {
			return nil, "", err
		}
	}

	field := a.FieldName
	if field == "" {
		field = DefaultArchiveField
	}
	part, err := w.CreateFormFile(field, a.FileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(a.Content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
