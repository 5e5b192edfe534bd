// Package auth obtains and caches OAuth2 bearer tokens for the OIC REST API
// using the client-credentials grant.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/oic-target/internal/telemetry"
)

const (
	// DefaultExpiryBuffer is how long before expiry a token is renewed
	DefaultExpiryBuffer = 5 * time.Minute

	// DefaultLifetime is assumed when the endpoint reports no lifetime
	DefaultLifetime = time.Hour

	// DefaultTimeout bounds one token request
	DefaultTimeout = 30 * time.Second

	refreshKey = "token"
)

// Authenticator supplies bearer tokens to API clients. Implementations must
// be safe for concurrent use.
//
//go:generate mockgen -destination=mocks/mock_authenticator.go -package=mocks github.com/stacklok/oic-target/internal/auth Authenticator
type Authenticator interface {
	// Token returns a cached token, refreshing it when it is inside the renewal buffer
	Token(ctx context.Context) (*Token, error)
	// AccessToken is Token(ctx).AccessToken
	AccessToken(ctx context.Context) (string, error)
	// Invalidate drops the cached token if it is still accessToken
	Invalidate(accessToken string)
}

// Credentials identify the OAuth2 client. Immutable for a run.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scope        string
}

// Token is a bearer token and its renewal deadline
type Token struct {
	AccessToken string
	TokenType   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	// RenewAt is ExpiresAt minus the renewal buffer
	RenewAt time.Time
}

// Valid reports whether the token may still be used at now
func (t *Token) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Before(t.RenewAt)
}

// Option configures a ClientCredentials authenticator
type Option func(*ClientCredentials)

// WithExpiryBuffer sets the renewal margin
func WithExpiryBuffer(d time.Duration) Option {
	return func(a *ClientCredentials) {
		a.buffer = d
	}
}

// WithDefaultLifetime sets the lifetime assumed when none is reported
func WithDefaultLifetime(d time.Duration) Option {
	return func(a *ClientCredentials) {
		a.defaultLifetime = d
	}
}

// WithHTTPClient sets the client used to reach the token endpoint
func WithHTTPClient(c *http.Client) Option {
	return func(a *ClientCredentials) {
		a.httpClient = c
	}
}

// WithTimeout bounds a single token request
func WithTimeout(d time.Duration) Option {
	return func(a *ClientCredentials) {
		a.timeout = d
	}
}

// WithMetrics counts token requests
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(a *ClientCredentials) {
		a.metrics = m
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(a *ClientCredentials) {
		a.now = now
	}
}

// ClientCredentials is an Authenticator backed by the client-credentials grant.
// Concurrent callers that find the cache stale share one token request.
type ClientCredentials struct {
	cfg             clientcredentials.Config
	httpClient      *http.Client
	buffer          time.Duration
	defaultLifetime time.Duration
	timeout         time.Duration
	metrics         *telemetry.SyncMetrics
	now             func() time.Time

	mu    sync.RWMutex
	token *Token
	group singleflight.Group
}

var _ Authenticator = (*ClientCredentials)(nil)

// NewClientCredentials creates an authenticator. The client id and secret are
// sent with HTTP Basic auth.
func NewClientCredentials(creds Credentials, opts ...Option) *ClientCredentials {
	a := &ClientCredentials{
		cfg: clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient:      &http.Client{},
		buffer:          DefaultExpiryBuffer,
		defaultLifetime: DefaultLifetime,
		timeout:         DefaultTimeout,
		now:             time.Now,
	}
	if creds.Scope != "" {
		a.cfg.Scopes = strings.Fields(creds.Scope)
	}
	for _, opt := range opts {
		opt(a)
	}
	a.httpClient = withBasicAuth(a.httpClient, creds.ClientID, creds.ClientSecret)
	return a
}

// basicAuthTransport sends the client id and secret as plain Basic
// credentials. x/oauth2 form-escapes both before encoding them, which token
// endpoints that do not decode the pair reject.
type basicAuthTransport struct {
	base           http.RoundTripper
	user, password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.user, t.password)
	return t.base.RoundTrip(req)
}

func withBasicAuth(c *http.Client, user, password string) *http.Client {
	if c == nil {
		c = &http.Client{}
	}
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *c
	wrapped.Transport = &basicAuthTransport{base: base, user: user, password: password}
	return &wrapped
}

// Token implements Authenticator
func (a *ClientCredentials) Token(ctx context.Context) (*Token, error) {
	if tok := a.cached(); tok != nil {
		return tok, nil
	}

	ch := a.group.DoChan(refreshKey, func() (any, error) {
		// A refresh may have completed between the cache miss and DoChan
		if tok := a.cached(); tok != nil {
			return tok, nil
		}
		return a.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.Debug("Joined in-flight token refresh")
		}
		return res.Val.(*Token), nil
	}
}

// AccessToken implements Authenticator
func (a *ClientCredentials) AccessToken(ctx context.Context) (string, error) {
	tok, err := a.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Invalidate implements Authenticator. Many workers may report the same
// rejected token; only the first one clears the cache.
func (a *ClientCredentials) Invalidate(accessToken string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != nil && a.token.AccessToken == accessToken {
		slog.Debug("Invalidating cached access token")
		a.token = nil
	}
}

func (a *ClientCredentials) cached() *Token {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token.Valid(a.now()) {
		return a.token
	}
	return nil
}

// refresh requests a new token. It detaches from the caller's cancellation
// because other callers may be waiting on the same request.
func (a *ClientCredentials) refresh(ctx context.Context) (*Token, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	issuedAt := a.now()
	raw, err := a.cfg.Token(ctx)
	if err != nil {
		a.metrics.RecordTokenRefresh(ctx, false)
		return nil, toAuthenticationError(err)
	}
	a.metrics.RecordTokenRefresh(ctx, true)

	lifetime := a.lifetime(raw, issuedAt)
	buffer := a.buffer
	if buffer > lifetime/2 {
		buffer = lifetime / 2
	}

	tok := &Token{
		AccessToken: raw.AccessToken,
		TokenType:   raw.TokenType,
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(lifetime),
		RenewAt:     issuedAt.Add(lifetime - buffer),
	}

	a.mu.Lock()
	a.token = tok
	a.mu.Unlock()

	slog.Info("Obtained OAuth2 access token", "lifetime", lifetime, "renew_at", tok.RenewAt)
	return tok, nil
}

// lifetime prefers expires_in, then the JWT exp claim, then the default
func (a *ClientCredentials) lifetime(raw *oauth2.Token, issuedAt time.Time) time.Duration {
	if secs := expiresIn(raw); secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	// x/oauth2 converts expires_in into Expiry against the wall clock
	if !raw.Expiry.IsZero() {
		if d := time.Until(raw.Expiry); d > 0 {
			return d
		}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			if d := exp.Sub(issuedAt); d > 0 {
				return d
			}
		}
	}

	return a.defaultLifetime
}

// expiresIn reads the reported lifetime in seconds. x/oauth2 leaves
// Token.ExpiresIn empty, so the raw response field is used.
func expiresIn(raw *oauth2.Token) float64 {
	if raw.ExpiresIn > 0 {
		return float64(raw.ExpiresIn)
	}
	switch v := raw.Extra("expires_in").(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

func toAuthenticationError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		authErr := &AuthenticationError{Body: Excerpt(rErr.Body), Err: err}
		if rErr.Response != nil {
			authErr.StatusCode = rErr.Response.StatusCode
		}
		return authErr
	}
	return &AuthenticationError{Message: err.Error(), Err: err}
}
